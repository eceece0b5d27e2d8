package wireguard

import (
	"context"

	"wg-sso-gateway/internal/wgconf"
)

// QuickTool is implemented by wgquick.Tool.
type QuickTool interface {
	Up(ctx context.Context, name string, cfg wgconf.Config) error
}

// QuickApplier rewrites the configuration file and restarts the interface
// with wg-quick.
type QuickApplier struct {
	iface string
	tool  QuickTool
}

func NewQuickApplier(iface string, tool QuickTool) *QuickApplier {
	return &QuickApplier{iface: iface, tool: tool}
}

func (a *QuickApplier) Apply(ctx context.Context, cfg wgconf.Config) error {
	return a.tool.Up(ctx, a.iface, cfg)
}
