// Package wgquick brings WireGuard interfaces up and down through wg-quick.
package wgquick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"wg-sso-gateway/internal/command"
	"wg-sso-gateway/internal/wgconf"
)

const DefaultConfigDir = "/etc/wireguard"

// ErrToolFailed is returned when wg-quick exits unsuccessfully.
var ErrToolFailed = errors.New("wg-quick failed")

type Tool struct {
	dir    string
	runner command.Runner
	logger *slog.Logger
}

func New(dir string, runner command.Runner, logger *slog.Logger) *Tool {
	if dir == "" {
		dir = DefaultConfigDir
	}
	if runner == nil {
		runner = command.NewExecRunner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{dir: dir, runner: runner, logger: logger}
}

func (t *Tool) ConfigPath(name string) string {
	return filepath.Join(t.dir, name+".conf")
}

// Up writes the configuration for name and restarts the interface with it.
// wg-quick cannot reconfigure a running interface, so any existing one is
// taken down first.
func (t *Tool) Up(ctx context.Context, name string, cfg wgconf.Config) error {
	if name == "" {
		return errors.New("interface name is required")
	}
	path := t.ConfigPath(name)
	if err := os.MkdirAll(t.dir, 0o700); err != nil {
		return fmt.Errorf("ensure dir: %w", err)
	}
	if err := os.WriteFile(path, cfg.Render(), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	if _, err := t.runner.Run(ctx, nil, "wg-quick", "down", name); err != nil {
		t.logger.Debug("wg-quick down before up failed", "iface", name, "error", err)
	}

	t.logger.Info("bringing interface up", "iface", name, "config", path)
	if _, err := t.runner.Run(ctx, nil, "wg-quick", "up", path); err != nil {
		return fmt.Errorf("%w: %v", ErrToolFailed, err)
	}
	return nil
}

func (t *Tool) Down(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("interface name is required")
	}
	t.logger.Info("taking interface down", "iface", name)
	if _, err := t.runner.Run(ctx, nil, "wg-quick", "down", name); err != nil {
		return fmt.Errorf("%w: %v", ErrToolFailed, err)
	}
	return nil
}
