package cli

import (
	"github.com/spf13/cobra"

	"wg-sso-gateway/agent/internal/config"
	"wg-sso-gateway/agent/internal/daemon"
)

// Options are shared by all agent commands.
type Options struct {
	Dir       string
	DaemonURL string
}

func (o *Options) AddFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.Dir, "dir", config.DefaultDir, "agent state directory")
	cmd.PersistentFlags().StringVar(&o.DaemonURL, "daemon-url", daemon.DefaultURL, "agent daemon API URL")
}

func (o *Options) daemonClient() *daemon.Client {
	return daemon.New(o.DaemonURL)
}
