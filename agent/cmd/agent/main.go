package main

import (
	"os"

	"github.com/spf13/cobra"

	"wg-sso-gateway/agent/internal/cli"
)

func main() {
	opts := &cli.Options{}

	root := &cobra.Command{
		Use:          "agent",
		Short:        "WireGuard SSO agent: log in through the gateway and bring tunnels up",
		SilenceUsage: true,
	}
	opts.AddFlags(root)

	root.AddCommand(
		cli.NewServeCommand(opts),
		cli.NewStatusCommand(opts),
		cli.NewConnectCommand(opts),
		cli.NewFinishCommand(opts),
		cli.NewDisconnectCommand(opts),
		cli.NewTunnelCommand(opts),
		cli.NewKeygenCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
