package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"wg-sso-gateway/agent/internal/config"
)

func NewTunnelCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Manage tunnel definitions",
	}
	cmd.AddCommand(
		newTunnelAddCommand(opts),
		newTunnelRemoveCommand(opts),
		newTunnelListCommand(opts),
	)
	return cmd
}

func newTunnelAddCommand(opts *Options) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add or replace a tunnel definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.NewStore(opts.Dir, nil)
			if err := store.Save(config.Tunnel{Name: args[0], Endpoint: endpoint}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tunnel %s saved to %s\n", args[0], store.Path(args[0]))
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "gateway base URL")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func newTunnelRemoveCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a tunnel definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.NewStore(opts.Dir, nil).Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tunnel %s removed\n", args[0])
			return nil
		},
	}
}

func newTunnelListCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tunnel definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tunnels, err := config.NewStore(opts.Dir, nil).List()
			if err != nil {
				return err
			}
			if len(tunnels) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tunnels configured; add one with `agent tunnel add NAME --endpoint URL`")
				return nil
			}
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Name", "Endpoint"})
			for _, tun := range tunnels {
				t.AppendRow(table.Row{tun.Name, tun.Endpoint})
			}
			t.Render()
			return nil
		},
	}
}
