package cli

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

func NewConnectCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "connect NAME",
		Short: "Start connecting a tunnel; prints the login URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := opts.daemonClient().Connect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL to log in:\n\n  %s\n\n", resp.AuthURL)
			fmt.Fprintf(out, "The code will be shown at %s.\nThen run: agent finish <code>\n", resp.FinishURL)
			return nil
		},
	}
}

func NewFinishCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "finish CODE",
		Short: "Finish connecting with the code from the login page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.daemonClient().Finish(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s), session ends %s\n",
				text.FgGreen.Sprint("connected"),
				info.Name,
				strings.Join(info.Address, ", "),
				info.SessionEndsAt.Local().Format("2006-01-02 15:04"),
			)
			return nil
		},
	}
}

func NewDisconnectCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Disconnect the current tunnel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.daemonClient().Disconnect(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info.Name, info.Status)
			return nil
		},
	}
}
