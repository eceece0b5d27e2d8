package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"wg-sso-gateway/agent/internal/tunnel"
)

func NewStatusCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current tunnel connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.daemonClient().Status(cmd.Context())
			if err != nil {
				return err
			}
			renderStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func renderStatus(out io.Writer, st tunnel.Overview) {
	if st.Current == nil {
		fmt.Fprintf(out, "%s no tunnel connected (%d configured)\n", text.FgYellow.Sprint("•"), len(st.Tunnels))
		return
	}
	cur := st.Current

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendRow(table.Row{"Tunnel", cur.Name})
	t.AppendRow(table.Row{"Gateway", cur.Endpoint})
	t.AppendRow(table.Row{"Status", colorStatus(cur.Status)})
	if len(cur.Address) > 0 {
		t.AppendRow(table.Row{"Address", strings.Join(cur.Address, ", ")})
	}
	if !cur.ConnectedAt.IsZero() {
		t.AppendRow(table.Row{"Connected", cur.ConnectedAt.Local().Format(time.DateTime)})
	}
	if !cur.SessionEndsAt.IsZero() {
		t.AppendRow(table.Row{"Session ends", cur.SessionEndsAt.Local().Format(time.DateTime)})
	}
	if cur.Error != "" {
		t.AppendRow(table.Row{"Error", text.FgRed.Sprint(cur.Error)})
	}
	t.Render()
}

func colorStatus(s tunnel.Status) string {
	switch s {
	case tunnel.StatusConnected:
		return text.FgGreen.Sprint(s)
	case tunnel.StatusConnecting, tunnel.StatusDisconnecting:
		return text.FgYellow.Sprint(s)
	case tunnel.StatusError:
		return text.FgRed.Sprint(s)
	}
	return string(s)
}
