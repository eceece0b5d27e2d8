package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wg-sso-gateway/internal/command"
	"wg-sso-gateway/internal/keys"
)

func NewKeygenCommand() *cobra.Command {
	var native bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a WireGuard key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var gen keys.Generator = keys.NewToolGenerator(command.NewExecRunner())
			if native {
				gen = keys.NativeGenerator{}
			}
			kp, err := gen.Generate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "PrivateKey = %s\nPublicKey = %s\n", kp.PrivateKey, kp.PublicKey)
			return nil
		},
	}

	cmd.Flags().BoolVar(&native, "native", false, "generate in-process instead of running `wg`")
	return cmd
}
