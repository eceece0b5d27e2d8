package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	envFiles   []string
}

func main() {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "controlplane",
		Short:         "WireGuard access gateway with OIDC login",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			for _, f := range opts.envFiles {
				_ = godotenv.Load(f)
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{"controlplane/.env", ".env"}, "dotenv files loaded before reading the environment")

	root.AddCommand(
		newServeCommand(opts),
		newCheckConfigCommand(opts),
		newHashPasswordCommand(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
