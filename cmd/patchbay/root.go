package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var tokenFlag string

	ctx := newCommandContext(&configFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:           "patchbay",
		Short:         "JACK graph mirror and patching API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $PATCHBAY_CONFIG or configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API bearer token (default $PATCHBAY_TOKEN, else minted from the configured secret)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newGraphCommand(ctx))
	rootCmd.AddCommand(newConnectCommand(ctx))
	rootCmd.AddCommand(newDisconnectCommand(ctx))
	rootCmd.AddCommand(newResyncCommand(ctx))
	rootCmd.AddCommand(newAuditCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
