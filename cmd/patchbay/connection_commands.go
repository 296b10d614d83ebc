package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConnectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <source> <destination>",
		Short: "Ask the daemon to connect two ports",
		Long: "Ask the daemon to connect two ports by canonical name (client:port).\n" +
			"The request is forwarded to the JACK relay; the graph changes once JACK confirms.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.Connect(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connect requested: %s -> %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newDisconnectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <source> <destination>",
		Short: "Ask the daemon to disconnect two ports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.Disconnect(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Disconnect requested: %s -x- %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newResyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Rebuild the daemon's graph from JACK",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if err := client.Resync(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Resync requested")
				return nil
			})
		},
	}
}
