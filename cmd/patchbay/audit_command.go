package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
)

func newAuditCommand(ctx *commandContext) *cobra.Command {
	var filter audit.Filter
	var action, outcome string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent patch requests and who made them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Action = audit.Action(action)
			filter.Outcome = audit.Outcome(outcome)
			return ctx.withClient(func(client *apiClient) error {
				result, err := client.ListAudit(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, result)
				}

				rows := make([][]string, 0, len(result.Logs))
				for _, l := range result.Logs {
					target := ""
					if l.Source != "" {
						target = l.Source + " -> " + l.Destination
					}
					rows = append(rows, []string{
						l.CreatedAt.Local().Format(time.DateTime),
						string(l.Action),
						target,
						l.Subject,
						l.Via,
						string(l.Outcome),
						l.Reason,
					})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Audit (%d of %d)\n", len(rows), result.Total)
				fmt.Fprintln(out, renderTable(
					[]string{"Time", "Action", "Ports", "Subject", "Via", "Outcome", "Reason"},
					rows,
					nil,
					shouldColorize(out),
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "Only show connect, disconnect or resync")
	cmd.Flags().StringVar(&filter.Subject, "subject", "", "Only show requests by this token subject")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show accepted or rejected requests")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
