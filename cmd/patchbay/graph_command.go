package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var statsOnly bool

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the daemon's groups, ports and connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiClient) error {
				if statsOnly {
					stats, err := client.Stats(cmd.Context())
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, stats)
					}
					return printStats(cmd.OutOrStdout(), stats)
				}

				snap, err := client.Snapshot(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, snap)
				}
				return printSnapshot(cmd.OutOrStdout(), snap)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of tables")
	cmd.Flags().BoolVar(&statsOnly, "stats", false, "Print reconciler counters instead of the graph")
	return cmd
}

func printSnapshot(out io.Writer, snap graph.Snapshot) error {
	colorize := shouldColorize(out)

	groupNames := make(map[int]string, len(snap.Groups))
	portCounts := make(map[int]int, len(snap.Groups))
	for _, p := range snap.Ports {
		portCounts[p.GroupID]++
	}
	groupRows := make([][]string, 0, len(snap.Groups))
	for _, g := range snap.Groups {
		groupNames[g.ID] = g.Name
		groupRows = append(groupRows, []string{
			strconv.Itoa(g.ID),
			g.Name,
			yesNo(g.Split),
			strconv.Itoa(portCounts[g.ID]),
		})
	}

	portNames := make(map[int]string, len(snap.Ports))
	portRows := make([][]string, 0, len(snap.Ports))
	for _, p := range snap.Ports {
		portNames[p.ID] = groupNames[p.GroupID] + ":" + p.DisplayName
		portRows = append(portRows, []string{
			strconv.Itoa(p.ID),
			p.DisplayName,
			groupNames[p.GroupID],
			string(p.Direction),
			string(p.Medium),
			yesNo(p.Physical),
		})
	}

	connRows := make([][]string, 0, len(snap.Connections))
	for _, c := range snap.Connections {
		connRows = append(connRows, []string{
			strconv.Itoa(c.ID),
			portNames[c.SourcePortID],
			portNames[c.DestinationPortID],
		})
	}

	if _, err := fmt.Fprintf(out, "Groups (%d)\n%s\n\n", len(groupRows), renderTable(
		[]string{"ID", "Name", "Split", "Ports"},
		groupRows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight},
		colorize,
	)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "Ports (%d)\n%s\n\n", len(portRows), renderTable(
		[]string{"ID", "Name", "Group", "Direction", "Medium", "Physical"},
		portRows,
		[]columnAlignment{alignRight},
		colorize,
	)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "Connections (%d)\n%s\n", len(connRows), renderTable(
		[]string{"ID", "Source", "Destination"},
		connRows,
		[]columnAlignment{alignRight},
		colorize,
	))
	return err
}

func printStats(out io.Writer, stats reconciler.Stats) error {
	rows := [][]string{
		{"Groups", strconv.Itoa(stats.Graph.Groups)},
		{"Ports", strconv.Itoa(stats.Graph.Ports)},
		{"Connections", strconv.Itoa(stats.Graph.Connections)},
		{"Events received", strconv.FormatUint(stats.Received, 10)},
		{"Events applied", strconv.FormatUint(stats.Applied, 10)},
		{"Events dropped", strconv.FormatUint(stats.Dropped, 10)},
		{"Resyncs", strconv.FormatUint(stats.Resyncs, 10)},
		{"Queue", fmt.Sprintf("%d/%d", stats.QueueDepth, stats.QueueCapacity)},
	}
	_, err := fmt.Fprintln(out, renderTable(
		[]string{"Metric", "Value"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
		shouldColorize(out),
	))
	return err
}
