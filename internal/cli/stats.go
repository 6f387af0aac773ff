package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/spf13/cobra"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show server statistics",
	Long: `Show server runtime statistics and the most recent analysis calls.

Examples:
  intake stats
  intake stats --limit 100`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "number of recent analysis calls to show")
}

func runStats(cmd *cobra.Command, args []string) error {
	stats, err := apiClient.GetStats(cmd.Context(), statsLimit)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	if jsonOutput {
		return printJSON(stats)
	}

	var snap metrics.Snapshot
	if len(stats.Metrics) > 0 {
		if err := json.Unmarshal(stats.Metrics, &snap); err != nil {
			return fmt.Errorf("decode metrics: %w", err)
		}
	}
	printSnapshot(snap)

	if len(stats.Operations) > 0 {
		fmt.Printf("\nRecent analysis calls:\n")
		for _, op := range stats.Operations {
			status := "ok"
			if !op.Success {
				status = "failed"
			}
			fmt.Printf("  %s %-22s %-20s %6dms in=%-6d out=%-6d %s\n",
				op.CreatedAt.Local().Format("15:04:05"), op.Pipeline, truncate(op.Model, 20),
				op.LatencyMs, op.InputTokens, op.OutputTokens, status)
		}
	}
	return nil
}

func printSnapshot(snap metrics.Snapshot) {
	fmt.Printf("Server Statistics (in-memory, since restart)\n")
	fmt.Printf("═══════════════════════════════════════════════\n")
	fmt.Printf("Uptime: %.1f seconds\n", snap.UptimeSeconds)
	fmt.Printf("Jobs: %d started, %d completed, %d failed\n", snap.JobsStarted, snap.JobsCompleted, snap.JobsFailed)

	if snap.BlobPut != nil {
		fmt.Printf("Uploads stored: %d (avg %.0fms)\n", snap.BlobPut.Count, snap.BlobPut.AvgTimeMs)
	}
	if snap.Sink != nil {
		fmt.Printf("Item writes: %d (avg %.0fms)\n", snap.Sink.Count, snap.Sink.AvgTimeMs)
	}

	printOps("Stages", snap.Stages)
	printOps("Analysis", snap.Analysis)
}

func printOps(title string, ops map[string]*metrics.OperationSnapshot) {
	if len(ops) == 0 {
		return
	}
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n%s:\n", title)
	for _, name := range names {
		op := ops[name]
		fmt.Printf("  %-24s count=%-5d failures=%-4d avg=%.0fms max=%dms", name, op.Count, op.Failures, op.AvgTimeMs, op.MaxTimeMs)
		if op.Tokens != nil {
			fmt.Printf(" tokens=%d/%d", op.Tokens.Input, op.Tokens.Output)
		}
		fmt.Println()
	}
}
