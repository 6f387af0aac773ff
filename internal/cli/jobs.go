package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs <engagement-id>",
	Short: "List an engagement's jobs",
	Long: `List the upload jobs of an engagement, most recent first.

Examples:
  intake jobs eng-42
  intake jobs eng-42 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	jobs, err := apiClient.ListJobs(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if jsonOutput {
		return printJSON(jobs)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-10s %-24s %-28s %s\n", "ID", "STATUS", "STAGE", "FILE", "CREATED")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-36s %-10s %-24s %-28s %s\n",
			job.ID, job.Status, job.CurrentStage, truncate(job.Artifact.Filename, 28),
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}
