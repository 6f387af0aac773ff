package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.GetJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if jsonOutput {
			return printJSON(job)
		}
		printJob(job)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Long: `Cancel a running job. The job is marked FAILED right away; analysis
already in flight finishes but its results are discarded. Cancelling a
finished job changes nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient.CancelJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("%s (%s)\n", res.Message, res.Status)
		return nil
	},
}

var retryNoWait bool

var retryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Run a finished job again",
	Long: `Queue a new job for the same artifact, session and options as a finished
job. The session's items are replaced by the new run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient.RetryJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("retry job: %w", err)
		}
		if jsonOutput {
			return printJSON(res)
		}
		fmt.Printf("Job %s queued (retry of %s)\n", res.JobID, args[0])
		if retryNoWait {
			return nil
		}
		return follow(cmd.Context(), res.JobID, os.Stdout)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return follow(cmd.Context(), args[0], os.Stdout)
	},
}

func init() {
	retryCmd.Flags().BoolVar(&retryNoWait, "no-wait", false, "return after the job is queued")
}
