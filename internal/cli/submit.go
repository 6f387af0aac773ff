package cli

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/intake/internal/client"
	"github.com/spf13/cobra"
)

var (
	submitMode    string
	submitModels  []string
	submitSession string
	submitNoWait  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <engagement-id> <file>",
	Short: "Upload an artifact and start extraction",
	Long: `Upload a recording, transcript or document to an engagement. The server
validates the file, stores it and runs extraction in the background.

Accepted: mp3 m4a wav ogg webm mp4 mov pdf docx pptx txt

Examples:
  intake submit eng-42 kickoff.mp3
  intake submit eng-42 notes.txt --mode two-pass
  intake submit eng-42 workshop.mp4 --mode multi-model --models claude,gemini
  intake submit eng-42 followup.pdf --session 3f2a... --no-wait`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitMode, "mode", "standard", "extraction mode: standard, multi-model or two-pass")
	submitCmd.Flags().StringSliceVar(&submitModels, "models", nil, "models for multi-model mode")
	submitCmd.Flags().StringVar(&submitSession, "session", "", "re-process into an existing session")
	submitCmd.Flags().BoolVar(&submitNoWait, "no-wait", false, "return after the job is queued")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	res, err := apiClient.Upload(ctx, args[0], args[1], client.UploadOptions{
		Mode:      submitMode,
		Models:    submitModels,
		SessionID: submitSession,
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	if jsonOutput {
		return printJSON(res)
	}
	fmt.Printf("Job %s queued (session %s)\n", res.JobID, res.SessionID)

	if submitNoWait {
		return nil
	}
	return follow(ctx, res.JobID, os.Stdout)
}
