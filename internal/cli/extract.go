package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var extractType string

var extractCmd = &cobra.Command{
	Use:   "extract <session-id> <transcript-file|->",
	Short: "Extract items from a transcript synchronously",
	Long: `Send transcript text to the server and wait for the extracted items. The
session's existing items are replaced. Use "-" to read from stdin.

Examples:
  intake extract 3f2a... meeting.txt --type process
  pbpaste | intake extract 3f2a... -`,
	Args: cobra.ExactArgs(2),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractType, "type", "", "session type: kickoff, process, technical or signoff")
}

func runExtract(cmd *cobra.Command, args []string) error {
	text, err := readInput(args[1])
	if err != nil {
		return err
	}

	res, err := apiClient.Extract(cmd.Context(), args[0], text, extractType)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if jsonOutput {
		return printJSON(res)
	}

	fmt.Printf("Extracted %d items (%d input / %d output tokens)\n",
		res.ItemCount, res.Usage.InputTokens, res.Usage.OutputTokens)
	for _, it := range res.Items {
		fmt.Printf("  %-22s %-10s %s\n", it.Type, it.Status, truncate(it.Content, 70))
	}
	return nil
}

func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}
