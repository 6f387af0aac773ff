package cli

import (
	"fmt"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/spf13/cobra"
)

var itemsStatus string

var itemsCmd = &cobra.Command{
	Use:   "items <session-id>",
	Short: "List a session's extracted items",
	Long: `List the items extracted into a session.

Examples:
  intake items 3f2a...
  intake items 3f2a... --status PENDING`,
	Args: cobra.ExactArgs(1),
	RunE: runItems,
}

func init() {
	itemsCmd.Flags().StringVar(&itemsStatus, "status", "", "only show items with this status (APPROVED, PENDING, ...)")
}

func runItems(cmd *cobra.Command, args []string) error {
	items, err := apiClient.ListItems(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("list items: %w", err)
	}
	items = filterItems(items, models.ItemStatus(itemsStatus))

	if jsonOutput {
		return printJSON(items)
	}
	if len(items) == 0 {
		fmt.Println("No items found")
		return nil
	}

	fmt.Printf("%-22s %-10s %-5s %s\n", "TYPE", "STATUS", "CONF", "CONTENT")
	fmt.Println("--------------------------------------------------------------------------------")
	for _, it := range items {
		fmt.Printf("%-22s %-10s %.2f  %s\n", it.Type, it.Status, it.Confidence, truncate(it.Content, 80))
	}
	fmt.Printf("\n%d items\n", len(items))
	return nil
}

func filterItems(items []models.ExtractedItem, status models.ItemStatus) []models.ExtractedItem {
	if status == "" {
		return items
	}
	var out []models.ExtractedItem
	for _, it := range items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out
}
