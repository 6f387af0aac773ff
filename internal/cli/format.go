package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
)

func marshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// progressLine renders one job snapshot as a single plain-text line.
func progressLine(job *models.UploadJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", job.Status)
	if sp := job.StageProgress; sp != nil {
		fmt.Fprintf(&b, " %s %s %3d%%", sp.Stage, sp.Status, sp.Percent)
		if sp.Message != "" {
			fmt.Fprintf(&b, " %s", sp.Message)
		}
	} else if job.CurrentStage != "" {
		fmt.Fprintf(&b, " %s", job.CurrentStage)
	}
	if job.Error != "" {
		fmt.Fprintf(&b, " error: %s", job.Error)
	}
	return b.String()
}

// jobPercent returns overall progress in [0,1]. Each stage before COMPLETE
// owns an equal share of the bar.
func jobPercent(job *models.UploadJob) float64 {
	if job == nil {
		return 0
	}
	if job.Status == models.JobStatusComplete {
		return 1
	}
	stages := len(models.StageOrder) - 1
	idx := job.CurrentStage.Index()
	if idx < 0 {
		return 0
	}
	pct := 0
	if sp := job.StageProgress; sp != nil && sp.Stage == job.CurrentStage {
		pct = sp.Percent
	}
	v := (float64(idx) + float64(pct)/100) / float64(stages)
	if v > 1 {
		v = 1
	}
	return v
}

// printJob prints the details of one job.
func printJob(job *models.UploadJob) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Engagement: %s\n", job.DesignWeekID)
	fmt.Printf("  Session: %s\n", job.SessionID)
	fmt.Printf("  File: %s (%s, %d bytes)\n", job.Artifact.Filename, job.Artifact.MIMEType, job.Artifact.Size)
	fmt.Printf("  Mode: %s", job.Options.Mode)
	if len(job.Options.Models) > 0 {
		fmt.Printf(" [%s]", strings.Join(job.Options.Models, ", "))
	}
	fmt.Println()
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Stage: %s\n", job.CurrentStage)
	if sp := job.StageProgress; sp != nil {
		fmt.Printf("  Progress: %s %d%% %s\n", sp.Status, sp.Percent, sp.Message)
		if len(sp.Details) > 0 {
			keys := make([]string, 0, len(sp.Details))
			for k := range sp.Details {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("    %s: %v\n", k, sp.Details[k])
			}
		}
	}
	if job.RetryOf != "" {
		fmt.Printf("  Retry of: %s\n", job.RetryOf)
	}
	fmt.Printf("  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Printf("  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(job.CreatedAt).Round(time.Second))
	}
	if job.Error != "" {
		fmt.Printf("  Error: %s\n", job.Error)
	}
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
