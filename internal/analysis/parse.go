package analysis

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/raphaelgruber/intake/internal/models"
)

type rawItem struct {
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	Confidence  json.RawMessage `json:"confidence"`
	Payload     map[string]any  `json:"payload"`
	SourceQuote string          `json:"source_quote"`
	Speaker     string          `json:"speaker"`
	Timestamp   string          `json:"timestamp"`
}

type rawItems struct {
	Items []rawItem `json:"items"`
}

type rawClassification struct {
	SessionType string          `json:"session_type"`
	Confidence  json.RawMessage `json:"confidence"`
	Rationale   string          `json:"rationale"`
}

// extractJSON returns the outermost JSON object in s, tolerating code fences
// and prose around it.
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("%w: no JSON object in response", ErrUnparseable)
	}
	return s[start : end+1], nil
}

// parseConfidence accepts numbers and numeric strings. Missing means 0.
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return models.ClampConfidence(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	s = strings.TrimSpace(s)
	pct := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0
	}
	if pct {
		v /= 100
	}
	return models.ClampConfidence(v)
}

// parseItems decodes an item list. Items of unknown type or without content
// are dropped.
func parseItems(text string, stage models.Stage) ([]models.ProposedItem, error) {
	obj, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var raw rawItems
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	items := make([]models.ProposedItem, 0, len(raw.Items))
	for _, r := range raw.Items {
		itemType, ok := models.ParseItemType(r.Type)
		if !ok {
			slog.Debug("dropping item of unknown type", "type", r.Type)
			continue
		}
		content := strings.TrimSpace(r.Content)
		if content == "" {
			continue
		}
		item := models.ProposedItem{
			Type:       itemType,
			Content:    content,
			Payload:    r.Payload,
			Confidence: parseConfidence(r.Confidence),
			Stage:      stage,
		}
		if r.SourceQuote != "" || r.Speaker != "" || r.Timestamp != "" {
			item.Provenance = &models.Provenance{
				SourceQuote: strings.TrimSpace(r.SourceQuote),
				Speaker:     strings.TrimSpace(r.Speaker),
				Timestamp:   strings.TrimSpace(r.Timestamp),
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func parseClassification(text string) (*Classification, error) {
	obj, err := extractJSON(text)
	if err != nil {
		return nil, err
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	st := models.ParseSessionType(raw.SessionType)
	c := &Classification{
		Type:       st,
		Confidence: parseConfidence(raw.Confidence),
		Rationale:  strings.TrimSpace(raw.Rationale),
	}
	if st == models.SessionUnknown {
		c.Confidence = 0
	}
	return c, nil
}
