package analysis

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/raphaelgruber/intake/internal/models"
)

// SimilarityThreshold is the normalized-content similarity at or above which
// items from different models are treated as the same fact.
const SimilarityThreshold = 0.85

type itemGroup struct {
	rep     models.ProposedItem
	norm    string
	sum     float64
	members map[int]bool
}

// ReconcileItems merges per-model item lists into one. Items of the same type
// whose normalized content is similar are grouped, each model contributing at
// most once per group. A group's confidence is the sum of member confidences
// over the number of models, so facts only one of several models found lose
// confidence. The representative comes from the earliest model. Output order
// is first appearance.
func ReconcileItems(perModel [][]models.ProposedItem) []models.ProposedItem {
	n := len(perModel)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return append([]models.ProposedItem(nil), perModel[0]...)
	}

	var groups []*itemGroup
	for m, items := range perModel {
		for _, item := range items {
			norm := normalizeContent(item.Content)
			g := findGroup(groups, item.Type, norm, m)
			if g == nil {
				g = &itemGroup{rep: item, norm: norm, members: make(map[int]bool)}
				groups = append(groups, g)
			}
			g.members[m] = true
			g.sum += models.ClampConfidence(item.Confidence)
			if g.rep.Provenance == nil && item.Provenance != nil {
				g.rep.Provenance = item.Provenance
			}
		}
	}

	out := make([]models.ProposedItem, 0, len(groups))
	for _, g := range groups {
		item := g.rep
		item.Confidence = models.ClampConfidence(g.sum / float64(n))
		out = append(out, item)
	}
	return out
}

func findGroup(groups []*itemGroup, t models.ItemType, norm string, model int) *itemGroup {
	var best *itemGroup
	bestScore := 0.0
	for _, g := range groups {
		if g.rep.Type != t || g.members[model] {
			continue
		}
		score := levenshtein.Similarity(norm, g.norm, nil)
		if score >= SimilarityThreshold && score > bestScore {
			best, bestScore = g, score
		}
	}
	return best
}

// normalizeContent lowercases, drops punctuation and collapses whitespace.
func normalizeContent(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			space = true
		}
	}
	return b.String()
}

// ReconcileClassification takes a majority vote. Ties go to the type voted
// for by the earliest model; confidence is the mean among agreeing models.
func ReconcileClassification(votes []Classification) Classification {
	if len(votes) == 0 {
		return Classification{Type: models.SessionUnknown}
	}

	counts := make(map[models.SessionType]int)
	sums := make(map[models.SessionType]float64)
	var order []models.SessionType
	for _, v := range votes {
		if counts[v.Type] == 0 {
			order = append(order, v.Type)
		}
		counts[v.Type]++
		sums[v.Type] += v.Confidence
	}

	winner := order[0]
	for _, t := range order[1:] {
		if counts[t] > counts[winner] {
			winner = t
		}
	}

	out := Classification{
		Type:       winner,
		Confidence: models.ClampConfidence(sums[winner] / float64(counts[winner])),
	}
	for _, v := range votes {
		if v.Type == winner && v.Rationale != "" {
			out.Rationale = v.Rationale
			break
		}
	}
	return out
}
