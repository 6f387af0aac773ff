package pipeline

import (
	"testing"

	"github.com/raphaelgruber/intake/internal/models"
)

func TestEveryItemTypeHasSection(t *testing.T) {
	for _, typ := range models.ItemTypes {
		if _, ok := SectionOf(typ); !ok {
			t.Errorf("item type %s has no profile section", typ)
		}
	}
}

func TestBuildProfile(t *testing.T) {
	sess := &models.Session{ID: "s1", DesignWeekID: "dw"}
	items := []models.ProposedItem{
		{Type: models.ItemGoal, Content: "Faster refunds", Confidence: 0.8},
		{Type: models.ItemGoal, Content: "Fewer escalations", Confidence: 0.79},
		{Type: models.ItemGuardrailNever, Content: "Never issue refunds over 500 EUR", Confidence: 0.95},
		{Type: "made_up", Content: "ignored", Confidence: 1},
	}

	p := BuildProfile(sess, items)
	if p.SessionID != "s1" || p.DesignWeekID != "dw" {
		t.Errorf("profile keyed wrong: %+v", p)
	}
	if got := p.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
	business := p.Sections[models.SectionBusiness]
	if len(business) != 2 {
		t.Fatalf("business entries = %d, want 2", len(business))
	}
	if business[0].Status != models.ItemStatusApproved {
		t.Errorf("0.80 entry status = %s, want APPROVED", business[0].Status)
	}
	if business[1].Status != models.ItemStatusPending {
		t.Errorf("0.79 entry status = %s, want PENDING", business[1].Status)
	}
}

func TestDedupeKeepsMostConfident(t *testing.T) {
	items := []models.ProposedItem{
		{Type: models.ItemGoal, Content: "Cut  wait time", Confidence: 0.5},
		{Type: models.ItemGoal, Content: "cut wait time", Confidence: 0.9},
		{Type: models.ItemRisk, Content: "cut wait time", Confidence: 0.4},
	}
	got := Dedupe(items)
	if len(got) != 2 {
		t.Fatalf("dedupe returned %d items, want 2", len(got))
	}
	if got[0].Confidence != 0.9 {
		t.Errorf("kept confidence %v, want 0.9", got[0].Confidence)
	}
	if got[1].Type != models.ItemRisk {
		t.Errorf("second item type %s, want risk", got[1].Type)
	}
}
