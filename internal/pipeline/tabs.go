package pipeline

import (
	"time"

	"github.com/raphaelgruber/intake/internal/models"
)

// sectionOf maps each item type to the profile section it populates.
var sectionOf = map[models.ItemType]models.ProfileSection{
	models.ItemStakeholder:         models.SectionBusiness,
	models.ItemGoal:                models.SectionBusiness,
	models.ItemKPITarget:           models.SectionBusiness,
	models.ItemVolumeExpectation:   models.SectionBusiness,
	models.ItemTimelineConstraint:  models.SectionBusiness,
	models.ItemHappyPathStep:       models.SectionProcess,
	models.ItemExceptionCase:       models.SectionProcess,
	models.ItemBusinessRule:        models.SectionProcess,
	models.ItemEscalationRule:      models.SectionProcess,
	models.ItemSystemIntegration:   models.SectionTechnical,
	models.ItemSecurityRequirement: models.SectionTechnical,
	models.ItemDataField:           models.SectionTechnical,
	models.ItemScopeIn:             models.SectionScope,
	models.ItemScopeOut:            models.SectionScope,
	models.ItemGuardrailNever:      models.SectionGuardrails,
	models.ItemGuardrailAlways:     models.SectionGuardrails,
	models.ItemRisk:                models.SectionGovernance,
	models.ItemOpenQuestion:        models.SectionGovernance,
	models.ItemDecision:            models.SectionGovernance,
	models.ItemApproval:            models.SectionGovernance,
}

// SectionOf returns the profile section for t.
func SectionOf(t models.ItemType) (models.ProfileSection, bool) {
	s, ok := sectionOf[t]
	return s, ok
}

// BuildProfile places items into sections in their original order. Entry
// status follows the confidence gate.
func BuildProfile(session *models.Session, items []models.ProposedItem) *models.Profile {
	p := &models.Profile{
		DesignWeekID: session.DesignWeekID,
		SessionID:    session.ID,
		Sections:     make(map[models.ProfileSection][]models.ProfileEntry),
		UpdatedAt:    time.Now().UTC(),
	}
	for _, it := range items {
		section, ok := sectionOf[it.Type]
		if !ok {
			continue
		}
		confidence := models.ClampConfidence(it.Confidence)
		p.Sections[section] = append(p.Sections[section], models.ProfileEntry{
			ItemType:   it.Type,
			Content:    it.Content,
			Confidence: confidence,
			Status:     models.GateStatus(confidence),
		})
	}
	return p
}
