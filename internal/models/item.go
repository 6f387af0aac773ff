package models

import (
	"math"
	"strings"
	"time"
)

// ItemType is the closed taxonomy of extractable facts.
type ItemType string

const (
	ItemStakeholder         ItemType = "stakeholder"
	ItemGoal                ItemType = "goal"
	ItemKPITarget           ItemType = "kpi_target"
	ItemVolumeExpectation   ItemType = "volume_expectation"
	ItemHappyPathStep       ItemType = "happy_path_step"
	ItemExceptionCase       ItemType = "exception_case"
	ItemScopeIn             ItemType = "scope_in"
	ItemScopeOut            ItemType = "scope_out"
	ItemGuardrailNever      ItemType = "guardrail_never"
	ItemGuardrailAlways     ItemType = "guardrail_always"
	ItemSystemIntegration   ItemType = "system_integration"
	ItemSecurityRequirement ItemType = "security_requirement"
	ItemDataField           ItemType = "data_field"
	ItemBusinessRule        ItemType = "business_rule"
	ItemEscalationRule      ItemType = "escalation_rule"
	ItemRisk                ItemType = "risk"
	ItemOpenQuestion        ItemType = "open_question"
	ItemTimelineConstraint  ItemType = "timeline_constraint"
	ItemDecision            ItemType = "decision"
	ItemApproval            ItemType = "approval"
)

// ItemTypes lists every valid type in taxonomy order.
var ItemTypes = []ItemType{
	ItemStakeholder,
	ItemGoal,
	ItemKPITarget,
	ItemVolumeExpectation,
	ItemHappyPathStep,
	ItemExceptionCase,
	ItemScopeIn,
	ItemScopeOut,
	ItemGuardrailNever,
	ItemGuardrailAlways,
	ItemSystemIntegration,
	ItemSecurityRequirement,
	ItemDataField,
	ItemBusinessRule,
	ItemEscalationRule,
	ItemRisk,
	ItemOpenQuestion,
	ItemTimelineConstraint,
	ItemDecision,
	ItemApproval,
}

// ParseItemType normalizes s ("KPI-Target", "kpi target") into a known type.
func ParseItemType(s string) (ItemType, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, t := range ItemTypes {
		if string(t) == norm {
			return t, true
		}
	}
	return "", false
}

// ItemStatus is the review state of an extracted item.
type ItemStatus string

const (
	ItemStatusPending            ItemStatus = "PENDING"
	ItemStatusApproved           ItemStatus = "APPROVED"
	ItemStatusNeedsClarification ItemStatus = "NEEDS_CLARIFICATION"
	ItemStatusRejected           ItemStatus = "REJECTED"
)

// AutoApproveThreshold is the confidence at or above which new items are
// created APPROVED.
const AutoApproveThreshold = 0.8

// GateStatus derives the creation status of an item from its confidence.
func GateStatus(confidence float64) ItemStatus {
	if confidence >= AutoApproveThreshold {
		return ItemStatusApproved
	}
	return ItemStatusPending
}

// ClampConfidence forces c into [0,1].
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c):
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

// Provenance points at where in the artifact an item came from.
type Provenance struct {
	SourceQuote string `json:"source_quote,omitempty"`
	Speaker     string `json:"speaker,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

// ProposedItem is an item produced by a stage, before it is materialized.
type ProposedItem struct {
	Type       ItemType       `json:"type"`
	Content    string         `json:"content"`
	Payload    map[string]any `json:"payload,omitempty"`
	Confidence float64        `json:"confidence"`
	Provenance *Provenance    `json:"provenance,omitempty"`
	Stage      Stage          `json:"stage,omitempty"`
}

// ExtractedItem is a materialized fact in the knowledge store.
type ExtractedItem struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	DesignWeekID string         `json:"design_week_id"`
	Type         ItemType       `json:"type"`
	Content      string         `json:"content"`
	Payload      map[string]any `json:"payload,omitempty"`
	Confidence   float64        `json:"confidence"`
	Status       ItemStatus     `json:"status"`
	Provenance   *Provenance    `json:"provenance,omitempty"`
	Stage        Stage          `json:"stage,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
