package models

import "time"

// ProfileSection is a destination tab that downstream features consume.
type ProfileSection string

const (
	SectionBusiness   ProfileSection = "business"
	SectionProcess    ProfileSection = "process"
	SectionTechnical  ProfileSection = "technical"
	SectionScope      ProfileSection = "scope"
	SectionGuardrails ProfileSection = "guardrails"
	SectionGovernance ProfileSection = "governance"
)

// ProfileEntry is one approved-or-pending fact placed into a section.
type ProfileEntry struct {
	ItemType   ItemType   `json:"item_type"`
	Content    string     `json:"content"`
	Confidence float64    `json:"confidence"`
	Status     ItemStatus `json:"status"`
}

// Profile is the populated set of tabs for one session.
type Profile struct {
	DesignWeekID string                            `json:"design_week_id"`
	SessionID    string                            `json:"session_id"`
	Sections     map[ProfileSection][]ProfileEntry `json:"sections"`
	UpdatedAt    time.Time                         `json:"updated_at"`
}

// Count returns the total number of entries across sections.
func (p *Profile) Count() int {
	n := 0
	for _, entries := range p.Sections {
		n += len(entries)
	}
	return n
}
