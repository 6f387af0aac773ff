package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

// Stage is one step of the extraction pipeline.
type Stage interface {
	Name() models.Stage
	Execute(ctx context.Context, run *Run) error
}

// Sink materializes proposed items for a session, replacing whatever the
// session held before. It returns the number of items written.
type Sink interface {
	Replace(ctx context.Context, session *models.Session, items []models.ProposedItem) (int, error)
}

// PhaseAdvanceThreshold is the classification confidence needed before a
// session may move its engagement to a later phase.
const PhaseAdvanceThreshold = 0.7

// DefaultStages returns the four stages in execution order.
func DefaultStages(st store.Store, sink Sink) []Stage {
	return []Stage{
		&ClassificationStage{Sessions: st, Engagements: st},
		&GeneralStage{Sink: sink},
		&SpecializedStage{Sink: sink},
		&TabStage{Profiles: st},
	}
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

// ClassificationStage determines the session type.
type ClassificationStage struct {
	Sessions    store.Sessions
	Engagements store.Engagements
}

// Name implements Stage.
func (s *ClassificationStage) Name() models.Stage { return models.StageClassification }

// Execute implements Stage. A session type declared in transcript front
// matter wins over the analyzer.
func (s *ClassificationStage) Execute(ctx context.Context, run *Run) error {
	var c analysis.Classification
	if declared := declaredType(run); declared != models.SessionUnknown {
		c = analysis.Classification{Type: declared, Confidence: 1, Rationale: "declared in transcript front matter"}
	} else {
		res, err := run.analyze(ctx, run.Parts[0], analysis.TaskClassify, analysis.Options{Parts: len(run.Parts)})
		if err != nil {
			return apperr.Analysis(err)
		}
		if res == nil || res.Classification == nil {
			return apperr.Analysis(errors.New("no classification returned"))
		}
		c = *res.Classification
	}
	c.Confidence = models.ClampConfidence(c.Confidence)
	run.Classification = c

	err := s.Sessions.UpdateSession(ctx, run.Session.ID, func(sess *models.Session) {
		sess.Classification = c.Type
		sess.ClassificationConfidence = c.Confidence
		if sess.SessionType == "" || sess.SessionType == models.SessionUnknown {
			sess.SessionType = c.Type
		}
	})
	if err != nil {
		return apperr.Persistence(fmt.Errorf("update session: %w", err))
	}
	run.Session.Classification = c.Type
	run.Session.ClassificationConfidence = c.Confidence

	s.advancePhase(ctx, run, c)

	return run.Report(ctx, s.Name(), models.StageStatusCompleted, 100,
		fmt.Sprintf("Classified as %s", c.Type),
		map[string]any{"session_type": string(c.Type), "confidence": c.Confidence})
}

func declaredType(run *Run) models.SessionType {
	if run.Meta == nil || run.Meta.SessionType == "" {
		return models.SessionUnknown
	}
	return models.ParseSessionType(run.Meta.SessionType)
}

// advancePhase moves the engagement forward when the classification is
// confident enough. Failures are logged only.
func (s *ClassificationStage) advancePhase(ctx context.Context, run *Run, c analysis.Classification) {
	phase := c.Type.Phase()
	if s.Engagements == nil || phase == 0 || c.Confidence < PhaseAdvanceThreshold {
		return
	}
	changed, err := s.Engagements.AdvancePhase(ctx, run.Job.DesignWeekID, phase)
	if err != nil {
		slog.Warn("failed to advance engagement phase",
			"job_id", run.Job.ID, "design_week_id", run.Job.DesignWeekID, "phase", phase, "error", err)
		return
	}
	if changed {
		slog.Info("engagement phase advanced",
			"job_id", run.Job.ID, "design_week_id", run.Job.DesignWeekID, "phase", phase)
	}
}

// =============================================================================
// GENERAL EXTRACTION
// =============================================================================

// GeneralStage extracts items of every type, one analyzer call per part.
type GeneralStage struct {
	Sink Sink
}

// Name implements Stage.
func (s *GeneralStage) Name() models.Stage { return models.StageGeneralExtraction }

// Execute implements Stage.
func (s *GeneralStage) Execute(ctx context.Context, run *Run) error {
	items, err := extractParts(ctx, run, s.Name(), analysis.TaskGeneral)
	if err != nil {
		return err
	}
	run.Items = Dedupe(items)

	n, err := s.Sink.Replace(ctx, run.Session, run.Items)
	if err != nil {
		return err
	}
	return run.Report(ctx, s.Name(), models.StageStatusCompleted, 100,
		fmt.Sprintf("Extracted %d items", n), itemDetails(run.Items))
}

// extractParts runs task over every part of the run, checking for
// cancellation between parts.
func extractParts(ctx context.Context, run *Run, stage models.Stage, task analysis.Task) ([]models.ProposedItem, error) {
	var items []models.ProposedItem
	parts := len(run.Parts)
	for i, part := range run.Parts {
		if i > 0 {
			cancelled, err := run.Cancelled(ctx)
			if err != nil {
				return nil, apperr.Persistence(err)
			}
			if cancelled {
				return nil, ErrCancelled
			}
		}

		res, err := run.analyze(ctx, part, task, analysis.Options{
			SessionType: run.Classification.Type,
			Part:        i + 1,
			Parts:       parts,
		})
		if err != nil {
			return nil, apperr.Analysis(err)
		}
		if res != nil {
			items = append(items, res.Items...)
		}

		if err := run.Report(ctx, stage, models.StageStatusRunning, (i+1)*90/parts,
			fmt.Sprintf("Analyzed part %d of %d", i+1, parts),
			map[string]any{"part": i + 1, "parts": parts, "items": len(items)}); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// =============================================================================
// SPECIALIZED EXTRACTION
// =============================================================================

// SpecializedStage extracts the item types that matter most for the
// classified session type, merges them into the general items and, in
// two-pass mode, refines the items below the approval threshold.
type SpecializedStage struct {
	Sink Sink
}

// Name implements Stage.
func (s *SpecializedStage) Name() models.Stage { return models.StageSpecializedExtraction }

// Execute implements Stage.
func (s *SpecializedStage) Execute(ctx context.Context, run *Run) error {
	items, err := extractParts(ctx, run, s.Name(), analysis.TaskSpecialized)
	if err != nil {
		return err
	}
	merged := Dedupe(append(append([]models.ProposedItem(nil), run.Items...), items...))

	refined := 0
	if run.Job.Options.SecondPassEnabled {
		cancelled, err := run.Cancelled(ctx)
		if err != nil {
			return apperr.Persistence(err)
		}
		if cancelled {
			return ErrCancelled
		}
		merged, refined, err = refine(ctx, run, merged)
		if err != nil {
			return err
		}
	}
	run.Items = merged

	n, err := s.Sink.Replace(ctx, run.Session, run.Items)
	if err != nil {
		return err
	}
	details := itemDetails(run.Items)
	if run.Job.Options.SecondPassEnabled {
		details["refined"] = refined
	}
	return run.Report(ctx, s.Name(), models.StageStatusCompleted, 100,
		fmt.Sprintf("%d items after specialized extraction", n), details)
}

// refine sends the items under the approval threshold back for a corrective
// pass. The refined set replaces exactly those items.
func refine(ctx context.Context, run *Run, items []models.ProposedItem) ([]models.ProposedItem, int, error) {
	var keep, low []models.ProposedItem
	for _, it := range items {
		if it.Confidence < models.AutoApproveThreshold {
			low = append(low, it)
		} else {
			keep = append(keep, it)
		}
	}
	if len(low) == 0 {
		return items, 0, nil
	}

	if err := run.Report(ctx, models.StageSpecializedExtraction, models.StageStatusRunning, 95,
		fmt.Sprintf("Refining %d low-confidence items", len(low)),
		map[string]any{"refining": len(low)}); err != nil {
		return nil, 0, err
	}

	res, err := run.analyze(ctx, run.Content, analysis.TaskRefine, analysis.Options{
		SessionType: run.Classification.Type,
		Items:       low,
	})
	if err != nil {
		return nil, 0, apperr.Analysis(fmt.Errorf("refine: %w", err))
	}
	var refined []models.ProposedItem
	if res != nil {
		refined = res.Items
	}
	return Dedupe(append(keep, refined...)), len(refined), nil
}

// =============================================================================
// TAB POPULATION
// =============================================================================

// TabStage maps the final items into profile sections. It makes no analyzer
// call.
type TabStage struct {
	Profiles store.Profiles
}

// Name implements Stage.
func (s *TabStage) Name() models.Stage { return models.StageTabPopulation }

// Execute implements Stage.
func (s *TabStage) Execute(ctx context.Context, run *Run) error {
	profile := BuildProfile(run.Session, run.Items)
	if err := s.Profiles.SaveProfile(ctx, profile); err != nil {
		return apperr.Persistence(fmt.Errorf("save profile: %w", err))
	}

	details := make(map[string]any, len(profile.Sections))
	for section, entries := range profile.Sections {
		details[string(section)] = len(entries)
	}
	return run.Report(ctx, s.Name(), models.StageStatusCompleted, 100,
		fmt.Sprintf("Populated %d profile entries", profile.Count()), details)
}

// =============================================================================
// HELPERS
// =============================================================================

// Dedupe drops repeated (type, content) pairs, keeping the most confident
// copy in the position of the first.
func Dedupe(items []models.ProposedItem) []models.ProposedItem {
	index := make(map[string]int, len(items))
	out := make([]models.ProposedItem, 0, len(items))
	for _, it := range items {
		key := string(it.Type) + "\x00" + strings.ToLower(strings.Join(strings.Fields(it.Content), " "))
		if i, ok := index[key]; ok {
			if it.Confidence > out[i].Confidence {
				out[i] = it
			}
			continue
		}
		index[key] = len(out)
		out = append(out, it)
	}
	return out
}

func itemDetails(items []models.ProposedItem) map[string]any {
	byType := make(map[string]any)
	approved := 0
	for _, it := range items {
		n, _ := byType[string(it.Type)].(int)
		byType[string(it.Type)] = n + 1
		if models.GateStatus(it.Confidence) == models.ItemStatusApproved {
			approved++
		}
	}
	return map[string]any{
		"items":    len(items),
		"approved": approved,
		"pending":  len(items) - approved,
		"by_type":  byType,
	}
}
