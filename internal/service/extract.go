package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/pipeline"
	"github.com/raphaelgruber/intake/internal/store"
	"github.com/raphaelgruber/intake/internal/transcript"
)

// ExtractService runs transcript extraction synchronously, outside the job
// pipeline.
type ExtractService struct {
	store    store.Store
	registry *analysis.Registry
	sink     *Sink
}

// NewExtractService creates an extract service.
func NewExtractService(st store.Store, registry *analysis.Registry, sink *Sink) *ExtractService {
	return &ExtractService{store: st, registry: registry, sink: sink}
}

// ExtractRequest is a block of transcript text for an existing session.
type ExtractRequest struct {
	SessionID      string `json:"sessionId"`
	TranscriptText string `json:"transcriptText"`
	SessionType    string `json:"sessionType"`
}

// ExtractResult is what the extraction produced.
type ExtractResult struct {
	ItemCount int                     `json:"itemCount"`
	Items     []*models.ExtractedItem `json:"items"`
	Usage     models.Usage            `json:"usage"`
}

// Extract analyzes the transcript and replaces the session's items with the
// result. On failure the session is marked FAILED and the returned error
// carries only a sanitized message.
func (s *ExtractService) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, apperr.Validation("session id is required")
	}
	if strings.TrimSpace(req.TranscriptText) == "" {
		return nil, apperr.Validation("transcript text is required")
	}

	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, notFound(err, "session", req.SessionID)
	}

	tr, err := transcript.Parse(req.TranscriptText)
	if err != nil {
		return nil, apperr.Validation("invalid transcript: %v", err)
	}
	chunks := tr.Chunks(transcript.DefaultChunkConfig())
	if len(chunks) == 0 {
		return nil, apperr.Validation("transcript text is required")
	}

	sessionType := models.ParseSessionType(req.SessionType)
	if sessionType == models.SessionUnknown {
		sessionType = models.ParseSessionType(tr.Meta.SessionType)
	}
	if sessionType == models.SessionUnknown {
		sessionType = session.SessionType
	}

	analyzer := s.registry.Default()
	if analyzer == nil {
		return nil, s.failSession(ctx, session.ID, apperr.Analysis(errors.New("no analysis model configured")))
	}

	if err := s.store.UpdateSession(ctx, session.ID, func(sess *models.Session) {
		sess.ProcessingStatus = models.ProcessingProcessing
		sess.ProcessingError = ""
	}); err != nil {
		return nil, apperr.Persistence(err)
	}

	var (
		proposed []models.ProposedItem
		usage    models.Usage
	)
	for i, chunk := range chunks {
		res, err := analyzer.Analyze(ctx, analysis.Content{Text: chunk.Content}, analysis.TaskTranscript, analysis.Options{
			SessionType: sessionType,
			Part:        i + 1,
			Parts:       len(chunks),
			SessionID:   session.ID,
		})
		if res != nil {
			usage = usage.Add(res.Usage)
		}
		if err != nil {
			return nil, s.failSession(ctx, session.ID, apperr.Analysis(err))
		}
		if res != nil {
			proposed = append(proposed, res.Items...)
		}
	}
	proposed = pipeline.Dedupe(proposed)

	n, err := s.sink.Replace(ctx, session, proposed)
	if err != nil {
		return nil, s.failSession(ctx, session.ID, err)
	}

	if err := s.store.UpdateSession(ctx, session.ID, func(sess *models.Session) {
		sess.ProcessingStatus = models.ProcessingComplete
		if sessionType != models.SessionUnknown {
			sess.SessionType = sessionType
		}
	}); err != nil {
		slog.Warn("failed to mark session complete", "session_id", session.ID, "error", err)
	}

	items, err := s.store.ListItems(ctx, session.ID)
	if err != nil {
		return nil, apperr.Persistence(err)
	}

	slog.Info("transcript extracted",
		"session_id", session.ID,
		"chunks", len(chunks),
		"items", n,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens)
	return &ExtractResult{ItemCount: n, Items: items, Usage: usage}, nil
}

// failSession records err on the session and returns it.
func (s *ExtractService) failSession(ctx context.Context, sessionID string, err error) error {
	msg := apperr.PublicMessage(err)
	uerr := s.store.UpdateSession(context.WithoutCancel(ctx), sessionID, func(sess *models.Session) {
		sess.ProcessingStatus = models.ProcessingFailed
		sess.ProcessingError = msg
	})
	if uerr != nil {
		slog.Warn("failed to mark session failed", "session_id", sessionID, "error", uerr)
	}
	slog.Error("transcript extraction failed", "session_id", sessionID, "error", msg)
	return fmt.Errorf("extract: %w", err)
}
