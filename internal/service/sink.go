package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

// Sink writes extracted items for a session. A write replaces every item the
// session held; writes for the same session are serialized.
type Sink struct {
	items   store.Items
	locks   keyedMutex
	metrics *metrics.Collector
}

// NewSink creates a sink over items.
func NewSink(items store.Items) *Sink {
	return &Sink{items: items, locks: keyedMutex{entries: make(map[string]*lockEntry)}}
}

// WithMetrics records the duration of every write in m.
func (s *Sink) WithMetrics(m *metrics.Collector) *Sink {
	s.metrics = m
	return s
}

// Replace implements pipeline.Sink. Item status is set by the confidence
// gate; items without content are dropped.
func (s *Sink) Replace(ctx context.Context, session *models.Session, proposed []models.ProposedItem) (int, error) {
	now := time.Now().UTC()
	items := make([]*models.ExtractedItem, 0, len(proposed))
	for _, p := range proposed {
		content := strings.TrimSpace(p.Content)
		if content == "" {
			continue
		}
		confidence := models.ClampConfidence(p.Confidence)
		items = append(items, &models.ExtractedItem{
			ID:           uuid.New().String(),
			SessionID:    session.ID,
			DesignWeekID: session.DesignWeekID,
			Type:         p.Type,
			Content:      content,
			Payload:      p.Payload,
			Confidence:   confidence,
			Status:       models.GateStatus(confidence),
			Provenance:   p.Provenance,
			Stage:        p.Stage,
			CreatedAt:    now,
		})
	}

	unlock := s.locks.lock(session.ID)
	defer unlock()

	done := s.metrics.Timer(metrics.OpSink)
	if err := s.items.ReplaceItems(ctx, session.ID, items); err != nil {
		done(false)
		return 0, apperr.Persistence(err)
	}
	done(true)
	slog.Info("items replaced", "session_id", session.ID, "count", len(items))
	return len(items), nil
}

// keyedMutex hands out one mutex per key, dropping it when unused.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
