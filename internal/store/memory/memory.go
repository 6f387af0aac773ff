// Package memory is an in-process implementation of the store contracts,
// used in development mode and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

// Store keeps every record in maps behind one RWMutex.
type Store struct {
	mu          sync.RWMutex
	jobs        map[string]*models.UploadJob
	sessions    map[string]*models.Session
	items       map[string][]*models.ExtractedItem
	profiles    map[string]*models.Profile
	engagements map[string]*models.Engagement
	oplog       []models.OperationLog
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*models.UploadJob),
		sessions:    make(map[string]*models.Session),
		items:       make(map[string][]*models.ExtractedItem),
		profiles:    make(map[string]*models.Profile),
		engagements: make(map[string]*models.Engagement),
	}
}

// CreateJob implements store.Jobs.
func (s *Store) CreateJob(_ context.Context, job *models.UploadJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob implements store.Jobs.
func (s *Store) GetJob(_ context.Context, id string) (*models.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job.Clone(), nil
}

// ListJobs implements store.Jobs.
func (s *Store) ListJobs(_ context.Context, designWeekID string) ([]*models.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UploadJob
	for _, job := range s.jobs {
		if job.DesignWeekID == designWeekID {
			out = append(out, job.Clone())
		}
	}
	sortJobs(out)
	return out, nil
}

// ListUnfinishedJobs implements store.Jobs.
func (s *Store) ListUnfinishedJobs(_ context.Context) ([]*models.UploadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.UploadJob
	for _, job := range s.jobs {
		if !job.Status.IsTerminal() {
			out = append(out, job.Clone())
		}
	}
	sortJobs(out)
	return out, nil
}

func sortJobs(jobs []*models.UploadJob) {
	slices.SortFunc(jobs, func(a, b *models.UploadJob) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

// UpdateJob implements store.Jobs.
func (s *Store) UpdateJob(_ context.Context, id string, u store.JobUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	u.Apply(job)
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

// CreateSession implements store.Sessions.
func (s *Store) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	c := *sess
	s.sessions[sess.ID] = &c
	return nil
}

// GetSession implements store.Sessions.
func (s *Store) GetSession(_ context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *sess
	return &c, nil
}

// UpdateSession implements store.Sessions.
func (s *Store) UpdateSession(_ context.Context, id string, fn func(*models.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	c := *sess
	fn(&c)
	c.ID = id
	c.UpdatedAt = time.Now().UTC()
	s.sessions[id] = &c
	return nil
}

// ReplaceItems implements store.Items.
func (s *Store) ReplaceItems(_ context.Context, sessionID string, items []*models.ExtractedItem) error {
	cp := make([]*models.ExtractedItem, len(items))
	for i, it := range items {
		c := *it
		cp[i] = &c
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sessionID] = cp
	return nil
}

// ListItems implements store.Items.
func (s *Store) ListItems(_ context.Context, sessionID string) ([]*models.ExtractedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.items[sessionID]
	out := make([]*models.ExtractedItem, len(items))
	for i, it := range items {
		c := *it
		out[i] = &c
	}
	return out, nil
}

// SaveProfile implements store.Profiles.
func (s *Store) SaveProfile(_ context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.profiles[p.SessionID] = &c
	return nil
}

// GetProfile implements store.Profiles.
func (s *Store) GetProfile(_ context.Context, sessionID string) (*models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

// GetEngagement implements store.Engagements.
func (s *Store) GetEngagement(_ context.Context, id string) (*models.Engagement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.engagements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *e
	return &c, nil
}

// UpsertEngagement implements store.Engagements.
func (s *Store) UpsertEngagement(_ context.Context, e *models.Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *e
	s.engagements[e.ID] = &c
	return nil
}

// AdvancePhase implements store.Engagements.
func (s *Store) AdvancePhase(_ context.Context, id string, phase int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engagements[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if phase <= e.Phase {
		return false, nil
	}
	e.Phase = phase
	return true, nil
}

// Append implements store.OperationLog.
func (s *Store) Append(_ context.Context, entry models.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oplog = append(s.oplog, entry)
	return nil
}

// Recent implements store.OperationLog.
func (s *Store) Recent(_ context.Context, limit int) ([]models.OperationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.oplog)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.OperationLog, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.oplog[i])
	}
	return out, nil
}
