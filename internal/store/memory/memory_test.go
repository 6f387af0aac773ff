package memory

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateJobSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, &models.UploadJob{ID: "j1", Status: models.JobStatusQueued}))

	applied, err := s.UpdateJob(ctx, "j1", store.JobUpdate{
		Status:       models.JobStatusProcessing,
		CurrentStage: models.StageClassification,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	done := time.Now()
	applied, err = s.UpdateJob(ctx, "j1", store.JobUpdate{Status: models.JobStatusFailed, Error: "boom", CompletedAt: &done})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.UpdateJob(ctx, "j1", store.JobUpdate{Status: models.JobStatusComplete})
	require.NoError(t, err)
	assert.False(t, applied, "terminal job must not move")

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "boom", job.Error)

	_, err = s.UpdateJob(ctx, "missing", store.JobUpdate{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateJob(ctx, &models.UploadJob{ID: "j1", Status: models.JobStatusQueued}))

	job, _ := s.GetJob(ctx, "j1")
	job.Status = models.JobStatusComplete

	again, _ := s.GetJob(ctx, "j1")
	assert.Equal(t, models.JobStatusQueued, again.Status)
}

func TestListJobsOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	require.NoError(t, s.CreateJob(ctx, &models.UploadJob{ID: "old", DesignWeekID: "e", CreatedAt: base, Status: models.JobStatusComplete}))
	require.NoError(t, s.CreateJob(ctx, &models.UploadJob{ID: "new", DesignWeekID: "e", CreatedAt: base.Add(time.Minute), Status: models.JobStatusQueued}))
	require.NoError(t, s.CreateJob(ctx, &models.UploadJob{ID: "other", DesignWeekID: "x", CreatedAt: base, Status: models.JobStatusProcessing}))

	jobs, err := s.ListJobs(ctx, "e")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "new", jobs[0].ID)

	unfinished, err := s.ListUnfinishedJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)
}

func TestReplaceItems(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.ReplaceItems(ctx, "s1", []*models.ExtractedItem{{ID: "a"}, {ID: "b"}, {ID: "c"}}))
	require.NoError(t, s.ReplaceItems(ctx, "s1", []*models.ExtractedItem{{ID: "d"}}))

	items, err := s.ListItems(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "d", items[0].ID)
}

func TestAdvancePhaseForwardOnly(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertEngagement(ctx, &models.Engagement{ID: "e", Phase: 2}))

	changed, err := s.AdvancePhase(ctx, "e", 1)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.AdvancePhase(ctx, "e", 3)
	require.NoError(t, err)
	assert.True(t, changed)

	e, _ := s.GetEngagement(ctx, "e")
	assert.Equal(t, 3, e.Phase)
}

func TestOperationLogRecent(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, models.OperationLog{Pipeline: p}))
	}
	recent, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Pipeline)
	assert.Equal(t, "b", recent[1].Pipeline)
}

func TestUpdateSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateSession(ctx, &models.Session{ID: "s1", ProcessingStatus: models.ProcessingPending}))
	require.NoError(t, s.UpdateSession(ctx, "s1", func(sess *models.Session) {
		sess.ProcessingStatus = models.ProcessingFailed
		sess.ProcessingError = "bad"
	}))
	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingFailed, sess.ProcessingStatus)
	assert.ErrorIs(t, s.UpdateSession(ctx, "nope", func(*models.Session) {}), store.ErrNotFound)
}
