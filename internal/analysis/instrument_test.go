package analysis_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/analysis/analysistest"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLog struct {
	mu      sync.Mutex
	entries []models.OperationLog
}

func (l *recordingLog) Append(_ context.Context, e models.OperationLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func TestInstrumentedRecordsSuccess(t *testing.T) {
	fake := analysistest.New("primary").
		WithItems(analysis.TaskGeneral, analysistest.Item(models.ItemGoal, "g", 0.9))
	log := &recordingLog{}
	m := metrics.NewCollector()
	a := analysis.Instrument(fake, log, m)

	res, err := a.Analyze(context.Background(), analysis.Content{Text: "x"}, analysis.TaskGeneral,
		analysis.Options{JobID: "job-1", SessionID: "s-1"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	require.Len(t, log.entries, 1)
	e := log.entries[0]
	assert.Equal(t, "general_extraction", e.Pipeline)
	assert.Equal(t, "primary", e.Model)
	assert.True(t, e.Success)
	assert.Equal(t, 100, e.InputTokens)
	assert.Equal(t, "job-1", e.JobID)
	assert.Equal(t, "s-1", e.SessionID)

	snap := m.Snapshot()
	require.NotNil(t, snap.Analysis["general_extraction"])
	assert.EqualValues(t, 1, snap.Analysis["general_extraction"].Count)
}

func TestInstrumentedRedactsFailure(t *testing.T) {
	fake := analysistest.New("primary").
		WithError(analysis.TaskClassify, errors.New("POST https://api.internal.example/v1 failed: key=sk-abcdef0123456789"))
	log := &recordingLog{}
	a := analysis.Instrument(fake, log, nil)

	_, err := a.Analyze(context.Background(), analysis.Content{Text: "x"}, analysis.TaskClassify, analysis.Options{})
	require.Error(t, err)

	require.Len(t, log.entries, 1)
	e := log.entries[0]
	assert.False(t, e.Success)
	assert.NotEmpty(t, e.Error)
	assert.False(t, strings.Contains(e.Error, "api.internal.example"), "url leaked: %s", e.Error)
	assert.False(t, strings.Contains(e.Error, "sk-abcdef0123456789"), "key leaked: %s", e.Error)
}
