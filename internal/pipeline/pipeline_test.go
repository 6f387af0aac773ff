package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/analysis/analysistest"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
	"github.com/raphaelgruber/intake/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingJobs captures every applied progress report.
type recordingJobs struct {
	store.Jobs
	mu       sync.Mutex
	progress []models.StageProgress
}

func (r *recordingJobs) UpdateJob(ctx context.Context, id string, u store.JobUpdate) (bool, error) {
	applied, err := r.Jobs.UpdateJob(ctx, id, u)
	if applied && u.StageProgress != nil {
		r.mu.Lock()
		r.progress = append(r.progress, *u.StageProgress)
		r.mu.Unlock()
	}
	return applied, err
}

func (r *recordingJobs) reports() []models.StageProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StageProgress(nil), r.progress...)
}

type testSink struct {
	st    *memory.Store
	calls int
}

func (s *testSink) Replace(ctx context.Context, sess *models.Session, items []models.ProposedItem) (int, error) {
	s.calls++
	out := make([]*models.ExtractedItem, len(items))
	for i, it := range items {
		out[i] = &models.ExtractedItem{
			ID:         fmt.Sprintf("%s-%d", sess.ID, i),
			SessionID:  sess.ID,
			Type:       it.Type,
			Content:    it.Content,
			Confidence: it.Confidence,
			Status:     models.GateStatus(it.Confidence),
		}
	}
	return len(out), s.st.ReplaceItems(ctx, sess.ID, out)
}

type fixture struct {
	st   *memory.Store
	jobs *recordingJobs
	sink *testSink
	orch *Orchestrator
	job  *models.UploadJob
	sess *models.Session
}

func newFixture(t *testing.T, opts models.ExtractionOptions, timeout time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertEngagement(ctx, &models.Engagement{ID: "eng-1", Phase: 0}))

	sess := &models.Session{ID: "sess-1", DesignWeekID: "eng-1", SessionType: models.SessionUnknown, ProcessingStatus: models.ProcessingPending}
	require.NoError(t, st.CreateSession(ctx, sess))

	job := &models.UploadJob{
		ID:           "job-1",
		DesignWeekID: "eng-1",
		SessionID:    sess.ID,
		Artifact:     models.Artifact{Filename: "kickoff.txt", MIMEType: "text/plain"},
		Options:      opts,
		Status:       models.JobStatusQueued,
		CurrentStage: models.StageClassification,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	jobs := &recordingJobs{Jobs: st}
	sink := &testSink{st: st}
	orch := New(Config{
		Jobs:         jobs,
		Sessions:     st,
		Stages:       DefaultStages(st, sink),
		Metrics:      metrics.NewCollector(),
		StageTimeout: timeout,
	})
	return &fixture{st: st, jobs: jobs, sink: sink, orch: orch, job: job, sess: sess}
}

func (f *fixture) run(t *testing.T, text string, analyzers ...analysis.Analyzer) (*Run, error) {
	t.Helper()
	run, err := NewRun(f.job.Clone(), f.sess, []byte(text), analyzers)
	require.NoError(t, err)
	return run, f.orch.Execute(context.Background(), run)
}

const shortTranscript = `Alice: We want to cut customer wait time in half.
Bob: Everything goes through SAP.`

func longTranscript() string {
	line := "Alice: " + strings.Repeat("the agent handles refunds every day ", 12) + "\n"
	return strings.Repeat(line, 200)
}

func kickoffFake() *analysistest.Fake {
	return analysistest.New("fake").
		WithClassification(models.SessionKickoff, 0.9).
		WithItems(analysis.TaskGeneral,
			analysistest.Item(models.ItemGoal, "Cut wait time in half", 0.92),
			analysistest.Item(models.ItemSystemIntegration, "SAP", 0.6)).
		WithItems(analysis.TaskSpecialized,
			analysistest.Item(models.ItemStakeholder, "Alice owns the rollout", 0.8))
}

func TestExecuteCompletes(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	fake := kickoffFake()

	_, err := f.run(t, shortTranscript, fake)
	require.NoError(t, err)

	ctx := context.Background()
	job, err := f.st.GetJob(ctx, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	assert.Equal(t, models.StageComplete, job.CurrentStage)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.Error)

	items, err := f.st.ListItems(ctx, f.sess.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Contains(t, []models.ItemStatus{models.ItemStatusApproved, models.ItemStatusPending}, it.Status)
	}

	sess, err := f.st.GetSession(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingComplete, sess.ProcessingStatus)
	assert.Equal(t, models.SessionKickoff, sess.Classification)
	assert.Equal(t, models.SessionKickoff, sess.SessionType)

	eng, err := f.st.GetEngagement(ctx, "eng-1")
	require.NoError(t, err)
	assert.Equal(t, 1, eng.Phase)

	profile, err := f.st.GetProfile(ctx, f.sess.ID)
	require.NoError(t, err)
	assert.Len(t, profile.Sections[models.SectionBusiness], 2)
	assert.Len(t, profile.Sections[models.SectionTechnical], 1)

	assert.Equal(t, 2, f.sink.calls)
}

func TestExecuteProgressIsMonotonic(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	run, err := f.run(t, longTranscript(), kickoffFake())
	require.NoError(t, err)
	require.Greater(t, len(run.Parts), 1, "long transcript should be chunked")

	reports := f.jobs.reports()
	require.NotEmpty(t, reports)
	lastStage, lastPercent := -1, -1
	for _, p := range reports {
		idx := p.Stage.Index()
		require.GreaterOrEqual(t, idx, lastStage, "stage went backwards at %+v", p)
		if idx > lastStage {
			lastPercent = -1
		}
		assert.GreaterOrEqual(t, p.Percent, lastPercent, "percent went backwards at %+v", p)
		lastStage, lastPercent = idx, p.Percent
	}
	assert.Equal(t, models.StageComplete, reports[len(reports)-1].Stage)
}

func TestExecuteClassificationFailure(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	fake := kickoffFake().WithError(analysis.TaskClassify, errors.New("upstream 500 from https://internal.example/api"))

	_, err := f.run(t, shortTranscript, fake)
	require.Error(t, err)

	job, _ := f.st.GetJob(context.Background(), f.job.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.StageClassification, job.CurrentStage)
	assert.Contains(t, job.Error, "content analysis failed")
	assert.NotContains(t, job.Error, "internal.example")
	assert.Equal(t, 0, fake.CallCount(analysis.TaskGeneral))

	for _, p := range f.jobs.reports() {
		assert.Equal(t, models.StageClassification, p.Stage)
	}

	sess, _ := f.st.GetSession(context.Background(), f.sess.ID)
	assert.Equal(t, models.ProcessingFailed, sess.ProcessingStatus)
	assert.NotEmpty(t, sess.ProcessingError)
}

func TestExecuteCancelledBetweenParts(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	cancelledAt := time.Now().Add(-time.Hour).UTC()
	fake := kickoffFake().WithHook(func(ctx context.Context, call analysistest.Call) error {
		if call.Task == analysis.TaskGeneral && call.Opts.Part == 1 {
			_, err := f.st.UpdateJob(ctx, f.job.ID, store.JobUpdate{
				Status:      models.JobStatusFailed,
				Error:       "Cancelled by user",
				CompletedAt: &cancelledAt,
			})
			return err
		}
		return nil
	})

	_, err := f.run(t, longTranscript(), fake)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, fake.CallCount(analysis.TaskGeneral))
	assert.Equal(t, 0, fake.CallCount(analysis.TaskSpecialized))

	job, _ := f.st.GetJob(context.Background(), f.job.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "Cancelled by user", job.Error)
	assert.True(t, job.CompletedAt.Equal(cancelledAt))
}

func TestExecuteTwoPassRefinesLowConfidence(t *testing.T) {
	opts, err := models.NewExtractionOptions(models.ModeTwoPass, nil)
	require.NoError(t, err)
	f := newFixture(t, opts, time.Minute)
	fake := kickoffFake().WithItems(analysis.TaskRefine,
		analysistest.Item(models.ItemSystemIntegration, "SAP S/4HANA (read only)", 0.85))

	run, err := f.run(t, shortTranscript, fake)
	require.NoError(t, err)
	require.Equal(t, 1, fake.CallCount(analysis.TaskRefine))

	var refineCall analysistest.Call
	for _, c := range fake.Calls() {
		if c.Task == analysis.TaskRefine {
			refineCall = c
		}
	}
	require.Len(t, refineCall.Opts.Items, 1)
	assert.Equal(t, "SAP", refineCall.Opts.Items[0].Content)

	contents := map[string]float64{}
	for _, it := range run.Items {
		contents[it.Content] = it.Confidence
	}
	assert.NotContains(t, contents, "SAP")
	assert.InDelta(t, 0.85, contents["SAP S/4HANA (read only)"], 1e-9)
	assert.Len(t, run.Items, 3)
}

func TestExecuteMultiModelReconciles(t *testing.T) {
	opts, err := models.NewExtractionOptions(models.ModeMultiModel, []string{"a", "b"})
	require.NoError(t, err)
	f := newFixture(t, opts, time.Minute)

	a := analysistest.New("a").
		WithClassification(models.SessionTechnical, 0.8).
		WithItems(analysis.TaskGeneral,
			analysistest.Item(models.ItemSystemIntegration, "Salesforce CRM", 0.9),
			analysistest.Item(models.ItemRisk, "Only model a saw this", 0.9))
	b := analysistest.New("b").
		WithClassification(models.SessionTechnical, 0.6).
		WithItems(analysis.TaskGeneral,
			analysistest.Item(models.ItemSystemIntegration, "salesforce crm", 0.7))

	run, err := f.run(t, shortTranscript, a, b)
	require.NoError(t, err)

	assert.Equal(t, models.SessionTechnical, run.Classification.Type)
	assert.InDelta(t, 0.7, run.Classification.Confidence, 1e-9)

	byContent := map[string]float64{}
	for _, it := range run.Items {
		byContent[it.Content] = it.Confidence
	}
	assert.InDelta(t, 0.8, byContent["Salesforce CRM"], 1e-9)
	assert.InDelta(t, 0.45, byContent["Only model a saw this"], 1e-9)
	assert.Equal(t, models.Usage{InputTokens: 100 * 6, OutputTokens: 20 * 6}, run.Usage)
}

func TestExecuteMultiModelIgnoresFailedModel(t *testing.T) {
	opts, err := models.NewExtractionOptions(models.ModeMultiModel, []string{"a", "b"})
	require.NoError(t, err)
	f := newFixture(t, opts, time.Minute)

	a := analysistest.New("a").
		WithClassification(models.SessionKickoff, 0.9).
		WithItems(analysis.TaskGeneral,
			analysistest.Item(models.ItemGoal, "Halve handling time", 0.95))
	outage := errors.New("503 service unavailable")
	b := analysistest.New("b").
		WithClassification(models.SessionKickoff, 0.9).
		WithError(analysis.TaskGeneral, outage).
		WithError(analysis.TaskSpecialized, outage)

	run, err := f.run(t, shortTranscript, a, b)
	require.NoError(t, err)

	require.Len(t, run.Items, 1)
	assert.Equal(t, "Halve handling time", run.Items[0].Content)
	assert.InDelta(t, 0.95, run.Items[0].Confidence, 1e-9)

	items, err := f.st.ListItems(context.Background(), run.Session.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ItemStatusApproved, items[0].Status)

	job, _ := f.st.GetJob(context.Background(), f.job.ID)
	assert.Equal(t, models.JobStatusComplete, job.Status)
}

type nilResult struct{ name string }

func (n nilResult) Name() string { return n.name }

func (nilResult) Analyze(context.Context, analysis.Content, analysis.Task, analysis.Options) (*analysis.Result, error) {
	return nil, nil
}

func TestExecuteMultiModelToleratesEmptyResult(t *testing.T) {
	opts, err := models.NewExtractionOptions(models.ModeMultiModel, []string{"a", "b"})
	require.NoError(t, err)
	f := newFixture(t, opts, time.Minute)

	a := analysistest.New("a").
		WithClassification(models.SessionKickoff, 0.9).
		WithItems(analysis.TaskGeneral,
			analysistest.Item(models.ItemGoal, "Halve handling time", 0.9))

	run, err := f.run(t, shortTranscript, a, nilResult{name: "b"})
	require.NoError(t, err)

	// b answered without items, so the item is averaged over both models.
	require.Len(t, run.Items, 1)
	assert.InDelta(t, 0.45, run.Items[0].Confidence, 1e-9)
	assert.Equal(t, models.SessionKickoff, run.Classification.Type)
}

func TestExecuteStageTimeout(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, 50*time.Millisecond)
	fake := kickoffFake().WithHook(func(ctx context.Context, call analysistest.Call) error {
		if call.Task == analysis.TaskGeneral {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	_, err := f.run(t, shortTranscript, fake)
	require.Error(t, err)

	job, _ := f.st.GetJob(context.Background(), f.job.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.StageGeneralExtraction, job.CurrentStage)
	assert.Contains(t, job.Error, "timed out")
}

type panicStage struct{}

func (panicStage) Name() models.Stage { return models.StageClassification }

func (panicStage) Execute(context.Context, *Run) error { panic("boom") }

func TestExecuteRecoversPanic(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	f.orch.stages = []Stage{panicStage{}}

	_, err := f.run(t, shortTranscript, kickoffFake())
	require.Error(t, err)

	job, _ := f.st.GetJob(context.Background(), f.job.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "internal panic")
}

func TestExecuteSkipsTerminalJob(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	now := time.Now()
	_, err := f.st.UpdateJob(context.Background(), f.job.ID, store.JobUpdate{Status: models.JobStatusFailed, Error: "Cancelled by user", CompletedAt: &now})
	require.NoError(t, err)

	fake := kickoffFake()
	_, err = f.run(t, shortTranscript, fake)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, fake.Calls())
}

func TestDeclaredSessionTypeSkipsClassifier(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	fake := kickoffFake()
	text := "---\ntitle: Signoff\nsession_type: signoff\n---\n" + shortTranscript

	run, err := f.run(t, text, fake)
	require.NoError(t, err)
	assert.Equal(t, 0, fake.CallCount(analysis.TaskClassify))
	assert.Equal(t, models.SessionSignoff, run.Classification.Type)

	eng, _ := f.st.GetEngagement(context.Background(), "eng-1")
	assert.Equal(t, 4, eng.Phase)
}

func TestLowConfidenceClassificationKeepsPhase(t *testing.T) {
	f := newFixture(t, models.ExtractionOptions{Mode: models.ModeStandard}, time.Minute)
	fake := kickoffFake().WithClassification(models.SessionTechnical, 0.5)

	_, err := f.run(t, shortTranscript, fake)
	require.NoError(t, err)

	eng, _ := f.st.GetEngagement(context.Background(), "eng-1")
	assert.Equal(t, 0, eng.Phase)
}

func TestNewRunBinaryArtifact(t *testing.T) {
	job := &models.UploadJob{ID: "j", Artifact: models.Artifact{Filename: "a.pdf", MIMEType: "application/pdf"}}
	run, err := NewRun(job, &models.Session{ID: "s"}, []byte("%PDF-1.7"), []analysis.Analyzer{analysistest.New("x")})
	require.NoError(t, err)
	require.Len(t, run.Parts, 1)
	assert.False(t, run.Parts[0].IsText())
	assert.Equal(t, "application/pdf", run.Parts[0].MIMEType)
}

func TestNewRunEmptyTranscript(t *testing.T) {
	job := &models.UploadJob{ID: "j", Artifact: models.Artifact{Filename: "a.txt", MIMEType: "text/plain"}}
	_, err := NewRun(job, &models.Session{ID: "s"}, []byte("   \n"), []analysis.Analyzer{analysistest.New("x")})
	assert.Error(t, err)
}
