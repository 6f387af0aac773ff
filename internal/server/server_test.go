package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake/internal/analysis"
	"github.com/raphaelgruber/intake/internal/analysis/analysistest"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/blob"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/pipeline"
	"github.com/raphaelgruber/intake/internal/server"
	"github.com/raphaelgruber/intake/internal/service"
	"github.com/raphaelgruber/intake/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	st   *memory.Store
	jobs *service.JobService
	fake *analysistest.Fake
	http *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	require.NoError(t, st.UpsertEngagement(ctx, &models.Engagement{ID: "eng-1", Name: "Acme"}))
	require.NoError(t, st.CreateSession(ctx, &models.Session{ID: "sess-x", DesignWeekID: "eng-1"}))

	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	fake := analysistest.New("fake").
		WithClassification(models.SessionProcess, 0.9).
		WithItems(analysis.TaskGeneral, analysistest.Item(models.ItemHappyPathStep, "Agent verifies the caller", 0.85)).
		WithItems(analysis.TaskTranscript, analysistest.Item(models.ItemDecision, "Launch in March", 0.9))
	registry := analysis.NewRegistry(fake)
	sink := service.NewSink(st)
	m := metrics.NewCollector()
	validator := artifact.New(8 << 20)

	jobs := service.NewJobService(service.JobConfig{
		Store:     st,
		Blobs:     blobs,
		Validator: validator,
		Registry:  registry,
		Orchestrator: pipeline.New(pipeline.Config{
			Jobs:         st,
			Sessions:     st,
			Stages:       pipeline.DefaultStages(st, sink),
			Metrics:      m,
			StageTimeout: time.Minute,
		}),
		Metrics: m,
	})
	t.Cleanup(jobs.Wait)

	srv := server.New(server.Deps{
		Jobs:          jobs,
		Extract:       service.NewExtractService(st, registry, sink),
		Validator:     validator,
		Metrics:       m,
		OpLog:         st,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		WatchInterval: 10 * time.Millisecond,
	})
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	return &fixture{st: st, jobs: jobs, fake: fake, http: hs}
}

func upload(t *testing.T, f *fixture, engagementID, filename, contentType string, data []byte, fields map[string]string) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, f.http.URL+"/v1/engagements/"+engagementID+"/uploads", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func mp3() []byte {
	data := make([]byte, 4096)
	copy(data, "ID3")
	return data
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadAndPoll(t *testing.T) {
	f := newFixture(t)

	resp := upload(t, f, "eng-1", "workshop.mp3", "audio/mpeg", mp3(), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[service.StartResult](t, resp)
	assert.Equal(t, models.JobStatusQueued, started.Status)
	require.NotEmpty(t, started.JobID)

	f.jobs.Wait()

	jobResp, err := http.Get(f.http.URL + "/v1/jobs/" + started.JobID)
	require.NoError(t, err)
	defer jobResp.Body.Close()
	require.Equal(t, http.StatusOK, jobResp.StatusCode)
	job := decode[models.UploadJob](t, jobResp)
	assert.Equal(t, models.JobStatusComplete, job.Status)
	require.NotNil(t, job.StageProgress)
	assert.Equal(t, 100, job.StageProgress.Percent)

	itemsResp, err := http.Get(f.http.URL + "/v1/sessions/" + started.SessionID + "/items")
	require.NoError(t, err)
	defer itemsResp.Body.Close()
	items := decode[struct {
		Items []models.ExtractedItem `json:"items"`
	}](t, itemsResp)
	require.Len(t, items.Items, 1)
	assert.Equal(t, models.ItemStatusApproved, items.Items[0].Status)
}

func TestUploadRejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name        string
		engagement  string
		filename    string
		contentType string
		data        []byte
		fields      map[string]string
		want        int
	}{
		{"signature mismatch", "eng-1", "report.pdf", "application/pdf", []byte("not a pdf"), nil, http.StatusBadRequest},
		{"disallowed extension", "eng-1", "run.exe", "application/octet-stream", []byte("MZ"), nil, http.StatusBadRequest},
		{"unknown engagement", "eng-404", "a.mp3", "audio/mpeg", mp3(), nil, http.StatusNotFound},
		{"invalid mode", "eng-1", "a.mp3", "audio/mpeg", mp3(), map[string]string{"extractionMode": "turbo"}, http.StatusBadRequest},
		{"unknown model", "eng-1", "a.mp3", "audio/mpeg", mp3(), map[string]string{"extractionMode": "multi-model", "models": "fake,nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := upload(t, f, tt.engagement, tt.filename, tt.contentType, tt.data, tt.fields)
			assert.Equal(t, tt.want, resp.StatusCode)
			body := decode[map[string]string](t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}

	listResp, err := http.Get(f.http.URL + "/v1/engagements/eng-1/jobs")
	require.NoError(t, err)
	defer listResp.Body.Close()
	list := decode[struct {
		Jobs []models.UploadJob `json:"jobs"`
	}](t, listResp)
	assert.Empty(t, list.Jobs)
}

func TestUploadMissingFile(t *testing.T) {
	f := newFixture(t)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("extractionMode", "standard"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.http.URL+"/v1/engagements/eng-1/uploads", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadOversized(t *testing.T) {
	f := newFixture(t)
	data := make([]byte, 8<<20+4096)
	copy(data, "ID3")

	resp := upload(t, f, "eng-1", "big.mp3", "audio/mpeg", data, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Contains(t, body["error"], "maximum size")
}

func TestCancelAndRetry(t *testing.T) {
	f := newFixture(t)

	resp := upload(t, f, "eng-1", "a.mp3", "audio/mpeg", mp3(), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[service.StartResult](t, resp)
	f.jobs.Wait()

	cancelResp, err := http.Post(f.http.URL+"/v1/jobs/"+started.JobID+"/cancel", "", nil)
	require.NoError(t, err)
	defer cancelResp.Body.Close()
	require.Equal(t, http.StatusOK, cancelResp.StatusCode)
	cancelled := decode[service.CancelResult](t, cancelResp)
	assert.True(t, cancelled.AlreadyFinished)
	assert.Equal(t, models.JobStatusComplete, cancelled.Status)

	retryResp, err := http.Post(f.http.URL+"/v1/jobs/"+started.JobID+"/retry", "", nil)
	require.NoError(t, err)
	defer retryResp.Body.Close()
	require.Equal(t, http.StatusAccepted, retryResp.StatusCode)
	retried := decode[service.StartResult](t, retryResp)
	assert.NotEqual(t, started.JobID, retried.JobID)
	assert.Equal(t, started.SessionID, retried.SessionID)
	f.jobs.Wait()

	missing, err := http.Post(f.http.URL+"/v1/jobs/nope/cancel", "", nil)
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestExtractEndpoint(t *testing.T) {
	f := newFixture(t)

	body := strings.NewReader(`{"transcriptText":"Alice: we launch in March","sessionType":"signoff"}`)
	resp, err := http.Post(f.http.URL+"/v1/sessions/sess-x/extract", "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[service.ExtractResult](t, resp)
	assert.Equal(t, 1, res.ItemCount)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Launch in March", res.Items[0].Content)

	bad, err := http.Post(f.http.URL+"/v1/sessions/sess-x/extract", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	resp := upload(t, f, "eng-1", "a.mp3", "audio/mpeg", mp3(), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	f.jobs.Wait()

	statsResp, err := http.Get(f.http.URL + "/v1/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	require.Equal(t, http.StatusOK, statsResp.StatusCode)

	stats := decode[struct {
		Metrics struct {
			JobsStarted   int64 `json:"jobs_started"`
			JobsCompleted int64 `json:"jobs_completed"`
		} `json:"metrics"`
	}](t, statsResp)
	assert.Equal(t, int64(1), stats.Metrics.JobsStarted)
	assert.Equal(t, int64(1), stats.Metrics.JobsCompleted)

	bad, err := http.Get(f.http.URL + "/v1/stats?limit=zero")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestWatchClosesAfterTerminalSnapshot(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.fake.WithHook(func(ctx context.Context, call analysistest.Call) error {
		if call.Task == analysis.TaskClassify {
			<-release
		}
		return nil
	})

	resp := upload(t, f, "eng-1", "a.mp3", "audio/mpeg", mp3(), nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decode[service.StartResult](t, resp)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/v1/jobs/" + started.JobID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first server.WatchMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Job)
	assert.False(t, first.Job.IsDone())

	close(release)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var last server.WatchMessage
	for {
		var msg server.WatchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		last = msg
	}
	require.NotNil(t, last.Job)
	assert.Equal(t, models.JobStatusComplete, last.Job.Status)
}

func TestWatchUnknownJob(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/v1/jobs/missing/watch"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.http.URL + "/v1/nothing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
