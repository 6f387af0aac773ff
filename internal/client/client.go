// Package client provides an HTTP client for the intake server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake/internal/artifact"
	"github.com/raphaelgruber/intake/internal/models"
)

// Client talks to the intake REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses INTAKE_SERVER_URL env var or defaults to localhost:8585.
// Timeout can be configured via INTAKE_CLIENT_TIMEOUT env var (default 5m for large uploads).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("INTAKE_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8585"
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("INTAKE_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// do sends req and decodes a JSON response into result.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

// =============================================================================
// TYPES
// =============================================================================

// UploadOptions are the optional fields of an upload.
type UploadOptions struct {
	Mode      string
	Models    []string
	SessionID string
}

// UploadResult identifies a queued job.
type UploadResult struct {
	JobID     string           `json:"jobId"`
	SessionID string           `json:"sessionId"`
	Status    models.JobStatus `json:"status"`
}

// CancelResult is the outcome of a cancel request.
type CancelResult struct {
	Message         string           `json:"message"`
	Status          models.JobStatus `json:"status"`
	AlreadyFinished bool             `json:"alreadyFinished"`
}

// ExtractResult is the outcome of a synchronous extraction.
type ExtractResult struct {
	ItemCount int                     `json:"itemCount"`
	Items     []*models.ExtractedItem `json:"items"`
	Usage     models.Usage            `json:"usage"`
}

// Stats is the server's metrics snapshot plus recent analysis calls.
type Stats struct {
	Metrics    json.RawMessage       `json:"metrics"`
	Operations []models.OperationLog `json:"operations"`
}

// =============================================================================
// JOBS
// =============================================================================

// Upload sends the file at path to an engagement.
func (c *Client) Upload(ctx context.Context, engagementID, path string, opts UploadOptions) (*UploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return c.UploadBytes(ctx, engagementID, filepath.Base(path), data, opts)
}

// UploadBytes sends data as a file named filename.
func (c *Client) UploadBytes(ctx context.Context, engagementID, filename string, data []byte, opts UploadOptions) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	contentType := artifact.MIMEFor(filename)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}

	fields := map[string]string{
		"extractionMode": opts.Mode,
		"models":         strings.Join(opts.Models, ","),
		"sessionId":      opts.SessionID,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/engagements/"+url.PathEscape(engagementID)+"/uploads", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResult
	if err := c.do(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetJob fetches a job snapshot.
func (c *Client) GetJob(ctx context.Context, id string) (*models.UploadJob, error) {
	var job models.UploadJob
	if err := c.getJSON(ctx, "/v1/jobs/"+url.PathEscape(id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob cancels a job. Cancelling a finished job is not an error.
func (c *Client) CancelJob(ctx context.Context, id string) (*CancelResult, error) {
	var res CancelResult
	if err := c.postJSON(ctx, "/v1/jobs/"+url.PathEscape(id)+"/cancel", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RetryJob queues a new job repeating a finished one.
func (c *Client) RetryJob(ctx context.Context, id string) (*UploadResult, error) {
	var res UploadResult
	if err := c.postJSON(ctx, "/v1/jobs/"+url.PathEscape(id)+"/retry", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListJobs lists an engagement's jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context, engagementID string) ([]models.UploadJob, error) {
	var res struct {
		Jobs []models.UploadJob `json:"jobs"`
	}
	if err := c.getJSON(ctx, "/v1/engagements/"+url.PathEscape(engagementID)+"/jobs", &res); err != nil {
		return nil, err
	}
	return res.Jobs, nil
}

// ListItems lists a session's extracted items.
func (c *Client) ListItems(ctx context.Context, sessionID string) ([]models.ExtractedItem, error) {
	var res struct {
		Items []models.ExtractedItem `json:"items"`
	}
	if err := c.getJSON(ctx, "/v1/sessions/"+url.PathEscape(sessionID)+"/items", &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// Extract runs synchronous transcript extraction into a session.
func (c *Client) Extract(ctx context.Context, sessionID, transcriptText, sessionType string) (*ExtractResult, error) {
	payload := map[string]string{
		"transcriptText": transcriptText,
		"sessionType":    sessionType,
	}
	var res ExtractResult
	if err := c.postJSON(ctx, "/v1/sessions/"+url.PathEscape(sessionID)+"/extract", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetStats fetches the server metrics and the last limit analysis calls.
func (c *Client) GetStats(ctx context.Context, limit int) (*Stats, error) {
	path := "/v1/stats"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var res Stats
	if err := c.getJSON(ctx, path, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// =============================================================================
// WATCH
// =============================================================================

// watchMessage mirrors the server's watch frame.
type watchMessage struct {
	Type  string            `json:"type"`
	Job   *models.UploadJob `json:"job,omitempty"`
	Error string            `json:"error,omitempty"`
}

// Watch streams job snapshots until the job finishes. onSnapshot is called
// for every change; return an error from it to stop watching.
func (c *Client) Watch(ctx context.Context, jobID string, onSnapshot func(job *models.UploadJob) error) error {
	wsURL := c.baseURL
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	u, err := url.Parse(wsURL + "/v1/jobs/" + url.PathEscape(jobID) + "/watch")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return &APIError{StatusCode: resp.StatusCode, Message: "watch rejected"}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var msg watchMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		switch msg.Type {
		case "snapshot":
			if msg.Job == nil {
				continue
			}
			if err := onSnapshot(msg.Job); err != nil {
				return err
			}
			if msg.Job.IsDone() {
				return nil
			}
		case "error":
			return fmt.Errorf("watch error: %s", msg.Error)
		}
	}
}
