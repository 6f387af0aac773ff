package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/metrics"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/service"
)

// multipartMemory is how much of a multipart form is kept in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

// formOverhead is the slack allowed on top of the file cap for the other
// multipart fields and boundaries.
const formOverhead = 1 << 20

// maxExtractBody caps the JSON body of a synchronous extract.
const maxExtractBody = 16 << 20

const defaultStatsLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok\n")
}

// handleUpload handles POST /v1/engagements/{id}/uploads
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	engagementID := mux.Vars(r)["id"]

	if r.ContentLength > s.validator.MaxBytes()+formOverhead {
		s.writeError(w, r, s.validator.CheckSize(r.ContentLength))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.validator.MaxBytes()+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, s.validator.CheckSize(tooLarge.Limit+1))
			return
		}
		s.writeError(w, r, apperr.Validation("invalid multipart form: %v", err))
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, apperr.Validation("file is required"))
		return
	}
	defer file.Close()

	if err := s.validator.CheckSize(header.Size); err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, apperr.Validation("read upload: %v", err))
		return
	}

	res, err := s.jobs.Start(r.Context(), service.StartRequest{
		EngagementID: engagementID,
		Filename:     header.Filename,
		MIMEType:     header.Header.Get("Content-Type"),
		Data:         data,
		Mode:         r.FormValue("extractionMode"),
		Models:       formList(r.MultipartForm.Value["models"]),
		SessionID:    strings.TrimSpace(r.FormValue("sessionId")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// formList flattens repeated and comma-separated form values.
func formList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// handleGetJob handles GET /v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetProgress(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancel handles POST /v1/jobs/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRetry handles POST /v1/jobs/{id}/retry
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	res, err := s.jobs.Retry(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// handleListJobs handles GET /v1/engagements/{id}/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListJobs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*models.UploadJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleListItems handles GET /v1/sessions/{id}/items
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.jobs.ListItems(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*models.ExtractedItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleExtract handles POST /v1/sessions/{id}/extract
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req service.ExtractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExtractBody)).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	req.SessionID = mux.Vars(r)["id"]

	res, err := s.extract.Extract(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type statsResponse struct {
	Metrics    *metrics.Snapshot     `json:"metrics,omitempty"`
	Operations []models.OperationLog `json:"operations"`
}

// handleStats handles GET /v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	limit := defaultStatsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, r, apperr.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	resp := statsResponse{Operations: []models.OperationLog{}}
	if s.metrics != nil {
		snap := s.metrics.Snapshot()
		resp.Metrics = &snap
	}
	if s.oplog != nil {
		ops, err := s.oplog.Recent(r.Context(), limit)
		if err != nil {
			s.writeError(w, r, apperr.Persistence(err))
			return
		}
		if ops != nil {
			resp.Operations = ops
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
