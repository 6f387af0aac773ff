package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/intake/internal/apperr"
	"github.com/raphaelgruber/intake/internal/models"
)

const (
	watchWriteWait    = 10 * time.Second
	watchPingInterval = 10 * time.Second
)

// WatchMessage is one frame pushed to a watch connection.
type WatchMessage struct {
	Type  string            `json:"type"` // "snapshot" or "error"
	Job   *models.UploadJob `json:"job,omitempty"`
	Error string            `json:"error,omitempty"`
}

// handleWatch handles GET /v1/jobs/{id}/watch. It pushes the job record each
// time it changes and closes after the first terminal snapshot.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := s.jobs.GetProgress(r.Context(), jobID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so close and pong control messages are handled.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("watch started", "job_id", jobID)

	poll := time.NewTicker(s.watchInterval)
	defer poll.Stop()
	ping := time.NewTicker(watchPingInterval)
	defer ping.Stop()

	var last []byte
	for {
		payload, err := json.Marshal(WatchMessage{Type: "snapshot", Job: job})
		if err != nil {
			s.logger.Error("failed to encode job snapshot", "job_id", jobID, "error", err)
			return
		}
		if !bytes.Equal(payload, last) {
			if err := writeFrame(conn, websocket.TextMessage, payload); err != nil {
				s.logger.Debug("watch client gone", "job_id", jobID, "error", err)
				return
			}
			last = payload
		}
		if job.IsDone() {
			closeWatch(conn, websocket.CloseNormalClosure, string(job.Status))
			s.logger.Debug("watch finished", "job_id", jobID, "status", job.Status)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-poll.C:
		}

		job, err = s.jobs.GetProgress(ctx, jobID)
		if err != nil {
			msg, _ := json.Marshal(WatchMessage{Type: "error", Error: apperr.PublicMessage(err)})
			_ = writeFrame(conn, websocket.TextMessage, msg)
			closeWatch(conn, websocket.CloseInternalServerErr, "job unavailable")
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, messageType int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(watchWriteWait)); err != nil {
		return err
	}
	return conn.WriteMessage(messageType, data)
}

func closeWatch(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(watchWriteWait))
}
