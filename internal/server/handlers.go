package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doggobot/sentry/internal/hub"
	"github.com/doggobot/sentry/internal/ingest"
	"github.com/doggobot/sentry/internal/models"
	"github.com/doggobot/sentry/internal/roster"
)

const maxUploadBytes = 10 << 20

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "sentry",
		"status":  "online",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	dbOK := true

	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			dbOK = false
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"database":  dbOK,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	total, unacked, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total_alerts":          total,
		"unacknowledged_alerts": unacked,
		"stream_subscribers":    s.hub.Subscribers(),
		"timestamp":             time.Now().UTC(),
	})
}

// handleFrame accepts a detection batch: multipart with an optional "frame"
// JPEG plus "detections"/"width"/"height" fields, or a bare JSON body for
// producers that send geometry only.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	var frame models.DetectionFrame
	var jpeg []byte

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadBytes)).Decode(&frame); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
			return
		}

		if file, _, err := r.FormFile("frame"); err == nil {
			jpeg, err = io.ReadAll(io.LimitReader(file, maxUploadBytes))
			file.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "failed to read frame")
				return
			}
		}

		if raw := r.FormValue("detections"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &frame.Observations); err != nil {
				writeError(w, http.StatusBadRequest, "invalid detections JSON")
				return
			}
		}
		frame.Width, _ = strconv.Atoi(r.FormValue("width"))
		frame.Height, _ = strconv.Atoi(r.FormValue("height"))
	}

	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}

	if err := s.gateway.SubmitFrame(r.Context(), frame, jpeg); err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "accepted",
		"face_count": len(frame.Observations),
	})
}

// handleAlert accepts a stand-alone alert: a "payload" form field with the
// alert JSON plus an optional "snapshot" JPEG.
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var alert models.Alert
	if err := json.Unmarshal([]byte(r.FormValue("payload")), &alert); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	alert.ID = uuid.NewString()
	alert.Acknowledged = false

	// Validate before touching disk so a rejected payload leaves no orphan
	// snapshot file behind.
	if err := ingest.ValidateAlert(&alert); err != nil {
		s.writeStoreError(w, err)
		return
	}

	if file, _, err := r.FormFile("snapshot"); err == nil {
		path, saveErr := s.saveSnapshot(alert.ID, file)
		file.Close()
		if saveErr != nil {
			s.log.Error("failed to save snapshot", "alert", alert.ID, "error", saveErr)
			writeError(w, http.StatusInternalServerError, "failed to save snapshot")
			return
		}
		alert.SnapshotPath = path
	}

	id, err := s.gateway.SubmitAlert(r.Context(), &alert)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) saveSnapshot(alertID string, src io.Reader) (string, error) {
	dir := filepath.Join(s.storagePath, "snapshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := alertID + ".jpg"
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(src, maxUploadBytes)); err != nil {
		return "", err
	}
	return "static/snapshots/" + name, nil
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	alerts, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func parseListFilter(r *http.Request) (models.ListFilter, error) {
	q := r.URL.Query()
	var f models.ListFilter

	if v := q.Get("status"); v != "" {
		st := models.Status(v)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", v)
		}
		f.Status = &st
	}
	if v := q.Get("acknowledged"); v != "" {
		acked, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("acknowledged must be a boolean")
		}
		f.Acknowledged = &acked
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("since must be RFC 3339")
		}
		f.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("until must be RFC 3339")
		}
		f.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("limit must be a non-negative integer")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("offset must be a non-negative integer")
		}
		f.Offset = n
	}

	return f, nil
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

// handleAcknowledge is idempotent: re-acknowledging succeeds without a second
// broadcast.
func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	changed, err := s.store.Acknowledge(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if changed {
		s.hub.Publish(hub.TypeAck, map[string]any{"alert_id": id})
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "acknowledged",
		"alert_id": id,
	})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	if s.roster == nil {
		writeError(w, http.StatusNotFound, "roster not configured")
		return
	}

	ids, err := s.roster.Identities(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if ids == nil {
		ids = []roster.IdentityInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"whitelist": ids,
		"count":     len(ids),
	})
}

func (s *Server) handleWhitelistRefresh(w http.ResponseWriter, r *http.Request) {
	if s.roster == nil {
		writeError(w, http.StatusNotFound, "roster not configured")
		return
	}

	if err := s.roster.Refresh(r.Context()); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}
