package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/doggobot/sentry/internal/models"
	"github.com/doggobot/sentry/internal/overlay"
)

// handleStream serves the live event stream over Server-Sent Events. The
// first event is the hub's connected greeting; heartbeats arrive on the hub's
// interval. There is no replay: consumers reconnect with backoff and treat
// any gap as potentially lost events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sub, err := s.hub.Subscribe()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "stream shutting down")
		return
	}
	defer s.hub.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				// Evicted for falling behind, or hub shutdown.
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.log.Error("failed to marshal event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleFrameData returns the latest frame as a JSON data URL plus its
// detection boxes, for dashboards that poll instead of streaming video.
// Optional view_w/view_h query parameters project the boxes into a viewport
// of that size (letterbox fit) so the client can draw them directly.
func (s *Server) handleFrameData(w http.ResponseWriter, r *http.Request) {
	f, ok := s.cache.Latest()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"frame":          nil,
			"bounding_boxes": []any{},
			"face_count":     0,
		})
		return
	}

	var frame any
	if len(f.JPEG) > 0 {
		frame = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG)
	}

	boxes := f.Boxes
	q := r.URL.Query()
	if q.Has("view_w") || q.Has("view_h") {
		viewW, errW := strconv.ParseFloat(q.Get("view_w"), 64)
		viewH, errH := strconv.ParseFloat(q.Get("view_h"), 64)
		if errW != nil || errH != nil || viewW <= 0 || viewH <= 0 {
			writeError(w, http.StatusBadRequest, "view_w and view_h must be positive numbers")
			return
		}
		t := overlay.Fit(float64(f.Width), float64(f.Height), viewW, viewH)
		boxes = make([]models.Box, len(f.Boxes))
		for i, b := range f.Boxes {
			boxes[i] = t.Apply(b)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"frame":          frame,
		"bounding_boxes": boxes,
		"face_count":     len(boxes),
		"width":          f.Width,
		"height":         f.Height,
	})
}

// handleVideoFeed serves the latest-frame slot as an MJPEG stream at roughly
// 30 fps. Every viewer reads the same single slot; there is no per-viewer
// history.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			f, ok := s.cache.Latest()
			if !ok || len(f.JPEG) == 0 {
				continue
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(f.JPEG)); err != nil {
				return
			}
			if _, err := w.Write(f.JPEG); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
