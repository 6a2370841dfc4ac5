// Package server exposes the pipeline over HTTP: ingestion endpoints for
// perception producers, the query surface for the dashboard, and the live
// event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doggobot/sentry/internal/framecache"
	"github.com/doggobot/sentry/internal/hub"
	"github.com/doggobot/sentry/internal/ingest"
	"github.com/doggobot/sentry/internal/metrics"
	"github.com/doggobot/sentry/internal/models"
	"github.com/doggobot/sentry/internal/roster"
)

// AlertStore is the query surface the handlers need from the alert store.
type AlertStore interface {
	Get(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, f models.ListFilter) ([]models.Alert, error)
	Acknowledge(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (total, unacknowledged int, err error)
}

// RosterDirectory serves the whitelist endpoints. Optional.
type RosterDirectory interface {
	Identities(ctx context.Context) ([]roster.IdentityInfo, error)
	Refresh(ctx context.Context) error
}

// Config wires the server's collaborators.
type Config struct {
	Log     *slog.Logger
	Store   AlertStore
	Gateway *ingest.Gateway
	Hub     *hub.Hub
	Cache   *framecache.Cache
	Roster  RosterDirectory

	// APIKey guards producer endpoints when non-empty.
	APIKey string
	// StoragePath is the root for snapshots served under /static/.
	StoragePath string
	// Health reports backing-store reachability; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server is the HTTP front of the pipeline.
type Server struct {
	log         *slog.Logger
	store       AlertStore
	gateway     *ingest.Gateway
	hub         *hub.Hub
	cache       *framecache.Cache
	roster      RosterDirectory
	apiKey      string
	storagePath string
	health      func(ctx context.Context) error
}

// New builds the server.
func New(cfg Config) *Server {
	return &Server{
		log:         cfg.Log,
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		hub:         cfg.Hub,
		cache:       cfg.Cache,
		roster:      cfg.Roster,
		apiKey:      cfg.APIKey,
		storagePath: cfg.StoragePath,
		health:      cfg.Health,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.Handle("GET /prometheus", promhttp.Handler())

	mux.HandleFunc("POST /frame", s.requireKey(s.handleFrame))
	mux.HandleFunc("POST /alert", s.requireKey(s.handleAlert))

	mux.HandleFunc("GET /alerts", s.handleListAlerts)
	mux.HandleFunc("GET /alerts/{id}", s.handleGetAlert)
	mux.HandleFunc("POST /alerts/{id}/ack", s.handleAcknowledge)
	// Legacy alias kept for older producers.
	mux.HandleFunc("POST /ack/{id}", s.handleAcknowledge)

	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /frame_data", s.handleFrameData)
	mux.HandleFunc("GET /video_feed", s.handleVideoFeed)

	mux.HandleFunc("GET /whitelist", s.handleWhitelist)
	mux.HandleFunc("POST /whitelist/refresh", s.handleWhitelistRefresh)

	if s.storagePath != "" {
		mux.Handle("GET /static/",
			http.StripPrefix("/static/", http.FileServer(http.Dir(s.storagePath))))
	}

	return s.instrument(mux)
}

// statusWriter captures the response code for the request counter.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer so streaming handlers keep working.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request counts and durations per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.RequestDuration.WithLabelValues(r.Method, endpoint).
			Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(r.Method, endpoint,
			strconv.Itoa(sw.status)).Inc()
	})
}

// requireKey guards producer endpoints with the shared API key.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreError maps store/validation errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, "alert not found")
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
