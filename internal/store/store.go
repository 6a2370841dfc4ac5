// Package store persists alerts in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doggobot/sentry/internal/metrics"
	"github.com/doggobot/sentry/internal/models"
)

const (
	maxRetries   = 3
	retryBackoff = 100 * time.Millisecond
	defaultLimit = 20
	maxLimit     = 1000
)

// Store manages alert persistence over a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects to PostgreSQL and verifies the connection.
func New(ctx context.Context, connString string, log *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Pool exposes the underlying pool for components sharing the connection,
// such as the roster store.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping reports database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Create persists the alert. A missing id or timestamp is filled in; the
// timestamp drives listing order. Transient connection failures are retried
// with backoff; a write that still fails returns a StoreWriteError so the
// caller can roll back its cooldown reservation.
func (s *Store) Create(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if !a.Status.Valid() {
		return &models.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", a.Status)}
	}

	meta, err := json.Marshal(a.Meta)
	if err != nil {
		return &models.ValidationError{Field: "meta", Reason: err.Error()}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.StoreRetries.Inc()
			select {
			case <-time.After(retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return &models.StoreWriteError{Op: "create", Err: ctx.Err()}
			}
		}

		_, lastErr = s.pool.Exec(ctx, `
			INSERT INTO alerts
			(id, created_at, status, identity, confidence, distance, angle, snapshot_path, acknowledged, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
			a.ID, a.CreatedAt, a.Status, nullable(a.Identity), a.Confidence,
			a.Distance, a.Angle, nullable(a.SnapshotPath), meta)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		s.log.Warn("transient alert write failure, retrying",
			"alert", a.ID, "attempt", attempt+1, "error", lastErr)
	}

	return &models.StoreWriteError{Op: "create", Err: lastErr}
}

// Get returns one alert by id, or models.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*models.Alert, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, created_at, status, identity, confidence, distance, angle,
		       snapshot_path, acknowledged, meta
		FROM alerts WHERE id = $1`, id)

	a, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return a, nil
}

// List returns a page of alerts, newest first with id as tie-break so a
// stable dataset never skips or duplicates rows across consecutive pages.
// Filters AND-combine.
func (s *Store) List(ctx context.Context, f models.ListFilter) ([]models.Alert, error) {
	query := `
		SELECT id, created_at, status, identity, confidence, distance, angle,
		       snapshot_path, acknowledged, meta
		FROM alerts WHERE 1=1`
	var args []any

	if f.Status != nil {
		args = append(args, *f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Acknowledged != nil {
		args = append(args, *f.Acknowledged)
		query += fmt.Sprintf(" AND acknowledged = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	args = append(args, max(f.Offset, 0))
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Acknowledge flips the alert's acknowledged flag. The transition is one-way
// and idempotent: changed is true only on the first call, and acknowledging an
// already-acknowledged alert succeeds without effect.
func (s *Store) Acknowledge(ctx context.Context, id string) (changed bool, err error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged = true WHERE id = $1 AND NOT acknowledged`, id)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check alert %s: %w", id, err)
	}
	if !exists {
		return false, models.ErrNotFound
	}
	return false, nil
}

// MergeMeta merges fields into the alert's metadata, used by the snapshot
// annotator after the alert already exists.
func (s *Store) MergeMeta(ctx context.Context, id string, meta map[string]any) error {
	patch, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET meta = COALESCE(meta, '{}'::jsonb) || $2::jsonb WHERE id = $1`,
		id, patch)
	if err != nil {
		return fmt.Errorf("failed to merge meta for alert %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Stats returns aggregate counts for the service metrics endpoint.
func (s *Store) Stats(ctx context.Context) (total, unacknowledged int, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT acknowledged) FROM alerts`).
		Scan(&total, &unacknowledged)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return total, unacknowledged, nil
}

func retryable(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}
	return false
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var a models.Alert
	var identity, snapshot *string
	var meta []byte
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Status, &identity, &a.Confidence,
		&a.Distance, &a.Angle, &snapshot, &a.Acknowledged, &meta)
	if err != nil {
		return nil, err
	}
	if identity != nil {
		a.Identity = *identity
	}
	if snapshot != nil {
		a.SnapshotPath = *snapshot
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Meta); err != nil {
			return nil, fmt.Errorf("corrupt meta for alert %s: %w", a.ID, err)
		}
	}
	return &a, nil
}
