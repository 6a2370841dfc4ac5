// Package roster manages the set of known identities and their reference face
// embeddings.
//
// Identities live in Postgres (pgvector columns); the classifier reads them
// through immutable in-memory snapshots so a concurrent refresh can never
// expose a partially updated roster.
package roster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingDim is the dlib face descriptor length. The roster_embeddings
// column is vector(128); producers and the enrollment embedder both emit this
// dimension, and Enroll rejects anything else so a reference that could never
// match is caught at write time instead of being silently skipped by Nearest.
const EmbeddingDim = 128

// Provider supplies roster snapshots to the classifier.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Entry is one identity with its reference embeddings.
type Entry struct {
	Name       string
	Embeddings [][]float32
}

// Snapshot is an immutable point-in-time view of the roster. All methods are
// read-only and safe for concurrent use.
type Snapshot struct {
	entries []Entry
	names   map[string]struct{}
	builtAt time.Time
}

// NewSnapshot builds a snapshot from entries. The caller must not mutate
// entries afterwards.
func NewSnapshot(entries []Entry) *Snapshot {
	names := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		names[e.Name] = struct{}{}
	}
	return &Snapshot{entries: entries, names: names, builtAt: time.Now()}
}

// Nearest returns the identity whose reference embeddings are closest to vec,
// with the similarity distance clamped to [0,1]. ok is false on an empty
// roster or a dimension mismatch with every entry.
func (s *Snapshot) Nearest(vec []float32) (name string, dist float64, ok bool) {
	best := math.Inf(1)
	for _, e := range s.entries {
		for _, ref := range e.Embeddings {
			if len(ref) != len(vec) {
				continue
			}
			if d := euclidean(vec, ref); d < best {
				best = d
				name = e.Name
				ok = true
			}
		}
	}
	if !ok {
		return "", 0, false
	}
	return name, math.Min(best, 1), true
}

// Has reports whether name is on the roster.
func (s *Snapshot) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Names lists roster identities.
func (s *Snapshot) Names() []string {
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Name)
	}
	return out
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Store is the Postgres-backed roster with a TTL-cached snapshot.
type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
	ttl  time.Duration

	mu   sync.RWMutex
	snap *Snapshot
}

// NewStore wraps an existing connection pool. refreshTTL bounds how stale a
// cached snapshot may be; zero or negative means 30s.
func NewStore(pool *pgxpool.Pool, log *slog.Logger, refreshTTL time.Duration) *Store {
	if refreshTTL <= 0 {
		refreshTTL = 30 * time.Second
	}
	return &Store{pool: pool, log: log, ttl: refreshTTL}
}

// Snapshot returns the cached snapshot, reloading from Postgres when it has
// gone stale. If the reload fails while a cached snapshot exists, the stale
// snapshot is served rather than failing the classification.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	if snap != nil && time.Since(snap.builtAt) < s.ttl {
		return snap, nil
	}

	fresh, err := s.load(ctx)
	if err != nil {
		if snap != nil {
			s.log.Warn("roster reload failed, serving stale snapshot", "error", err)
			return snap, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.snap = fresh
	s.mu.Unlock()
	return fresh, nil
}

// Refresh forces a reload, replacing the cached snapshot.
func (s *Store) Refresh(ctx context.Context) error {
	fresh, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = fresh
	s.mu.Unlock()
	s.log.Info("roster refreshed", "identities", len(fresh.entries))
	return nil
}

func (s *Store) load(ctx context.Context) (*Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.name, e.embedding
		FROM roster_identities i
		JOIN roster_embeddings e ON e.identity_id = i.id
		ORDER BY i.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]int)
	var entries []Entry
	for rows.Next() {
		var name string
		var vec pgvector.Vector
		if err := rows.Scan(&name, &vec); err != nil {
			return nil, fmt.Errorf("failed to scan roster row: %w", err)
		}
		idx, ok := byName[name]
		if !ok {
			idx = len(entries)
			byName[name] = idx
			entries = append(entries, Entry{Name: name})
		}
		entries[idx].Embeddings = append(entries[idx].Embeddings, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roster rows: %w", err)
	}

	return NewSnapshot(entries), nil
}

// Enroll upserts an identity and appends reference embeddings, then refreshes
// the cached snapshot.
func (s *Store) Enroll(ctx context.Context, name string, vecs [][]float32) error {
	if name == "" {
		return fmt.Errorf("identity name is required")
	}
	if len(vecs) == 0 {
		return fmt.Errorf("at least one embedding is required")
	}
	for i, vec := range vecs {
		if len(vec) != EmbeddingDim {
			return fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(vec), EmbeddingDim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin enrollment: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int
	err = tx.QueryRow(ctx, `
		INSERT INTO roster_identities (name, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		RETURNING id`, name).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert identity %q: %w", name, err)
	}

	for _, vec := range vecs {
		_, err = tx.Exec(ctx, `
			INSERT INTO roster_embeddings (identity_id, embedding, created_at)
			VALUES ($1, $2, NOW())`, id, pgvector.NewVector(vec))
		if err != nil {
			return fmt.Errorf("failed to store embedding for %q: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit enrollment: %w", err)
	}

	return s.Refresh(ctx)
}

// IdentityInfo summarizes one roster identity for the whitelist endpoint.
type IdentityInfo struct {
	Name           string    `json:"name"`
	EmbeddingCount int       `json:"embedding_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Identities lists roster identities with their embedding counts.
func (s *Store) Identities(ctx context.Context) ([]IdentityInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT i.name, COUNT(e.id), i.created_at
		FROM roster_identities i
		LEFT JOIN roster_embeddings e ON e.identity_id = i.id
		GROUP BY i.id
		ORDER BY i.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var out []IdentityInfo
	for rows.Next() {
		var info IdentityInfo
		if err := rows.Scan(&info.Name, &info.EmbeddingCount, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
