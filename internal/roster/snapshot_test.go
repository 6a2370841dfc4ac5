package roster

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"testing"
)

func TestNearest(t *testing.T) {
	snap := NewSnapshot([]Entry{
		{Name: "alice", Embeddings: [][]float32{{1, 0, 0}, {0.9, 0.1, 0}}},
		{Name: "bob", Embeddings: [][]float32{{0, 1, 0}}},
	})

	name, dist, ok := snap.Nearest([]float32{0.95, 0.05, 0})
	if !ok {
		t.Fatal("Nearest returned ok=false")
	}
	if name != "alice" {
		t.Errorf("name = %q, want alice", name)
	}
	if dist > 0.1 {
		t.Errorf("dist = %v, want small", dist)
	}
}

func TestNearestClampsDistance(t *testing.T) {
	snap := NewSnapshot([]Entry{
		{Name: "alice", Embeddings: [][]float32{{10, 10, 10}}},
	})

	_, dist, ok := snap.Nearest([]float32{-10, -10, -10})
	if !ok {
		t.Fatal("Nearest returned ok=false")
	}
	if dist != 1 {
		t.Errorf("dist = %v, want clamped to 1", dist)
	}
}

func TestNearestEmptyRoster(t *testing.T) {
	snap := NewSnapshot(nil)
	if _, _, ok := snap.Nearest([]float32{1, 2, 3}); ok {
		t.Error("Nearest on empty roster returned ok=true")
	}
}

func TestNearestSkipsDimensionMismatch(t *testing.T) {
	snap := NewSnapshot([]Entry{
		{Name: "short", Embeddings: [][]float32{{1, 0}}},
		{Name: "full", Embeddings: [][]float32{{0, 0, 1}}},
	})

	name, _, ok := snap.Nearest([]float32{0, 0, 1})
	if !ok || name != "full" {
		t.Errorf("Nearest = %q, %v; want full, true", name, ok)
	}
}

func TestHasAndNames(t *testing.T) {
	snap := NewSnapshot([]Entry{{Name: "alice"}, {Name: "bob"}})

	if !snap.Has("alice") || snap.Has("mallory") {
		t.Error("Has gave wrong membership")
	}
	if got := snap.Names(); len(got) != 2 {
		t.Errorf("Names = %v, want 2 entries", got)
	}
}

// A reference enrolled at the descriptor length is matchable by the
// producers' embeddings, which carry the same dlib descriptor dimension.
func TestNearestMatchesEnrolledDescriptor(t *testing.T) {
	ref := make([]float32, EmbeddingDim)
	ref[0] = 1
	snap := NewSnapshot([]Entry{{Name: "alice", Embeddings: [][]float32{ref}}})

	seen := make([]float32, EmbeddingDim)
	seen[0] = 0.95
	seen[1] = 0.05

	name, dist, ok := snap.Nearest(seen)
	if !ok || name != "alice" {
		t.Fatalf("Nearest = %q, %v; want alice, true", name, ok)
	}
	if dist > 0.6 {
		t.Errorf("dist = %v, want within the default match tolerance", dist)
	}
}

func TestEnrollRejectsWrongDimension(t *testing.T) {
	s := NewStore(nil, slog.New(slog.DiscardHandler), 0)

	err := s.Enroll(context.Background(), "alice", [][]float32{make([]float32, 384)})
	if err == nil || !strings.Contains(err.Error(), "dimensions") {
		t.Fatalf("Enroll with 384-dim embedding = %v, want dimension error", err)
	}
}

func TestEuclidean(t *testing.T) {
	if d := euclidean([]float32{0, 0}, []float32{3, 4}); math.Abs(d-5) > 1e-9 {
		t.Errorf("euclidean = %v, want 5", d)
	}
}
