package classifier

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/doggobot/sentry/internal/models"
	"github.com/doggobot/sentry/internal/roster"
)

type fakeRoster struct {
	snap *roster.Snapshot
	err  error
}

func (f *fakeRoster) Snapshot(context.Context) (*roster.Snapshot, error) {
	return f.snap, f.err
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func aliceRoster() *fakeRoster {
	return &fakeRoster{snap: roster.NewSnapshot([]roster.Entry{
		{Name: "alice", Embeddings: [][]float32{{1, 0, 0}}},
	})}
}

func TestClassifyFriendlyWithinThreshold(t *testing.T) {
	c := New(aliceRoster(), testLogger(), Config{Threshold: 0.6})

	obs := models.FaceObservation{Embedding: []float32{0.9, 0.1, 0}}
	d := c.Classify(context.Background(), obs, 640, 480)

	if d.Status != models.StatusFriendly {
		t.Fatalf("status = %q, want friendly", d.Status)
	}
	if d.Identity != "alice" {
		t.Errorf("identity = %q, want alice", d.Identity)
	}
	if d.Key != "alice" {
		t.Errorf("key = %q, want alice", d.Key)
	}
	if d.Confidence <= 0 || d.Confidence != 1-d.Distance {
		t.Errorf("confidence = %v with distance %v, want 1-distance", d.Confidence, d.Distance)
	}
}

func TestClassifyUnknownBeyondThreshold(t *testing.T) {
	c := New(aliceRoster(), testLogger(), Config{Threshold: 0.6})

	obs := models.FaceObservation{
		Box:       models.Box{X: 10, Y: 10, W: 20, H: 20},
		Embedding: []float32{-1, 0, 0},
	}
	d := c.Classify(context.Background(), obs, 640, 480)

	if d.Status != models.StatusUnknown {
		t.Fatalf("status = %q, want unknown", d.Status)
	}
	if d.Identity != "" {
		t.Errorf("identity = %q, want empty", d.Identity)
	}
	if d.Key == "" || d.Key == "alice" {
		t.Errorf("key = %q, want an unknown bucket key", d.Key)
	}
}

// The boundary is inclusive: distance exactly at the threshold is a match.
func TestClassifyBoundaryInclusive(t *testing.T) {
	// alice's reference is (1,0,0); an observation at (1,0.5,0) has distance
	// exactly 0.5 from it.
	c := New(aliceRoster(), testLogger(), Config{Threshold: 0.5})

	obs := models.FaceObservation{Embedding: []float32{1, 0.5, 0}}
	d := c.Classify(context.Background(), obs, 640, 480)

	if d.Status != models.StatusFriendly {
		t.Errorf("status at d == threshold = %q, want friendly", d.Status)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New(aliceRoster(), testLogger(), Config{})
	obs := models.FaceObservation{Embedding: []float32{0.9, 0.1, 0}}

	first := c.Classify(context.Background(), obs, 640, 480)
	for i := 0; i < 10; i++ {
		if got := c.Classify(context.Background(), obs, 640, 480); got != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", got, first)
		}
	}
}

func TestClassifyFailsOpenWhenRosterUnavailable(t *testing.T) {
	c := New(&fakeRoster{err: errors.New("db down")}, testLogger(), Config{})

	obs := models.FaceObservation{Embedding: []float32{1, 0, 0}}
	d := c.Classify(context.Background(), obs, 640, 480)

	if d.Status != models.StatusUnknown {
		t.Errorf("status = %q, want unknown (fail open)", d.Status)
	}
	if !d.Degraded {
		t.Error("decision not marked degraded")
	}
}

func TestClassifyUpstreamGuess(t *testing.T) {
	c := New(aliceRoster(), testLogger(), Config{Threshold: 0.6})
	score := 0.8

	d := c.Classify(context.Background(), models.FaceObservation{
		IdentityGuess: "alice",
		Score:         &score,
	}, 640, 480)
	if d.Status != models.StatusFriendly || d.Identity != "alice" {
		t.Errorf("decision = %+v, want friendly alice", d)
	}

	// A guess for someone not on the roster is not trusted.
	d = c.Classify(context.Background(), models.FaceObservation{
		IdentityGuess: "mallory",
		Score:         &score,
	}, 640, 480)
	if d.Status != models.StatusUnknown {
		t.Errorf("status for off-roster guess = %q, want unknown", d.Status)
	}
}

func TestLoiterEscalation(t *testing.T) {
	esc := NewLoiterEscalation(30*time.Second, 5*time.Second)
	c := New(aliceRoster(), testLogger(), Config{Escalate: esc, Bucket: GlobalBucket})

	base := time.Now()
	step := 0
	c.now = func() time.Time {
		t := base.Add(time.Duration(step) * 2 * time.Second)
		step++
		return t
	}

	obs := models.FaceObservation{Embedding: []float32{-1, 0, 0}}
	var last Decision
	// 2s between sightings, continuously present: promoted once 30s elapse.
	for i := 0; i < 16; i++ {
		last = c.Classify(context.Background(), obs, 640, 480)
	}
	if last.Status != models.StatusSuspicious {
		t.Errorf("status after loitering = %q, want suspicious", last.Status)
	}
}

func TestLoiterGapResets(t *testing.T) {
	esc := NewLoiterEscalation(10*time.Second, 5*time.Second)
	base := time.Now()

	if esc.Loitering("b", base) {
		t.Fatal("first sighting escalated")
	}
	// Long gap: the clock restarts.
	if esc.Loitering("b", base.Add(20*time.Second)) {
		t.Fatal("sighting after gap escalated")
	}
	if esc.Loitering("b", base.Add(24*time.Second)) {
		t.Fatal("4s of presence escalated")
	}
	if esc.Loitering("b", base.Add(28*time.Second)) {
		t.Fatal("8s of presence escalated")
	}
	if !esc.Loitering("b", base.Add(31*time.Second)) {
		t.Fatal("11s of continuous presence did not escalate")
	}
}

func TestGridBucket(t *testing.T) {
	bucket := GridBucket(3)

	left := bucket(models.Box{X: 0, Y: 0, W: 40, H: 40}, 640, 480)
	right := bucket(models.Box{X: 600, Y: 440, W: 40, H: 40}, 640, 480)
	if left == right {
		t.Errorf("opposite corners share bucket %q", left)
	}

	same := bucket(models.Box{X: 2, Y: 2, W: 40, H: 40}, 640, 480)
	if left != same {
		t.Errorf("nearby boxes bucketed apart: %q vs %q", left, same)
	}
}
