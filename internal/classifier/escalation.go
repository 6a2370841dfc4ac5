package classifier

import (
	"sync"
	"time"
)

// Escalation decides whether a persistently unmatched spatial bucket should be
// promoted to suspicious. Implementations must be safe for concurrent use.
type Escalation interface {
	// Loitering records a sighting of an unmatched face in bucket at the given
	// time and reports whether the bucket has been occupied long enough to
	// escalate.
	Loitering(bucket string, at time.Time) bool
}

// NoEscalation never escalates. It is the default policy.
type NoEscalation struct{}

func (NoEscalation) Loitering(string, time.Time) bool { return false }

// LoiterEscalation promotes a bucket that has been continuously occupied by
// unmatched faces for longer than After. A gap between sightings larger than
// MaxGap resets the clock, so a face that leaves and returns starts over.
type LoiterEscalation struct {
	After  time.Duration
	MaxGap time.Duration

	mu   sync.Mutex
	seen map[string]*loiterSpan
}

type loiterSpan struct {
	first time.Time
	last  time.Time
}

// NewLoiterEscalation builds the policy with the given thresholds. Values at
// or below zero take 30s (After) and 5s (MaxGap).
func NewLoiterEscalation(after, maxGap time.Duration) *LoiterEscalation {
	if after <= 0 {
		after = 30 * time.Second
	}
	if maxGap <= 0 {
		maxGap = 5 * time.Second
	}
	return &LoiterEscalation{
		After:  after,
		MaxGap: maxGap,
		seen:   make(map[string]*loiterSpan),
	}
}

func (l *LoiterEscalation) Loitering(bucket string, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	span, ok := l.seen[bucket]
	if !ok || at.Sub(span.last) > l.MaxGap {
		l.seen[bucket] = &loiterSpan{first: at, last: at}
		return false
	}

	span.last = at
	return at.Sub(span.first) >= l.After
}
