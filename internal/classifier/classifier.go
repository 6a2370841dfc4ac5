// Package classifier matches face observations against the identity roster,
// assigns an alert status, and suppresses repeat alerts within a cooldown
// window.
package classifier

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/doggobot/sentry/internal/metrics"
	"github.com/doggobot/sentry/internal/models"
	"github.com/doggobot/sentry/internal/roster"
)

// DefaultThreshold is the similarity distance at or below which an observation
// is considered a roster match. Matches the tolerance the detector scripts
// ship with.
const DefaultThreshold = 0.6

// BucketFunc maps an unmatched observation to a spatial cooldown bucket.
type BucketFunc func(box models.Box, frameW, frameH int) string

// GridBucket buckets by the box center's cell in an n x n grid of the source
// frame. Two unknowns on opposite sides of the frame alert independently.
func GridBucket(n int) BucketFunc {
	return func(box models.Box, frameW, frameH int) string {
		if frameW <= 0 || frameH <= 0 {
			return "0,0"
		}
		cx := (box.X + box.W/2) / float64(frameW)
		cy := (box.Y + box.H/2) / float64(frameH)
		col := int(math.Min(math.Max(cx, 0), 0.999) * float64(n))
		row := int(math.Min(math.Max(cy, 0), 0.999) * float64(n))
		return fmt.Sprintf("%d,%d", col, row)
	}
}

// GlobalBucket collapses every unmatched observation to a single cooldown key.
func GlobalBucket(models.Box, int, int) string { return "any" }

// Decision is the classification outcome for one observation.
type Decision struct {
	Status     models.Status
	Identity   string
	Confidence float64 // 1 - Distance, only meaningful for matches
	Distance   float64
	Degraded   bool // roster was unavailable; failed open to unknown
	Key        string
}

// Config tunes the classifier. Zero values take defaults.
type Config struct {
	Threshold float64
	Bucket    BucketFunc
	Escalate  Escalation
}

// Classifier turns observations into decisions against a roster snapshot.
type Classifier struct {
	roster    roster.Provider
	threshold float64
	bucket    BucketFunc
	escalate  Escalation
	log       *slog.Logger
	now       func() time.Time
}

// New creates a classifier reading snapshots from p.
func New(p roster.Provider, log *slog.Logger, cfg Config) *Classifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Bucket == nil {
		cfg.Bucket = GridBucket(3)
	}
	if cfg.Escalate == nil {
		cfg.Escalate = NoEscalation{}
	}
	return &Classifier{
		roster:    p,
		threshold: cfg.Threshold,
		bucket:    cfg.Bucket,
		escalate:  cfg.Escalate,
		log:       log,
		now:       time.Now,
	}
}

// Classify decides the status of one observation. Each call reads exactly one
// roster snapshot; a concurrent roster refresh never produces a half-updated
// view. If the roster is unavailable the classifier fails open to unknown and
// marks the decision degraded rather than dropping the observation.
//
// The boundary is inclusive: distance d <= threshold is a match.
func (c *Classifier) Classify(ctx context.Context, obs models.FaceObservation, frameW, frameH int) Decision {
	snap, err := c.roster.Snapshot(ctx)
	if err != nil {
		c.log.Warn("roster unavailable, failing open", "error", err)
		metrics.ClassifierDegraded.Inc()
		return c.unmatched(obs, frameW, frameH, true)
	}

	if len(obs.Embedding) > 0 {
		name, dist, ok := snap.Nearest(obs.Embedding)
		if ok && dist <= c.threshold {
			return Decision{
				Status:     models.StatusFriendly,
				Identity:   name,
				Confidence: 1 - dist,
				Distance:   dist,
				Key:        name,
			}
		}
		d := c.unmatched(obs, frameW, frameH, false)
		d.Distance = dist
		return d
	}

	// No embedding: trust an upstream match if the identity is actually on
	// the roster and the reported score clears the threshold.
	if obs.IdentityGuess != "" && obs.Score != nil && snap.Has(obs.IdentityGuess) {
		if dist := 1 - *obs.Score; dist <= c.threshold {
			return Decision{
				Status:     models.StatusFriendly,
				Identity:   obs.IdentityGuess,
				Confidence: *obs.Score,
				Distance:   dist,
				Key:        obs.IdentityGuess,
			}
		}
	}

	return c.unmatched(obs, frameW, frameH, false)
}

func (c *Classifier) unmatched(obs models.FaceObservation, frameW, frameH int, degraded bool) Decision {
	bucket := c.bucket(obs.Box, frameW, frameH)
	status := models.StatusUnknown
	if !degraded && c.escalate.Loitering(bucket, c.now()) {
		status = models.StatusSuspicious
	}
	return Decision{
		Status:   status,
		Distance: 1,
		Degraded: degraded,
		Key:      "unknown:" + bucket,
	}
}
