// Package ingest accepts detection batches and stand-alone alert submissions
// from perception producers and drives them through classification,
// deduplication, persistence, and broadcast.
package ingest

import (
	"context"
	"fmt"
	"math"

	"github.com/doggobot/sentry/internal/framecache"
	"github.com/doggobot/sentry/internal/metrics"
	"github.com/doggobot/sentry/internal/models"
)

// Gateway is the ingestion boundary. Accepting a frame means "accepted for
// processing": the latest-frame cache is updated and the batch is queued for
// the pipeline workers. It never waits for classification, storage, or
// broadcast delivery.
type Gateway struct {
	cache *framecache.Cache
	pipe  *Pipeline
}

// NewGateway wires the gateway to the latest-frame cache and the pipeline.
func NewGateway(cache *framecache.Cache, pipe *Pipeline) *Gateway {
	return &Gateway{cache: cache, pipe: pipe}
}

// SubmitFrame validates and accepts one detection batch. jpeg may be nil for
// producers that send geometry only. Malformed input returns a
// ValidationError and has no side effects.
func (g *Gateway) SubmitFrame(ctx context.Context, frame models.DetectionFrame, jpeg []byte) error {
	if err := ValidateFrame(frame); err != nil {
		return err
	}

	boxes := make([]models.Box, len(frame.Observations))
	for i, obs := range frame.Observations {
		boxes[i] = obs.Box
	}
	g.cache.Set(&framecache.Frame{
		JPEG:       jpeg,
		Width:      frame.Width,
		Height:     frame.Height,
		Boxes:      boxes,
		CapturedAt: frame.CapturedAt,
	})

	if err := g.pipe.enqueue(ctx, frame); err != nil {
		return err
	}

	metrics.FramesReceived.Inc()
	return nil
}

// SubmitAlert accepts a pre-classified alert from a producer that classifies
// upstream. It bypasses classification and cooldown and persists synchronously
// so the producer learns about write failures; broadcast stays best-effort.
func (g *Gateway) SubmitAlert(ctx context.Context, alert *models.Alert) (string, error) {
	if err := ValidateAlert(alert); err != nil {
		return "", err
	}
	if err := g.pipe.Emit(ctx, alert); err != nil {
		return "", err
	}
	return alert.ID, nil
}

// ValidateFrame checks a detection batch against the ingestion schema.
func ValidateFrame(frame models.DetectionFrame) error {
	if frame.Width <= 0 || frame.Height <= 0 {
		return &models.ValidationError{
			Field:  "resolution",
			Reason: fmt.Sprintf("must be positive, got %dx%d", frame.Width, frame.Height),
		}
	}
	for i, obs := range frame.Observations {
		if err := validateObservation(i, obs); err != nil {
			return err
		}
	}
	return nil
}

func validateObservation(i int, obs models.FaceObservation) error {
	field := func(name string) string { return fmt.Sprintf("detections[%d].%s", i, name) }

	for _, v := range []struct {
		name  string
		value float64
	}{
		{"box.x", obs.Box.X}, {"box.y", obs.Box.Y},
		{"box.w", obs.Box.W}, {"box.h", obs.Box.H},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) || v.value < 0 {
			return &models.ValidationError{
				Field:  field(v.name),
				Reason: fmt.Sprintf("must be a non-negative number, got %v", v.value),
			}
		}
	}

	if obs.Score != nil && (math.IsNaN(*obs.Score) || *obs.Score < 0 || *obs.Score > 1) {
		return &models.ValidationError{
			Field:  field("score"),
			Reason: fmt.Sprintf("must be in [0,1], got %v", *obs.Score),
		}
	}

	for _, v := range obs.Embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return &models.ValidationError{Field: field("embedding"), Reason: "must be finite"}
		}
	}

	return nil
}

// ValidateAlert checks a stand-alone alert submission.
func ValidateAlert(a *models.Alert) error {
	if a == nil {
		return &models.ValidationError{Field: "payload", Reason: "missing"}
	}
	if !a.Status.Valid() {
		return &models.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("must be friendly, unknown, or suspicious, got %q", a.Status),
		}
	}
	if a.Confidence != nil && (math.IsNaN(*a.Confidence) || *a.Confidence < 0 || *a.Confidence > 1) {
		return &models.ValidationError{
			Field:  "confidence",
			Reason: fmt.Sprintf("must be in [0,1], got %v", *a.Confidence),
		}
	}
	return nil
}
