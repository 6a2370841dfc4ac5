package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doggobot/sentry/internal/classifier"
	"github.com/doggobot/sentry/internal/hub"
	"github.com/doggobot/sentry/internal/metrics"
	"github.com/doggobot/sentry/internal/models"
)

// AlertSink is the slice of the alert store the pipeline writes to.
type AlertSink interface {
	Create(ctx context.Context, a *models.Alert) error
}

// Publisher is the slice of the broadcast hub the pipeline publishes to.
type Publisher interface {
	Publish(typ string, data map[string]any) uint64
}

// Annotator receives best-effort enrichment work after an alert is persisted.
type Annotator interface {
	Enqueue(alertID, snapshotPath string)
}

const defaultQueueDepth = 16

// Pipeline runs the classify → dedupe → persist → broadcast stages over a
// pool of workers fed by a bounded frame queue.
type Pipeline struct {
	classifier *classifier.Classifier
	ledger     classifier.Ledger
	sink       AlertSink
	pub        Publisher
	annotate   Annotator // optional
	log        *slog.Logger

	frames  chan models.DetectionFrame
	workers int
	wg      sync.WaitGroup

	startedMu sync.Mutex
	started   bool
}

// NewPipeline assembles the pipeline. annotate may be nil.
func NewPipeline(c *classifier.Classifier, ledger classifier.Ledger, sink AlertSink,
	pub Publisher, annotate Annotator, log *slog.Logger, workers int) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		classifier: c,
		ledger:     ledger,
		sink:       sink,
		pub:        pub,
		annotate:   annotate,
		log:        log,
		frames:     make(chan models.DetectionFrame, defaultQueueDepth),
		workers:    workers,
	}
}

// Start launches the worker pool. Workers drain the queue until ctx is
// cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	p.startedMu.Lock()
	defer p.startedMu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline already started")
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case frame := <-p.frames:
					p.processFrame(ctx, frame)
				}
			}
		}()
	}
	return nil
}

// Wait blocks until all workers have exited after context cancellation.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) enqueue(ctx context.Context, frame models.DetectionFrame) error {
	select {
	case p.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame models.DetectionFrame) {
	for _, obs := range frame.Observations {
		p.processObservation(ctx, obs, frame)
	}
}

func (p *Pipeline) processObservation(ctx context.Context, obs models.FaceObservation, frame models.DetectionFrame) {
	decision := p.classifier.Classify(ctx, obs, frame.Width, frame.Height)

	now := time.Now()
	ok, err := p.ledger.Reserve(ctx, decision.Key, now)
	if err != nil {
		// A broken ledger must not swallow detections; duplicates beat
		// silence.
		p.log.Warn("cooldown reserve failed, emitting anyway", "key", decision.Key, "error", err)
	} else if !ok {
		metrics.AlertsSuppressed.Inc()
		return
	}

	alert := &models.Alert{
		CreatedAt: now,
		Status:    decision.Status,
		Identity:  decision.Identity,
	}
	if decision.Status == models.StatusFriendly {
		conf := decision.Confidence
		alert.Confidence = &conf
	}
	if decision.Degraded {
		alert.Meta = map[string]any{"degraded": true}
	}

	if err := p.Emit(ctx, alert); err != nil {
		// Undo the reservation so the event is not silently lost; the face is
		// still there and the next sighting retries.
		if rerr := p.ledger.Release(ctx, decision.Key); rerr != nil {
			p.log.Error("cooldown release failed", "key", decision.Key, "error", rerr)
		}
		p.log.Error("failed to persist alert", "key", decision.Key, "error", err)
	}
}

// Emit persists the alert and broadcasts its creation. Broadcast and
// annotation are best-effort and never fail the emit; persistence errors are
// returned to the caller.
func (p *Pipeline) Emit(ctx context.Context, alert *models.Alert) error {
	if err := p.sink.Create(ctx, alert); err != nil {
		return err
	}
	metrics.AlertsCreated.WithLabelValues(string(alert.Status)).Inc()

	p.pub.Publish(hub.TypeAlert, map[string]any{"alert": alert})

	if p.annotate != nil && alert.SnapshotPath != "" {
		p.annotate.Enqueue(alert.ID, alert.SnapshotPath)
	}
	return nil
}
