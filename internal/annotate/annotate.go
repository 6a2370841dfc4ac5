// Package annotate captions alert snapshots with a local vision model and
// folds the caption into the alert's metadata.
//
// Annotation is strictly best-effort: work is queued after the alert is
// already persisted and broadcast, a full queue drops the job, and a model
// failure only logs.
package annotate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agent-api/core/pkg/agent"
	"github.com/agent-api/core/types"
	"github.com/agent-api/ollama"
)

// MetaUpdater is the slice of the alert store the annotator writes through.
type MetaUpdater interface {
	MergeMeta(ctx context.Context, id string, meta map[string]any) error
}

const defaultModel = "llama3.2-vision:11b"

// NewAgent initializes the vision agent against a local Ollama server.
func NewAgent(ctx context.Context, logger *slog.Logger, baseURL string, port int) (*agent.DefaultAgent, error) {
	if baseURL == "" {
		baseURL = "http://localhost"
	}
	if port <= 0 {
		port = 11434
	}

	opts := &ollama.ProviderOpts{
		Logger:  logger,
		BaseURL: baseURL,
		Port:    port,
	}
	provider := ollama.NewProvider(opts)

	model := &types.Model{
		ID: defaultModel,
	}
	provider.UseModel(ctx, model)

	agentConf := &agent.NewAgentConfig{
		Provider:     provider,
		Logger:       logger,
		SystemPrompt: "You are a security camera assistant. Describe the person at the door in one short sentence: appearance, what they are carrying, and what they appear to be doing.",
	}

	return agent.NewAgent(agentConf), nil
}

type job struct {
	alertID      string
	snapshotPath string
}

// Annotator runs captioning jobs on a single background worker.
type Annotator struct {
	agent *agent.DefaultAgent
	store MetaUpdater
	log   *slog.Logger

	jobs chan job
	wg   sync.WaitGroup
}

// New creates an annotator. Call Start before Enqueue.
func New(a *agent.DefaultAgent, store MetaUpdater, log *slog.Logger) *Annotator {
	return &Annotator{
		agent: a,
		store: store,
		log:   log,
		jobs:  make(chan job, 32),
	}
}

// Start launches the worker until ctx is cancelled.
func (a *Annotator) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-a.jobs:
				a.run(ctx, j)
			}
		}
	}()
}

// Wait blocks until the worker exits.
func (a *Annotator) Wait() { a.wg.Wait() }

// Enqueue schedules a caption for the alert's snapshot. Drops the job if the
// queue is full rather than slowing the pipeline.
func (a *Annotator) Enqueue(alertID, snapshotPath string) {
	select {
	case a.jobs <- job{alertID: alertID, snapshotPath: snapshotPath}:
	default:
		a.log.Debug("annotation queue full, dropping job", "alert", alertID)
	}
}

func (a *Annotator) run(ctx context.Context, j job) {
	caption, err := a.caption(ctx, j.snapshotPath)
	if err != nil {
		a.log.Warn("failed to caption snapshot", "alert", j.alertID, "error", err)
		return
	}

	if err := a.store.MergeMeta(ctx, j.alertID, map[string]any{"caption": caption}); err != nil {
		a.log.Warn("failed to store caption", "alert", j.alertID, "error", err)
		return
	}

	a.log.Debug("annotated alert", "alert", j.alertID)
}

func (a *Annotator) caption(ctx context.Context, imagePath string) (string, error) {
	response := a.agent.Run(
		ctx,
		agent.WithInput("Describe the person in this snapshot."),
		agent.WithImagePath(imagePath),
	)
	if response.Err != nil {
		return "", response.Err
	}

	if len(response.Messages) == 0 {
		return "", fmt.Errorf("no response messages received from model")
	}

	return response.Messages[len(response.Messages)-1].Content, nil
}
