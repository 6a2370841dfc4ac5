// Package embeddings computes reference face embeddings for roster
// enrollment through a pool of workers with a result cache.
package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
)

// Embedder turns an image file into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, imagePath string) ([]float32, error)
}

// Result is the outcome of one embedding request.
type Result struct {
	Path      string
	Embedding []float32
	Error     error
}

// work is a unit of embedding work.
type work struct {
	path   string
	result chan<- Result
}

// Service fans embedding requests out to a worker pool and caches results per
// image path, so re-enrolling the same photo is free.
type Service struct {
	embedder  Embedder
	workQueue chan work
	cache     sync.Map
	wg        sync.WaitGroup
}

// NewService starts numWorkers workers backed by the given embedder.
func NewService(embedder Embedder, numWorkers int) *Service {
	if numWorkers <= 0 {
		numWorkers = 4
	}

	s := &Service{
		embedder:  embedder,
		workQueue: make(chan work, 100),
	}

	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

func (s *Service) worker() {
	defer s.wg.Done()
	for w := range s.workQueue {
		if cached, ok := s.cache.Load(w.path); ok {
			if emb, valid := cached.([]float32); valid {
				w.result <- Result{Path: w.path, Embedding: emb}
				continue
			}
		}

		emb, err := s.embedder.Embed(context.Background(), w.path)
		if err == nil {
			s.cache.Store(w.path, emb)
		}

		w.result <- Result{Path: w.path, Embedding: emb, Error: err}
	}
}

// GetEmbedding requests an embedding asynchronously. If the queue is full the
// returned channel yields an error immediately instead of blocking the caller.
func (s *Service) GetEmbedding(imagePath string) <-chan Result {
	resultChan := make(chan Result, 1)

	select {
	case s.workQueue <- work{path: imagePath, result: resultChan}:
	default:
		resultChan <- Result{
			Path:  imagePath,
			Error: fmt.Errorf("embedding queue is full, try again later"),
		}
		close(resultChan)
	}

	return resultChan
}

// EmbedSync is the blocking convenience wrapper used by the enroll command.
func (s *Service) EmbedSync(ctx context.Context, imagePath string) ([]float32, error) {
	select {
	case res := <-s.GetEmbedding(imagePath):
		return res.Embedding, res.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the service down and waits for in-flight work.
func (s *Service) Close() {
	close(s.workQueue)
	s.wg.Wait()
}

// FaceEmbedder computes dlib face descriptors with go-face. References live
// in the same 128-dim descriptor space the perception producers attach to
// their observations, so an enrolled photo is directly comparable to what
// arrives on /frame.
type FaceEmbedder struct {
	rec *face.Recognizer
}

// NewFaceEmbedder loads the dlib models (shape predictor, resnet descriptor
// net) from modelsDir.
func NewFaceEmbedder(modelsDir string) (*FaceEmbedder, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load face models from %s: %w", modelsDir, err)
	}
	return &FaceEmbedder{rec: rec}, nil
}

func (f *FaceEmbedder) Embed(_ context.Context, imagePath string) ([]float32, error) {
	found, err := f.rec.RecognizeSingleFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to process %s: %w", imagePath, err)
	}
	if found == nil {
		return nil, fmt.Errorf("no single face found in %s", imagePath)
	}

	vec := make([]float32, len(found.Descriptor))
	copy(vec, found.Descriptor[:])
	return vec, nil
}

// Close releases the dlib recognizer.
func (f *FaceEmbedder) Close() { f.rec.Close() }
