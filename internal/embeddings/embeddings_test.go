package embeddings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubEmbedder struct {
	calls atomic.Int64
	vec   []float32
	err   error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	s.calls.Add(1)
	return s.vec, s.err
}

func TestEmbedSync(t *testing.T) {
	stub := &stubEmbedder{vec: []float32{0.1, 0.2, 0.3}}
	svc := NewService(stub, 2)
	defer svc.Close()

	got, err := svc.EmbedSync(context.Background(), "a.jpg")
	if err != nil {
		t.Fatalf("EmbedSync failed: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("embedding length = %d, want 3", len(got))
	}
}

func TestCacheHitSkipsEmbedder(t *testing.T) {
	stub := &stubEmbedder{vec: []float32{1}}
	svc := NewService(stub, 1)
	defer svc.Close()

	ctx := context.Background()
	if _, err := svc.EmbedSync(ctx, "same.jpg"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.EmbedSync(ctx, "same.jpg"); err != nil {
		t.Fatal(err)
	}

	if n := stub.calls.Load(); n != 1 {
		t.Errorf("embedder called %d times, want 1 (cached)", n)
	}
}

func TestEmbedderErrorPropagates(t *testing.T) {
	wantErr := errors.New("model offline")
	svc := NewService(&stubEmbedder{err: wantErr}, 1)
	defer svc.Close()

	_, err := svc.EmbedSync(context.Background(), "a.jpg")
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want %v", err, wantErr)
	}
}

func TestGetEmbeddingDelivers(t *testing.T) {
	stub := &stubEmbedder{vec: []float32{0.5}}
	svc := NewService(stub, 1)
	defer svc.Close()

	select {
	case res := <-svc.GetEmbedding("b.jpg"):
		if res.Error != nil {
			t.Fatalf("unexpected error: %v", res.Error)
		}
		if res.Path != "b.jpg" {
			t.Errorf("result path = %q, want b.jpg", res.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for embedding result")
	}
}
