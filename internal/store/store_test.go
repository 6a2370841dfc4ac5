package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/doggobot/sentry/internal/models"
)

// TestStoreIntegration runs the full store surface against a real Postgres
// container. It requires Docker.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		postgres.WithDatabase("sentry_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := InitSchema(ctx, connStr); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	s, err := New(ctx, connStr, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Failed to connect store: %v", err)
	}
	defer s.Close()

	t.Run("CreateAndGet", func(t *testing.T) {
		conf := 0.92
		a := &models.Alert{
			Status:     models.StatusFriendly,
			Identity:   "alice",
			Confidence: &conf,
			Meta:       map[string]any{"camera": "front"},
		}
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if a.ID == "" {
			t.Fatal("Create did not assign an id")
		}

		got, err := s.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Identity != "alice" || got.Status != models.StatusFriendly {
			t.Errorf("Get = %+v", got)
		}
		if got.Meta["camera"] != "front" {
			t.Errorf("meta lost: %v", got.Meta)
		}
		if got.Acknowledged {
			t.Error("new alert already acknowledged")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if _, err := s.Get(ctx, "no-such-id"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Get missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("ListPagination", func(t *testing.T) {
		base := time.Now().Add(time.Hour)
		var ids []string
		for i := 0; i < 5; i++ {
			a := &models.Alert{
				Status:    models.StatusUnknown,
				CreatedAt: base.Add(time.Duration(i) * time.Second),
				Identity:  "pagetest",
			}
			if err := s.Create(ctx, a); err != nil {
				t.Fatalf("Create failed: %v", err)
			}
			ids = append(ids, a.ID)
		}

		since := base.Add(-time.Second)
		page1, err := s.List(ctx, models.ListFilter{Since: &since, Limit: 2, Offset: 0})
		if err != nil {
			t.Fatalf("List page 1 failed: %v", err)
		}
		page2, err := s.List(ctx, models.ListFilter{Since: &since, Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List page 2 failed: %v", err)
		}

		if len(page1) != 2 || len(page2) != 2 {
			t.Fatalf("page sizes = %d, %d; want 2, 2", len(page1), len(page2))
		}
		// Newest first: 5th created, 4th, then 3rd, 2nd.
		want := []string{ids[4], ids[3], ids[2], ids[1]}
		got := []string{page1[0].ID, page1[1].ID, page2[0].ID, page2[1].ID}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("page order = %v, want %v", got, want)
			}
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		status := models.StatusFriendly
		acked := false
		out, err := s.List(ctx, models.ListFilter{Status: &status, Acknowledged: &acked, Limit: 100})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		for _, a := range out {
			if a.Status != status || a.Acknowledged {
				t.Errorf("filter leak: %+v", a)
			}
		}
	})

	t.Run("AcknowledgeIdempotent", func(t *testing.T) {
		a := &models.Alert{Status: models.StatusSuspicious}
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		changed, err := s.Acknowledge(ctx, a.ID)
		if err != nil || !changed {
			t.Fatalf("first Acknowledge = %v, %v; want true, nil", changed, err)
		}
		changed, err = s.Acknowledge(ctx, a.ID)
		if err != nil || changed {
			t.Fatalf("second Acknowledge = %v, %v; want false, nil", changed, err)
		}

		got, _ := s.Get(ctx, a.ID)
		if !got.Acknowledged {
			t.Error("alert not acknowledged after Acknowledge")
		}
	})

	t.Run("AcknowledgeMissing", func(t *testing.T) {
		if _, err := s.Acknowledge(ctx, "no-such-id"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Acknowledge missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("MergeMeta", func(t *testing.T) {
		a := &models.Alert{Status: models.StatusUnknown, Meta: map[string]any{"camera": "front"}}
		if err := s.Create(ctx, a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := s.MergeMeta(ctx, a.ID, map[string]any{"caption": "a person at the door"}); err != nil {
			t.Fatalf("MergeMeta failed: %v", err)
		}

		got, _ := s.Get(ctx, a.ID)
		if got.Meta["camera"] != "front" || got.Meta["caption"] != "a person at the door" {
			t.Errorf("meta after merge = %v", got.Meta)
		}
	})
}
