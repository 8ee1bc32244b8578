package progress

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newAggregatorFixture(t *testing.T) (*Aggregator, domain.Repository, domain.Cache) {
	t.Helper()

	f, err := os.CreateTemp("", "kestrel-progress-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	return NewAggregator(repo, lru, 30*time.Second), repo, lru
}

func seedApplication(t *testing.T, repo domain.Repository, appID string) {
	t.Helper()
	now := time.Now().UTC()
	err := repo.CreateApplication(context.Background(), &domain.Application{
		ID:         appID,
		ClientName: "Test Client",
		Status:     domain.StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("failed to seed application: %v", err)
	}
}

func TestAggregatorProgress(t *testing.T) {
	agg, repo, _ := newAggregatorFixture(t)
	ctx := context.Background()
	seedApplication(t, repo, "app-001")

	t.Run("UnknownApplication", func(t *testing.T) {
		_, err := agg.Progress(ctx, "no-such-app")
		if !errors.Is(err, domain.ErrApplicationNotFound) {
			t.Errorf("expected ErrApplicationNotFound, got %v", err)
		}
	})

	t.Run("FreshApplication", func(t *testing.T) {
		result, err := agg.Progress(ctx, "app-001")
		if err != nil {
			t.Fatalf("Progress() error: %v", err)
		}
		if result.CompletedCount != 0 || result.Percentage != 0 {
			t.Errorf("fresh app: completed=%d percentage=%d", result.CompletedCount, result.Percentage)
		}
	})

	t.Run("ServedFromCacheUntilInvalidated", func(t *testing.T) {
		// Write form data behind the cache's back; a cached read must not
		// see it until the entry is invalidated.
		err := repo.SaveFormRecord(ctx, "app-001", "kyc", map[string]any{
			"identityVerified": "yes",
		})
		if err != nil {
			t.Fatalf("SaveFormRecord() error: %v", err)
		}

		cached, err := agg.Progress(ctx, "app-001")
		if err != nil {
			t.Fatalf("Progress() error: %v", err)
		}
		if cached.CompletedCount != 0 {
			t.Errorf("expected stale cached result, got completed=%d", cached.CompletedCount)
		}

		agg.Invalidate(ctx, "app-001")

		fresh, err := agg.Progress(ctx, "app-001")
		if err != nil {
			t.Fatalf("Progress() error: %v", err)
		}
		if fresh.CompletedCount != 1 {
			t.Errorf("after invalidate: completed=%d, want 1", fresh.CompletedCount)
		}
	})
}

func TestAggregatorWithoutCache(t *testing.T) {
	_, repo, _ := newAggregatorFixture(t)
	agg := NewAggregator(repo, nil, 0)
	ctx := context.Background()
	seedApplication(t, repo, "app-002")

	if err := repo.SaveFormRecord(ctx, "app-002", "referrals", map[string]any{
		"referredBy": "existing client",
	}); err != nil {
		t.Fatalf("SaveFormRecord() error: %v", err)
	}

	// No cache layer: every read recomputes, Invalidate is a no-op.
	agg.Invalidate(ctx, "app-002")

	result, err := agg.Progress(ctx, "app-002")
	if err != nil {
		t.Fatalf("Progress() error: %v", err)
	}
	if result.CompletedCount != 1 {
		t.Errorf("completed = %d, want 1", result.CompletedCount)
	}
}
