// Package progress computes per-application completion across the step registry.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/steps"
)

// Aggregator computes completion progress for applications. Reads are
// side-effect-free; results may be served from cache and are eventually
// consistent with concurrent step saves.
type Aggregator struct {
	repo     domain.Repository
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewAggregator creates a progress aggregator. cache may be nil to disable
// caching entirely.
func NewAggregator(repo domain.Repository, cache domain.Cache, cacheTTL time.Duration) *Aggregator {
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &Aggregator{
		repo:     repo,
		cache:    cache,
		cacheTTL: cacheTTL,
	}
}

// Progress returns the completion state for an application.
// Fails with domain.ErrApplicationNotFound if the application does not exist.
func (a *Aggregator) Progress(ctx context.Context, appID string) (*domain.ProgressResult, error) {
	if a.cache != nil {
		if cached, err := a.cache.GetProgress(ctx, appID); err == nil && cached != nil {
			return cached, nil
		}
	}

	exists, err := a.repo.ApplicationExists(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("checking application: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrApplicationNotFound, appID)
	}

	records, err := a.repo.GetFormRecords(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("fetching form records: %w", err)
	}

	result := Compute(records)

	if a.cache != nil {
		if err := a.cache.SetProgress(ctx, appID, result, a.cacheTTL); err != nil {
			slog.Debug("failed to cache progress", "application_id", appID, "error", err)
		}
	}

	return result, nil
}

// Invalidate drops any cached progress for an application. Called after every
// form save so the next read recomputes.
func (a *Aggregator) Invalidate(ctx context.Context, appID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateProgress(ctx, appID); err != nil {
		slog.Debug("failed to invalidate progress cache", "application_id", appID, "error", err)
	}
}

// Compute derives a ProgressResult from the raw form records of one
// application. Pure: identical records always yield an identical result.
//
// Records for step ids no longer in the registry are excluded from the
// completed count and percentage but surfaced under Unrecognized so retired
// steps stay visible in diagnostics.
func Compute(records []*domain.FormRecord) *domain.ProgressResult {
	total := steps.Count()

	result := &domain.ProgressResult{
		TotalSteps: total,
		Steps:      make(map[string]domain.StepStatus),
	}

	completed := make(map[string]bool)

	for _, rec := range records {
		clean := domain.StripReserved(rec.Data)
		status := domain.StepStatus{
			LastUpdated: rec.LastUpdated,
			HasData:     len(clean) > 0,
			FieldCount:  len(clean),
		}

		if !steps.IsKnown(rec.Step) {
			if result.Unrecognized == nil {
				result.Unrecognized = make(map[string]domain.StepStatus)
			}
			result.Unrecognized[rec.Step] = status
			continue
		}

		result.Steps[rec.Step] = status
		if rec.IsComplete() {
			completed[rec.Step] = true
		}
	}

	// Completed ids in registry order, never submission order.
	for _, def := range steps.List() {
		if completed[def.ID] {
			result.CompletedStepIDs = append(result.CompletedStepIDs, def.ID)
		}
	}

	result.CompletedCount = len(result.CompletedStepIDs)
	result.Percentage = int(math.Round(float64(result.CompletedCount) / float64(total) * 100))

	return result
}
