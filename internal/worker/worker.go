// Package worker provides async form-save processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/progress"
)

// Worker reacts to form saves from the EventBus. It keeps the cached progress
// honest and moves applications through their lifecycle: a draft becomes
// in_progress on its first save and complete when every wizard step is done.
type Worker struct {
	bus        domain.EventBus
	repo       domain.Repository
	aggregator *progress.Aggregator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, aggregator *progress.Aggregator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        bus,
		repo:       repo,
		aggregator: aggregator,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to form save events.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicFormSaved, w.handleFormSaved)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("completion worker started",
		"topic", domain.TopicFormSaved,
	)

	return nil
}

// handleFormSaved recomputes progress after a save and advances the
// application's lifecycle state.
func (w *Worker) handleFormSaved(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.FormSavedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse form saved event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The save path invalidates too; doing it again here covers saves made by
	// other nodes when running against a shared cache.
	w.aggregator.Invalidate(ctx, event.ApplicationID)

	result, err := w.aggregator.Progress(ctx, event.ApplicationID)
	if err != nil {
		slog.Error("failed to recompute progress",
			"application_id", event.ApplicationID,
			"error", err,
		)
		return err
	}

	app, err := w.repo.GetApplication(ctx, event.ApplicationID)
	if err != nil {
		return err
	}

	switch {
	case result.Percentage >= 100 && app.Status != domain.StatusComplete:
		if err := w.repo.UpdateApplicationStatus(ctx, event.ApplicationID, domain.StatusComplete); err != nil {
			slog.Error("failed to mark application complete",
				"application_id", event.ApplicationID,
				"error", err,
			)
			return err
		}

		payload, _ := json.Marshal(domain.ApplicationCompletedEvent{
			ApplicationID: event.ApplicationID,
			Percentage:    result.Percentage,
		})
		if err := w.bus.Publish(ctx, domain.TopicApplicationCompleted, payload); err != nil {
			slog.Error("failed to publish completion event",
				"application_id", event.ApplicationID,
				"error", err,
			)
		}

		slog.Info("application completed",
			"application_id", event.ApplicationID,
			"duration_ms", time.Since(start).Milliseconds(),
		)

	case app.Status == domain.StatusDraft:
		if err := w.repo.UpdateApplicationStatus(ctx, event.ApplicationID, domain.StatusInProgress); err != nil {
			slog.Error("failed to advance application status",
				"application_id", event.ApplicationID,
				"error", err,
			)
			return err
		}
	}

	slog.Debug("form save processed",
		"application_id", event.ApplicationID,
		"step", event.Step,
		"completed", result.CompletedCount,
		"percentage", result.Percentage,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
