package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/progress"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/screening"
	"github.com/opensource-finance/kestrel/internal/steps"
)

// autosaveWindow bounds the counter used to watch autosave bursts per
// (application, step).
const autosaveWindow = time.Minute

// Handler holds dependencies for API handlers.
type Handler struct {
	repo              domain.Repository
	cache             domain.Cache
	bus               domain.EventBus
	aggregator        *progress.Aggregator
	scorer            *risk.Scorer
	screening         *screening.Engine
	defaultRuleWeight float64
	version           string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, aggregator *progress.Aggregator, scorer *risk.Scorer, screeningEngine *screening.Engine, defaultRuleWeight float64, version string) *Handler {
	if defaultRuleWeight < 0 || defaultRuleWeight > 1 {
		defaultRuleWeight = 0.5
	}
	return &Handler{
		repo:              repo,
		cache:             cache,
		bus:               bus,
		aggregator:        aggregator,
		scorer:            scorer,
		screening:         screeningEngine,
		defaultRuleWeight: defaultRuleWeight,
		version:           version,
	}
}

// CreateApplicationRequest is the request body for POST /applications.
type CreateApplicationRequest struct {
	ClientName string `json:"clientName"`
	Email      string `json:"email,omitempty"`
}

// CreateApplication handles POST /applications.
func (h *Handler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ClientName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "clientName is required",
		})
		return
	}

	now := time.Now().UTC()
	app := &domain.Application{
		ID:         uuid.New().String(),
		ClientName: req.ClientName,
		Email:      req.Email,
		Status:     domain.StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.repo.CreateApplication(ctx, app); err != nil {
		slog.Error("failed to create application", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to create application",
		})
		return
	}

	payload, _ := json.Marshal(app)
	if err := h.bus.Publish(ctx, domain.TopicApplicationCreated, payload); err != nil {
		slog.Error("failed to publish application created event",
			"application_id", app.ID,
			"error", err,
		)
	}

	slog.Info("application created", "application_id", app.ID, "client", app.ClientName)
	writeJSON(w, http.StatusCreated, app)
}

// ListApplications handles GET /applications. Each row carries the
// application, its completion progress, and the latest risk snapshot if one
// exists.
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	apps, err := h.repo.ListApplications(ctx)
	if err != nil {
		slog.Error("failed to list applications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list applications",
		})
		return
	}

	summaries := make([]domain.ApplicationSummary, 0, len(apps))
	for _, app := range apps {
		summary := domain.ApplicationSummary{Application: *app}

		if prog, err := h.aggregator.Progress(ctx, app.ID); err == nil {
			summary.Progress = *prog
		} else {
			slog.Warn("failed to compute progress for dashboard",
				"application_id", app.ID,
				"error", err,
			)
		}

		snap, err := h.repo.LatestRiskSnapshot(ctx, app.ID)
		if err == nil {
			summary.RiskLevel = snap.Level
			summary.RiskScore = &snap.Score
			summary.RiskBadge = risk.Badge(snap.Level)
		} else if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("failed to load risk snapshot for dashboard",
				"application_id", app.ID,
				"error", err,
			)
		}

		summaries = append(summaries, summary)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applications": summaries,
		"count":        len(summaries),
	})
}

// GetApplication handles GET /applications/{id}.
func (h *Handler) GetApplication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")

	app, err := h.repo.GetApplication(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrApplicationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "application not found",
			})
			return
		}
		slog.Error("failed to get application", "application_id", appID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get application",
		})
		return
	}

	writeJSON(w, http.StatusOK, app)
}

// SaveStep handles PUT /applications/{id}/steps/{step}. The body is the step's
// form data document; it fully replaces any previously saved state for that
// step.
func (h *Handler) SaveStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")
	step := chi.URLParam(r, "step")

	// Unknown step ids are client addressing errors, rejected before any
	// lookup so retired steps can never grow new data.
	if !steps.IsKnown(step) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown step: " + step,
		})
		return
	}

	exists, err := h.repo.ApplicationExists(ctx, appID)
	if err != nil {
		slog.Error("failed to check application", "application_id", appID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save step",
		})
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "application not found",
		})
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.repo.SaveFormRecord(ctx, appID, step, data); err != nil {
		slog.Error("failed to save form record",
			"application_id", appID,
			"step", step,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save step",
		})
		return
	}

	// Saved data changed; the cached progress is now stale.
	h.aggregator.Invalidate(ctx, appID)

	if h.cache != nil {
		if _, err := h.cache.IncrementCounter(ctx, "autosave:"+appID+":"+step, autosaveWindow); err != nil {
			slog.Debug("failed to bump autosave counter",
				"application_id", appID,
				"step", step,
				"error", err,
			)
		}
	}

	clean := domain.StripReserved(data)
	payload, _ := json.Marshal(domain.FormSavedEvent{
		ApplicationID: appID,
		Step:          step,
		FieldCount:    len(clean),
	})
	if err := h.bus.Publish(ctx, domain.TopicFormSaved, payload); err != nil {
		slog.Error("failed to publish form saved event",
			"application_id", appID,
			"step", step,
			"error", err,
		)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"applicationId": appID,
		"step":          step,
		"fieldCount":    len(clean),
		"savedAt":       time.Now().UTC(),
	})
}

// GetStep handles GET /applications/{id}/steps/{step}.
func (h *Handler) GetStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")
	step := chi.URLParam(r, "step")

	if !steps.IsKnown(step) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown step: " + step,
		})
		return
	}

	rec, err := h.repo.GetFormRecord(ctx, appID, step)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "no saved data for this step",
			})
			return
		}
		slog.Error("failed to get form record",
			"application_id", appID,
			"step", step,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get step",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetProgress handles GET /applications/{id}/progress.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")

	result, err := h.aggregator.Progress(ctx, appID)
	if err != nil {
		if errors.Is(err, domain.ErrApplicationNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "application not found",
			})
			return
		}
		slog.Error("failed to compute progress", "application_id", appID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to compute progress",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// RiskResponse is the response for GET /applications/{id}/risk.
type RiskResponse struct {
	*domain.RiskScoreResult
	Badge string `json:"badge"`
}

// GetRisk handles GET /applications/{id}/risk. An optional ruleWeight query
// parameter overrides the configured default; invalid values are rejected
// before any scoring work happens.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	appID := chi.URLParam(r, "id")

	ruleWeight := h.defaultRuleWeight
	if raw := r.URL.Query().Get("ruleWeight"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "ruleWeight must be a number between 0 and 1",
			})
			return
		}
		ruleWeight = parsed
	}

	result, err := h.scorer.Score(ctx, appID, ruleWeight)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidWeight):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "ruleWeight must be between 0 and 1",
			})
		case errors.Is(err, domain.ErrApplicationNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "application not found",
			})
		default:
			slog.Error("risk scoring failed", "application_id", appID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "risk scoring failed",
			})
		}
		return
	}

	// Audit trail; scoring itself stays read-only.
	snap := &domain.RiskSnapshot{
		ID:            uuid.New().String(),
		ApplicationID: appID,
		Score:         result.Weighted.Score,
		Level:         result.Weighted.Level,
		ScoringMethod: result.ScoringMethod,
		RuleWeight:    result.RuleWeight,
		Factors:       result.Weighted.Factors,
		CreatedAt:     time.Now().UTC(),
	}
	if err := h.repo.SaveRiskSnapshot(ctx, snap); err != nil {
		slog.Error("failed to save risk snapshot", "application_id", appID, "error", err)
	}

	payload, _ := json.Marshal(snap)
	if err := h.bus.Publish(ctx, domain.TopicRiskScored, payload); err != nil {
		slog.Error("failed to publish risk scored event",
			"application_id", appID,
			"error", err,
		)
	}

	writeJSON(w, http.StatusOK, RiskResponse{
		RiskScoreResult: result,
		Badge:           risk.Badge(result.OverallLabel),
	})
}

// ListSteps returns the wizard step registry in order.
func (h *Handler) ListSteps(w http.ResponseWriter, r *http.Request) {
	defs := steps.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"steps": defs,
		"count": len(defs),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListScreeningRules returns all loaded screening rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /screening-rules/reload.
func (h *Handler) ListScreeningRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.screening.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetScreeningRule retrieves a screening rule by ID.
func (h *Handler) GetScreeningRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	rule, err := h.repo.GetScreeningRule(ctx, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "screening rule not found",
			})
			return
		}
		slog.Error("failed to get screening rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get screening rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateScreeningRuleRequest is the request body for creating a screening rule.
type CreateScreeningRuleRequest struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Expression  string           `json:"expression"`
	Impact      domain.RiskLevel `json:"impact"`
	Enabled     bool             `json:"enabled"`
}

// CreateScreeningRule creates a new screening rule and saves it to the
// database. After saving, call POST /screening-rules/reload to hot-reload the
// engine.
func (h *Handler) CreateScreeningRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateScreeningRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	impact := req.Impact
	if impact == "" {
		impact = domain.RiskMedium
	}

	rule := &domain.ScreeningRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Impact:      impact,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.screening.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if err := h.repo.SaveScreeningRule(ctx, rule); err != nil {
		slog.Error("failed to save screening rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save screening rule",
		})
		return
	}

	slog.Info("screening rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": "Rule created. Call POST /screening-rules/reload to apply changes.",
	})
}

// ReloadScreeningRules reloads all screening rules from the database into the
// engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadScreeningRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbRules, err := h.repo.ListScreeningRules(ctx)
	if err != nil {
		slog.Error("failed to list screening rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load screening rules from database",
		})
		return
	}

	if err := h.screening.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload screening rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload screening rules: " + err.Error(),
		})
		return
	}

	slog.Info("screening rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "screening rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
