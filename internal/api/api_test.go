package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/progress"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/screening"
	"github.com/opensource-finance/kestrel/internal/steps"
)

type testServer struct {
	server *Server
	repo   domain.Repository
}

// newTestServer wires a server against a temp sqlite repository, an in-memory
// cache, and a channel bus. No ML endpoint, so scoring falls back to the
// rule-based channel.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	f, err := os.CreateTemp("", "kestrel-api-test-*.db")
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
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	aggregator := progress.NewAggregator(repo, lru, 30*time.Second)

	engine, err := screening.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create screening engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	scorer := risk.NewScorer(repo, nil, engine)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	server := NewServer(cfg, repo, lru, eventBus, aggregator, scorer, engine, 0.5, "test-v1")
	return &testServer{server: server, repo: repo}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewBuffer(raw)
	} else {
		reader = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rr, req)
	return rr
}

// createApplication creates an application through the API and returns its id.
func (ts *testServer) createApplication(t *testing.T, clientName string) string {
	t.Helper()

	rr := ts.do(t, http.MethodPost, "/applications", CreateApplicationRequest{
		ClientName: clientName,
		Email:      "client@example.com",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create application: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var app domain.Application
	if err := json.Unmarshal(rr.Body.Bytes(), &app); err != nil {
		t.Fatalf("failed to parse application: %v", err)
	}
	if app.ID == "" {
		t.Fatal("expected application id in response")
	}
	return app.ID
}

func TestApplicationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("CreateAndGet", func(t *testing.T) {
		appID := ts.createApplication(t, "Acme Holdings Ltd")

		rr := ts.do(t, http.MethodGet, "/applications/"+appID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var app domain.Application
		json.Unmarshal(rr.Body.Bytes(), &app)
		if app.ClientName != "Acme Holdings Ltd" {
			t.Errorf("clientName = %q", app.ClientName)
		}
		if app.Status != domain.StatusDraft {
			t.Errorf("status = %q, want draft", app.Status)
		}
	})

	t.Run("MissingClientName", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/applications", CreateApplicationRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/applications", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		ts.server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("GetUnknownApplication", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/no-such-app", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("ListIncludesProgress", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp struct {
			Applications []domain.ApplicationSummary `json:"applications"`
			Count        int                         `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count == 0 {
			t.Fatal("expected at least one application")
		}
		if resp.Applications[0].Progress.TotalSteps != steps.Count() {
			t.Errorf("totalSteps = %d, want %d", resp.Applications[0].Progress.TotalSteps, steps.Count())
		}
	})
}

func TestStepEndpoints(t *testing.T) {
	ts := newTestServer(t)
	appID := ts.createApplication(t, "Beacon Traders")

	t.Run("SaveStep", func(t *testing.T) {
		rr := ts.do(t, http.MethodPut, "/applications/"+appID+"/steps/client-details", map[string]any{
			"clientName": "Beacon Traders",
			"ukResident": "yes",
			"_savedAt":   "2026-08-28T10:00:00Z",
			"_version":   3,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Step       string `json:"step"`
			FieldCount int    `json:"fieldCount"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Step != "client-details" {
			t.Errorf("step = %q", resp.Step)
		}
		// Reserved bookkeeping keys are not real fields.
		if resp.FieldCount != 2 {
			t.Errorf("fieldCount = %d, want 2", resp.FieldCount)
		}
	})

	t.Run("UnknownStep", func(t *testing.T) {
		rr := ts.do(t, http.MethodPut, "/applications/"+appID+"/steps/retired-step", map[string]any{
			"x": 1,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("SaveToUnknownApplication", func(t *testing.T) {
		rr := ts.do(t, http.MethodPut, "/applications/no-such-app/steps/kyc", map[string]any{
			"identityVerified": "yes",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("GetStep", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/steps/client-details", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var rec domain.FormRecord
		json.Unmarshal(rr.Body.Bytes(), &rec)
		if rec.Data["clientName"] != "Beacon Traders" {
			t.Errorf("clientName = %v", rec.Data["clientName"])
		}
	})

	t.Run("GetUnsavedStep", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/steps/finalisation", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("GetUnknownStep", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/steps/retired-step", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})
}

func TestProgressEndpoint(t *testing.T) {
	ts := newTestServer(t)
	appID := ts.createApplication(t, "Cedar & Co")

	getProgress := func(t *testing.T) *domain.ProgressResult {
		t.Helper()
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/progress", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var result domain.ProgressResult
		if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
			t.Fatalf("failed to parse progress: %v", err)
		}
		return &result
	}

	t.Run("EmptyApplication", func(t *testing.T) {
		result := getProgress(t)
		if result.CompletedCount != 0 {
			t.Errorf("completedCount = %d, want 0", result.CompletedCount)
		}
		if result.Percentage != 0 {
			t.Errorf("percentage = %v, want 0", result.Percentage)
		}
	})

	t.Run("BookkeepingOnlySaveDoesNotCount", func(t *testing.T) {
		rr := ts.do(t, http.MethodPut, "/applications/"+appID+"/steps/referrals", map[string]any{
			"_savedAt": "2026-08-28T10:00:00Z",
			"_version": 1,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("save: expected 200, got %d", rr.Code)
		}

		result := getProgress(t)
		if result.CompletedCount != 0 {
			t.Errorf("completedCount = %d, want 0", result.CompletedCount)
		}
	})

	t.Run("ExplicitCompleteFlagCounts", func(t *testing.T) {
		rr := ts.do(t, http.MethodPut, "/applications/"+appID+"/steps/associations", map[string]any{
			"_complete": true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("save: expected 200, got %d", rr.Code)
		}

		result := getProgress(t)
		if result.CompletedCount != 1 {
			t.Errorf("completedCount = %d, want 1", result.CompletedCount)
		}
	})

	t.Run("SaveInvalidatesCachedProgress", func(t *testing.T) {
		before := getProgress(t)

		rr := ts.do(t, http.MethodPut, "/applications/"+appID+"/steps/trading-as", map[string]any{
			"tradingName": "Cedar Traders",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("save: expected 200, got %d", rr.Code)
		}

		after := getProgress(t)
		if after.CompletedCount != before.CompletedCount+1 {
			t.Errorf("completedCount = %d, want %d", after.CompletedCount, before.CompletedCount+1)
		}
	})

	t.Run("UnknownApplication", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/no-such-app/progress", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestRiskEndpoint(t *testing.T) {
	ts := newTestServer(t)
	appID := ts.createApplication(t, "Dunmore Estates")

	// All KYC checks pass, all assessment questions answered yes.
	saveAnswers := func(t *testing.T, step string, data map[string]any) {
		t.Helper()
		rr := ts.do(t, http.MethodPut, "/applications/"+appID+"/steps/"+step, data)
		if rr.Code != http.StatusOK {
			t.Fatalf("save %s: expected 200, got %d: %s", step, rr.Code, rr.Body.String())
		}
	}
	saveAnswers(t, "kyc", map[string]any{
		"identityVerified":           "yes",
		"addressVerified":            "yes",
		"beneficialOwnersIdentified": "yes",
		"integritySatisfied":         "yes",
		"sourceOfFundsUnderstood":    "yes",
	})
	saveAnswers(t, "risk-assessment", map[string]any{
		"activitiesUnderstood":     "yes",
		"recordsAdequate":          "yes",
		"structureStraightforward": "yes",
		"feesViable":               "yes",
		"independenceClear":        "yes",
	})

	t.Run("CleanApplicationScoresLow", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/risk", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp RiskResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Weighted.Score != 20 {
			t.Errorf("weighted score = %v, want 20", resp.Weighted.Score)
		}
		if resp.OverallLabel != domain.RiskLow {
			t.Errorf("overallLabel = %s, want low", resp.OverallLabel)
		}
		if resp.Badge != "green" {
			t.Errorf("badge = %q, want green", resp.Badge)
		}
		// No ML endpoint configured, so the rule channel carries the result.
		if resp.ScoringMethod != domain.MethodRuleBased {
			t.Errorf("scoringMethod = %s, want rule_based", resp.ScoringMethod)
		}
	})

	t.Run("ScoringWritesSnapshot", func(t *testing.T) {
		snap, err := ts.repo.LatestRiskSnapshot(context.Background(), appID)
		if err != nil {
			t.Fatalf("expected snapshot after scoring: %v", err)
		}
		if snap.Score != 20 {
			t.Errorf("snapshot score = %v, want 20", snap.Score)
		}
	})

	t.Run("RuleWeightQueryOverride", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/risk?ruleWeight=1.0", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp RiskResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.RuleWeight != 1.0 {
			t.Errorf("ruleWeight = %v, want 1.0", resp.RuleWeight)
		}
	})

	t.Run("MalformedRuleWeight", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/risk?ruleWeight=heavy", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("OutOfRangeRuleWeightHasNoSideEffects", func(t *testing.T) {
		before, err := ts.repo.LatestRiskSnapshot(context.Background(), appID)
		if err != nil {
			t.Fatalf("failed to load snapshot: %v", err)
		}

		rr := ts.do(t, http.MethodGet, "/applications/"+appID+"/risk?ruleWeight=1.5", nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rr.Code)
		}

		after, err := ts.repo.LatestRiskSnapshot(context.Background(), appID)
		if err != nil {
			t.Fatalf("failed to load snapshot: %v", err)
		}
		if after.ID != before.ID {
			t.Error("rejected request must not write a snapshot")
		}
	})

	t.Run("UnknownApplication", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/applications/no-such-app/risk", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})
}

func TestStepsRegistryEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/steps", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp struct {
		Steps []domain.StepDefinition `json:"steps"`
		Count int                     `json:"count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Count != steps.Count() {
		t.Errorf("count = %d, want %d", resp.Count, steps.Count())
	}
	if resp.Steps[0].ID != "client-details" {
		t.Errorf("first step = %q", resp.Steps[0].ID)
	}
}

func TestScreeningRuleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("CreateRule", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/screening-rules", CreateScreeningRuleRequest{
			ID:         "cash-business",
			Name:       "Cash-Intensive Business",
			Expression: `"businessType" in answers && answers["businessType"] == "cash"`,
			Impact:     domain.RiskHigh,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/screening-rules", CreateScreeningRuleRequest{
			ID:         "bad-rule",
			Name:       "Broken",
			Expression: "completed_steps +",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("NonBoolExpression", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/screening-rules", CreateScreeningRuleRequest{
			ID:         "numeric-rule",
			Name:       "Numeric",
			Expression: "completed_steps + 1",
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/screening-rules", CreateScreeningRuleRequest{
			Name: "No ID",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rr.Code)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/screening-rules/cash-business", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var rule domain.ScreeningRule
		json.Unmarshal(rr.Body.Bytes(), &rule)
		if rule.Name != "Cash-Intensive Business" {
			t.Errorf("name = %q", rule.Name)
		}
	})

	t.Run("GetMissingRule", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/screening-rules/no-such-rule", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("ReloadFromDatabase", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/screening-rules/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})

	t.Run("ListLoadedRules", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/screening-rules", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp struct {
			Rules []domain.ScreeningRule `json:"rules"`
			Count int                    `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("count = %d, want 1", resp.Count)
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["status"] != "healthy" {
			t.Errorf("status = %q, want healthy", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("version = %q, want test-v1", resp["version"])
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/health", nil)
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
