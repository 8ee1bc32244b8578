// Package ml provides the HTTP client for the external predictive scoring
// service. The model behind the endpoint is opaque; this package only carries
// its output back into the scoring pipeline.
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Client calls the external scoring service over HTTP. Every failure mode,
// including connection errors, timeouts, non-2xx responses and malformed
// bodies, maps to domain.ErrScoringUnavailable so callers can fall back to
// rule-based scoring.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an ML scoring client. Returns nil if no base URL is
// configured; callers treat a nil scorer as "no ML channel".
func NewClient(cfg domain.MLConfig) *Client {
	if cfg.BaseURL == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	ApplicationID string `json:"applicationId"`
}

type scoreResponse struct {
	Score   float64             `json:"score"`
	Level   string              `json:"level"`
	Factors []domain.RiskFactor `json:"factors"`
}

// Score requests a predictive score for an application.
func (c *Client) Score(ctx context.Context, applicationID string) (*domain.ChannelScore, error) {
	body, err := json.Marshal(scoreRequest{ApplicationID: applicationID})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode request: %v", domain.ErrScoringUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrScoringUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Warn("ML scoring request failed",
			"application_id", applicationID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", domain.ErrScoringUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("ML scoring service returned error status",
			"application_id", applicationID,
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf("%w: status %d", domain.ErrScoringUnavailable, resp.StatusCode)
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", domain.ErrScoringUnavailable, err)
	}

	return &domain.ChannelScore{
		Score:   sr.Score,
		Level:   domain.RiskLevel(sr.Level),
		Factors: sr.Factors,
	}, nil
}
