package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ScoringClient fetches computed reviews from the external scoring service
// over HTTP. Everything short of a well-formed review is a transient error:
// the review retriever decides how often to come back.
type ScoringClient struct {
	baseURL string
	client  *http.Client
}

type scoringRequest struct {
	SessionID string `json:"session_id"`
	EntityID  string `json:"entity_id"`
	OrgID     string `json:"org_id"`
}

type scoringResponse struct {
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Review  *Review `json:"review,omitempty"`
}

func NewScoringClient(baseURL string) *ScoringClient {
	return &ScoringClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchReview makes one attempt against the scoring endpoint. Cancelable
// via ctx; the retriever aborts in-flight attempts on teardown.
func (c *ScoringClient) FetchReview(ctx context.Context, sessionID, entityID, orgID string) (*Review, error) {
	payload := scoringRequest{SessionID: sessionID, EntityID: entityID, OrgID: orgID}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scoring request: %w", err)
	}

	url := c.baseURL + "/v1/score"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transientf("scoring request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, Transientf("scoring service error: %d - %s", resp.StatusCode, string(body))
	}

	var result scoringResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, Transientf("malformed scoring payload: %v", err)
	}
	if !result.Success || result.Review == nil || result.Review.Summary == "" {
		return nil, Transientf("review not ready: %s", result.Error)
	}

	slog.Info("Fetched review from scoring service", "session_id", sessionID, "overall_score", result.Review.OverallScore)
	return result.Review, nil
}
