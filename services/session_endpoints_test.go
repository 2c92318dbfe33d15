package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "unauthorized", err: ErrUnauthorized, expected: http.StatusUnauthorized},
		{name: "forbidden", err: ErrForbidden, expected: http.StatusForbidden},
		{name: "not found", err: ErrNotFound, expected: http.StatusNotFound},
		{name: "agent unavailable", err: ErrAgentUnavailable, expected: http.StatusUnprocessableEntity},
		{name: "invalid transition", err: ErrInvalidTransition, expected: http.StatusConflict},
		{name: "retries exhausted", err: ErrExhaustedRetries, expected: http.StatusGatewayTimeout},
		{name: "transient failure", err: Transientf("scoring flaked"), expected: http.StatusBadGateway},
		{name: "wrapped sentinel", err: errors.Join(errors.New("context"), ErrNotFound), expected: http.StatusNotFound},
		{name: "unknown error", err: errors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)

			if rec.Code != tt.expected {
				t.Errorf("status = %d, expected %d", rec.Code, tt.expected)
			}

			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %v", err)
			}
			if success, _ := body["success"].(bool); success {
				t.Error("error envelope reported success=true")
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Error("error envelope missing message")
			}
		})
	}
}

func TestScoreHandler(t *testing.T) {
	scorer := NewScorer(nil)
	scorer.reviews["sess-done"] = &Review{
		SessionID:    "sess-done",
		OverallScore: 77,
		Summary:      "Good work.",
	}
	endpoints := &SessionEndpoints{scorer: scorer}

	t.Run("ready review", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/score", strings.NewReader(`{"session_id":"sess-done"}`))
		rec := httptest.NewRecorder()
		endpoints.ScoreHandler(rec, req)

		var resp scoringResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body is not JSON: %v", err)
		}
		if !resp.Success || resp.Review == nil || resp.Review.OverallScore != 77 {
			t.Errorf("response = %+v, expected ready review", resp)
		}
	})

	t.Run("pending review", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/score", strings.NewReader(`{"session_id":"sess-pending"}`))
		rec := httptest.NewRecorder()
		endpoints.ScoreHandler(rec, req)

		var resp scoringResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("body is not JSON: %v", err)
		}
		if resp.Success || resp.Review != nil {
			t.Errorf("response = %+v, expected not-ready envelope", resp)
		}
	})

	t.Run("scorer disabled", func(t *testing.T) {
		disabled := &SessionEndpoints{}
		req := httptest.NewRequest("POST", "/api/v1/score", strings.NewReader(`{"session_id":"x"}`))
		rec := httptest.NewRecorder()
		disabled.ScoreHandler(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, expected 404 when local scoring is off", rec.Code)
		}
	})
}
