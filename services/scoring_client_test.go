package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchReview(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
		wantScore     float64
	}{
		{
			name:      "ready review",
			status:    http.StatusOK,
			body:      `{"success":true,"review":{"session_id":"sess-1","overall_score":91,"summary":"Excellent."}}`,
			wantScore: 91,
		},
		{
			name:          "not ready yet",
			status:        http.StatusOK,
			body:          `{"success":false,"error":"still scoring"}`,
			wantTransient: true,
		},
		{
			name:          "missing summary treated as not ready",
			status:        http.StatusOK,
			body:          `{"success":true,"review":{"session_id":"sess-1","overall_score":50}}`,
			wantTransient: true,
		},
		{
			name:          "server error",
			status:        http.StatusInternalServerError,
			body:          `oops`,
			wantTransient: true,
		},
		{
			name:          "malformed payload",
			status:        http.StatusOK,
			body:          `{not json`,
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/score" {
					t.Errorf("request path = %q, expected /v1/score", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewScoringClient(server.URL)
			review, err := client.FetchReview(context.Background(), "sess-1", "entity-1", "org-1")

			if tt.wantTransient {
				if err == nil {
					t.Fatal("FetchReview() expected an error")
				}
				if !IsTransient(err) {
					t.Errorf("FetchReview() error = %v, expected transient", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FetchReview() error = %v", err)
			}
			if review.OverallScore != tt.wantScore {
				t.Errorf("OverallScore = %v, expected %v", review.OverallScore, tt.wantScore)
			}
		})
	}
}

func TestFetchReviewCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewScoringClient(server.URL)
	if _, err := client.FetchReview(ctx, "sess-1", "entity-1", "org-1"); err == nil {
		t.Fatal("FetchReview() expected error with cancelled context")
	}
}
