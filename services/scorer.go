package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxprep/backend/models"
)

// Scorer produces reviews locally with Gemini. Generation runs in the
// background after a session completes; FetchReview reports a transient
// error until the review is ready so callers can poll with backoff.
type Scorer struct {
	gemini *GeminiService

	mu      sync.Mutex
	reviews map[string]*Review
	pending map[string]bool
}

var _ ReviewFetcher = (*Scorer)(nil)

func NewScorer(gemini *GeminiService) *Scorer {
	return &Scorer{
		gemini:  gemini,
		reviews: make(map[string]*Review),
		pending: make(map[string]bool),
	}
}

// Enqueue starts review generation for a completed session. Duplicate
// calls for the same session are ignored while one is in flight.
func (s *Scorer) Enqueue(sessionID string, entity *models.Entity, transcript string) {
	s.mu.Lock()
	if s.pending[sessionID] || s.reviews[sessionID] != nil {
		s.mu.Unlock()
		return
	}
	s.pending[sessionID] = true
	s.mu.Unlock()

	go s.generate(sessionID, entity, transcript)
}

func (s *Scorer) generate(sessionID string, entity *models.Entity, transcript string) {
	defer func() {
		s.mu.Lock()
		delete(s.pending, sessionID)
		s.mu.Unlock()
	}()

	prompt := BuildReviewPrompt(entity, transcript)
	raw, err := s.gemini.GenerateReview(context.Background(), prompt)
	if err != nil {
		slog.Error("Review generation failed", "sessionID", sessionID, "error", err)
		return
	}

	review := parseReview(sessionID, raw)
	s.mu.Lock()
	s.reviews[sessionID] = review
	s.mu.Unlock()
	slog.Info("Review generated", "sessionID", sessionID, "overallScore", review.OverallScore)
}

// FetchReview implements ReviewFetcher. The entity and org arguments are
// part of the fetcher contract for remote scorers; the in-process cache is
// keyed by session alone. A session whose review has not been generated yet
// yields a transient error.
func (s *Scorer) FetchReview(ctx context.Context, sessionID, entityID, orgID string) (*Review, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	review := s.reviews[sessionID]
	s.mu.Unlock()
	if review == nil {
		return nil, Transientf("review not ready for session %s", sessionID)
	}
	return review, nil
}

// Get returns the review if present without polling semantics.
func (s *Scorer) Get(sessionID string) *Review {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviews[sessionID]
}

type reviewPayload struct {
	Summary        string             `json:"summary"`
	OverallScore   float64            `json:"overallScore"`
	SubScores      map[string]float64 `json:"subScores"`
	Recommendation string             `json:"recommendation"`
}

// parseReview extracts the structured review from the model output,
// tolerating markdown fences and trailing prose around the JSON object.
func parseReview(sessionID, raw string) *Review {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end >= 0 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	var payload reviewPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		slog.Warn("Failed to parse review JSON, using fallback", "sessionID", sessionID, "error", err)
		return &Review{
			SessionID:      sessionID,
			OverallScore:   50,
			SubScores:      map[string]float64{},
			Recommendation: "Review could not be parsed; manual evaluation recommended.",
			Summary:        strings.TrimSpace(raw),
		}
	}

	if payload.OverallScore < 0 {
		payload.OverallScore = 0
	}
	if payload.OverallScore > 100 {
		payload.OverallScore = 100
	}
	if payload.SubScores == nil {
		payload.SubScores = map[string]float64{}
	}
	for k, v := range payload.SubScores {
		if v < 0 {
			payload.SubScores[k] = 0
		}
		if v > 100 {
			payload.SubScores[k] = 100
		}
	}

	return &Review{
		SessionID:      sessionID,
		OverallScore:   payload.OverallScore,
		SubScores:      payload.SubScores,
		Recommendation: payload.Recommendation,
		Summary:        payload.Summary,
	}
}
