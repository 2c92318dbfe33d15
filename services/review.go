package services

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Review is the externally computed scoring result for a completed session.
// Not persisted by this service; cached only in the caller's active view.
type Review struct {
	SessionID      string             `json:"session_id"`
	OverallScore   float64            `json:"overall_score"`
	SubScores      map[string]float64 `json:"sub_scores,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
	Summary        string             `json:"summary"`
}

// RetryPolicy is the bounded exponential backoff applied between review
// fetch attempts. MaxRetries is a parameter, not a constant: the review
// poll uses 10 and the session-status poll uses 5.
type RetryPolicy struct {
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	MaxRetries    int
}

// DefaultRetryPolicy returns the review-retrieval policy with the given
// retry ceiling.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		BaseDelay:     2000 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      10000 * time.Millisecond,
		MaxRetries:    maxRetries,
	}
}

// NextDelay returns the wait before retry attempt n (0-indexed):
// min(baseDelay * backoffFactor^n, maxDelay). Pure, so the policy is
// testable without timers.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt)))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// ReviewFetcher is the single-attempt primitive. Implementations return a
// TransientError for anything retryable: non-2xx status, malformed payload,
// or a review that is not ready yet.
type ReviewFetcher interface {
	FetchReview(ctx context.Context, sessionID, entityID, orgID string) (*Review, error)
}

// PollProgress exposes enough state for a caller to drive a progress
// indicator while retries are in flight.
type PollProgress struct {
	Attempt   int           `json:"attempt"`
	Elapsed   time.Duration `json:"elapsed"`
	StartedAt time.Time     `json:"started_at"`
}

// ReviewPoller retries a ReviewFetcher under a RetryPolicy. At most one
// fetch cycle per session is in flight: starting a new cycle cancels the
// previous one before issuing any request.
type ReviewPoller struct {
	fetcher ReviewFetcher
	policy  RetryPolicy

	// sleep waits for d or until ctx is done. Replaceable in tests so the
	// backoff schedule is observable without real timers.
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	progress map[string]*PollProgress
}

func NewReviewPoller(fetcher ReviewFetcher, policy RetryPolicy) *ReviewPoller {
	return &ReviewPoller{
		fetcher:  fetcher,
		policy:   policy,
		sleep:    sleepContext,
		inflight: make(map[string]context.CancelFunc),
		progress: make(map[string]*PollProgress),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poll fetches the review, retrying per the policy until success, ctx
// cancellation, or the ceiling is exhausted (ErrExhaustedRetries). The
// attempt count is calls made: the initial call plus up to MaxRetries
// retries.
func (p *ReviewPoller) Poll(ctx context.Context, sessionID, entityID, orgID string) (*Review, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Overlapping requests for one session are forbidden: supersede any
	// running cycle before the first attempt.
	p.mu.Lock()
	if prev, ok := p.inflight[sessionID]; ok {
		prev()
	}
	p.inflight[sessionID] = cancel
	prog := &PollProgress{StartedAt: time.Now()}
	p.progress[sessionID] = prog
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.progress[sessionID] == prog {
			delete(p.progress, sessionID)
			delete(p.inflight, sessionID)
		}
		p.mu.Unlock()
	}()

	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		prog.Attempt = attempt
		prog.Elapsed = time.Since(prog.StartedAt)
		p.mu.Unlock()

		review, err := p.fetcher.FetchReview(ctx, sessionID, entityID, orgID)
		if err == nil {
			slog.Info("Review retrieved", "session_id", sessionID, "attempts", attempt+1)
			return review, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !IsTransient(err) {
			return nil, err
		}

		if attempt >= p.policy.MaxRetries {
			slog.Warn("Review retrieval exhausted retries", "session_id", sessionID, "attempts", attempt+1)
			return nil, ErrExhaustedRetries
		}

		delay := p.policy.NextDelay(attempt)
		slog.Info("Review not ready, backing off", "session_id", sessionID, "attempt", attempt, "delay", delay, "error", err)
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Progress reports the state of a running fetch cycle for a session.
func (p *ReviewPoller) Progress(sessionID string) (PollProgress, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prog, ok := p.progress[sessionID]
	if !ok {
		return PollProgress{}, false
	}
	out := *prog
	out.Elapsed = time.Since(prog.StartedAt)
	return out, true
}
