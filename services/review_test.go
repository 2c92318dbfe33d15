package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNextDelay(t *testing.T) {
	policy := DefaultRetryPolicy(10)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 2000 * time.Millisecond},
		{1, 4000 * time.Millisecond},
		{2, 8000 * time.Millisecond},
		{3, 10000 * time.Millisecond},
		{4, 10000 * time.Millisecond},
		{10, 10000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := policy.NextDelay(tt.attempt); got != tt.expected {
			t.Errorf("NextDelay(%d) = %v, expected %v", tt.attempt, got, tt.expected)
		}
	}
}

// scriptedFetcher fails with a transient error a fixed number of times
// before succeeding.
type scriptedFetcher struct {
	mu         sync.Mutex
	failures   int
	calls      int
	err        error
	lastReview *Review
}

func (f *scriptedFetcher) FetchReview(ctx context.Context, sessionID, entityID, orgID string) (*Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, Transientf("review not ready")
	}
	f.lastReview = &Review{SessionID: sessionID, OverallScore: 82, Summary: "solid session"}
	return f.lastReview, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func recordedSleeps(p *ReviewPoller) *[]time.Duration {
	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return &sleeps
}

func TestPollRetriesThenSucceeds(t *testing.T) {
	fetcher := &scriptedFetcher{failures: 3}
	poller := NewReviewPoller(fetcher, DefaultRetryPolicy(10))
	sleeps := recordedSleeps(poller)

	review, err := poller.Poll(context.Background(), "sess-1", "entity-1", "org-1")
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	if review.OverallScore != 82 {
		t.Errorf("Poll() score = %v, expected 82", review.OverallScore)
	}
	if fetcher.callCount() != 4 {
		t.Errorf("Poll() made %d calls, expected 4", fetcher.callCount())
	}

	expected := []time.Duration{2000 * time.Millisecond, 4000 * time.Millisecond, 8000 * time.Millisecond}
	if len(*sleeps) != len(expected) {
		t.Fatalf("Poll() slept %d times, expected %d: %v", len(*sleeps), len(expected), *sleeps)
	}
	for i, d := range expected {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d = %v, expected %v", i, (*sleeps)[i], d)
		}
	}
}

func TestPollExhaustsRetries(t *testing.T) {
	fetcher := &scriptedFetcher{failures: 100}
	poller := NewReviewPoller(fetcher, DefaultRetryPolicy(5))
	recordedSleeps(poller)

	_, err := poller.Poll(context.Background(), "sess-1", "entity-1", "org-1")
	if !errors.Is(err, ErrExhaustedRetries) {
		t.Fatalf("Poll() error = %v, expected ErrExhaustedRetries", err)
	}
	// Initial call plus MaxRetries retries.
	if fetcher.callCount() != 6 {
		t.Errorf("Poll() made %d calls, expected 6", fetcher.callCount())
	}
}

func TestPollStopsOnFatalError(t *testing.T) {
	fatal := errors.New("entity was deleted")
	fetcher := &scriptedFetcher{failures: 100, err: fatal}
	poller := NewReviewPoller(fetcher, DefaultRetryPolicy(10))
	recordedSleeps(poller)

	_, err := poller.Poll(context.Background(), "sess-1", "entity-1", "org-1")
	if !errors.Is(err, fatal) {
		t.Fatalf("Poll() error = %v, expected the fatal error", err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Poll() made %d calls, expected 1 for a non-retryable failure", fetcher.callCount())
	}
}

func TestPollCancelledDuringBackoff(t *testing.T) {
	fetcher := &scriptedFetcher{failures: 100}
	poller := NewReviewPoller(fetcher, DefaultRetryPolicy(10))

	ctx, cancel := context.WithCancel(context.Background())
	poller.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := poller.Poll(ctx, "sess-1", "entity-1", "org-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll() error = %v, expected context.Canceled", err)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("Poll() made %d calls after cancellation, expected 1", fetcher.callCount())
	}
}

func TestPollSupersedesInflightCycle(t *testing.T) {
	fetcher := &scriptedFetcher{failures: 100}
	poller := NewReviewPoller(fetcher, DefaultRetryPolicy(10))

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	poller.sleep = func(ctx context.Context, d time.Duration) error {
		once.Do(func() { close(firstStarted) })
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-release:
			return nil
		}
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := poller.Poll(context.Background(), "sess-1", "entity-1", "org-1")
		errCh <- err
	}()
	<-firstStarted

	// The second cycle cancels the first while it waits out its backoff.
	fetcher.mu.Lock()
	fetcher.failures = fetcher.calls // let the next call succeed
	fetcher.mu.Unlock()

	review, err := poller.Poll(context.Background(), "sess-1", "entity-1", "org-1")
	if err != nil {
		t.Fatalf("second Poll() error = %v", err)
	}
	if review == nil || review.SessionID != "sess-1" {
		t.Fatalf("second Poll() review = %+v", review)
	}

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("first Poll() error = %v, expected context.Canceled", err)
	}
	close(release)
}

func TestProgressTracksRunningCycle(t *testing.T) {
	fetcher := &scriptedFetcher{failures: 2}
	poller := NewReviewPoller(fetcher, DefaultRetryPolicy(5))

	var attempts []int
	poller.sleep = func(ctx context.Context, d time.Duration) error {
		prog, ok := poller.Progress("sess-9")
		if !ok {
			t.Error("Progress() not available mid-cycle")
			return nil
		}
		if prog.StartedAt.IsZero() {
			t.Error("Progress() started_at is zero")
		}
		attempts = append(attempts, prog.Attempt)
		return nil
	}

	if _, err := poller.Poll(context.Background(), "sess-9", "entity-9", "org-9"); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if len(attempts) != 2 || attempts[0] != 0 || attempts[1] != 1 {
		t.Errorf("Progress() attempts mid-cycle = %v, expected [0 1]", attempts)
	}
	if _, ok := poller.Progress("sess-9"); ok {
		t.Error("Progress() still reported after the cycle finished")
	}
}
