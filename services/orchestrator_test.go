package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxprep/backend/models"
	"github.com/voxprep/backend/voicecall"
)

type fakeVoiceAgent struct {
	mu       sync.Mutex
	events   chan AgentEvent
	stops    int
	startErr error
}

func newFakeVoiceAgent() *fakeVoiceAgent {
	return &fakeVoiceAgent{events: make(chan AgentEvent, 16)}
}

func (a *fakeVoiceAgent) Start(ctx context.Context, agentID string, overrides AgentOverrides) (<-chan AgentEvent, error) {
	if a.startErr != nil {
		return nil, a.startErr
	}
	return a.events, nil
}

func (a *fakeVoiceAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stops++
	return nil
}

func (a *fakeVoiceAgent) stopCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stops
}

type completionRecorder struct {
	mu         sync.Mutex
	calls      int
	transcript string
}

func (c *completionRecorder) fn(sessionID, entityID, orgID, transcript string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.transcript = transcript
}

func (c *completionRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func testEntity() *models.Entity {
	return &models.Entity{
		ID:              "entity-1",
		OrganizationID:  "org-1",
		Type:            models.EntityTypeInterview,
		Title:           "Backend Screen",
		AgentID:         "agent-1",
		AgentCredential: "cred-1",
		Domain:          "backend",
		Seniority:       "mid",
	}
}

func testSetup(t *testing.T, agents ...*fakeVoiceAgent) (*CallOrchestrator, *fakeSessionRepo, *SessionStore, *completionRecorder) {
	t.Helper()
	repo := newFakeSessionRepo()
	store := NewSessionStore(repo)
	hub := voicecall.NewHub()
	go hub.Run()
	recorder := &completionRecorder{}

	i := 0
	factory := func(credential string) VoiceAgent {
		agent := agents[i]
		if i < len(agents)-1 {
			i++
		}
		return agent
	}

	return NewCallOrchestrator(store, hub, factory, recorder.fn), repo, store, recorder
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartCallWithoutAgentConfig(t *testing.T) {
	orchestrator, _, store, _ := testSetup(t, newFakeVoiceAgent())
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	entity := testEntity()
	entity.AgentID = ""

	_, err := orchestrator.StartCall(context.Background(), session, entity)
	if !errors.Is(err, ErrAgentUnavailable) {
		t.Fatalf("StartCall() error = %v, expected ErrAgentUnavailable", err)
	}
}

func TestStartCallAgentInitFailure(t *testing.T) {
	agent := newFakeVoiceAgent()
	agent.startErr = errors.New("dial refused")
	orchestrator, repo, store, recorder := testSetup(t, agent)
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	_, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err == nil {
		t.Fatal("StartCall() expected error on agent init failure")
	}
	if got := repo.status(session.ID); got != models.SessionStatusCancelled {
		t.Errorf("session status = %q, expected cancelled", got)
	}
	if recorder.count() != 0 {
		t.Errorf("completion ran %d times for a call that never connected", recorder.count())
	}
	if orchestrator.ActiveRunner(session.ID) != nil {
		t.Error("failed call left an active runner behind")
	}
}

func TestCallLifecycleCompleted(t *testing.T) {
	agent := newFakeVoiceAgent()
	orchestrator, repo, store, recorder := testSetup(t, agent)
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	runner, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}
	if runner.State() != CallStateConnecting {
		t.Errorf("initial state = %v, expected connecting", runner.State())
	}

	agent.events <- AgentEvent{Type: EventCallStart}
	waitFor(t, "call active", func() bool { return runner.State() == CallStateActive })
	waitFor(t, "session in progress", func() bool { return repo.status(session.ID) == models.SessionStatusInProgress })

	agent.events <- AgentEvent{Type: EventMessage, Role: "assistant", TranscriptType: TranscriptFinal, Text: "Tell me about Go."}
	agent.events <- AgentEvent{Type: EventMessage, Role: "user", TranscriptType: TranscriptPartial, Text: "Well, I th"}
	agent.events <- AgentEvent{Type: EventMessage, Role: "user", TranscriptType: TranscriptFinal, Text: "Well, I think goroutines are great."}
	agent.events <- AgentEvent{Type: EventVolumeLevel, Volume: 0.4}
	agent.events <- AgentEvent{Type: EventCallEnd}

	<-runner.Done()

	if got := repo.status(session.ID); got != models.SessionStatusCompleted {
		t.Errorf("session status = %q, expected completed", got)
	}

	repo.mu.Lock()
	stored := repo.sessions[session.ID]
	transcript := stored.Transcript
	reason := stored.CallEndedReason
	started, ended := stored.CallStartedAt, stored.CallEndedAt
	repo.mu.Unlock()

	if strings.Contains(transcript, "Well, I th\n") || strings.Count(transcript, "Well, I th") != 1 {
		t.Errorf("partial utterance leaked into transcript: %q", transcript)
	}
	if !strings.Contains(transcript, "assistant: Tell me about Go.") {
		t.Errorf("transcript missing assistant line: %q", transcript)
	}
	if reason != EndReasonAgent {
		t.Errorf("ended reason = %q, expected %q", reason, EndReasonAgent)
	}
	if started == nil || ended == nil {
		t.Error("call timestamps were not recorded")
	}

	waitFor(t, "completion callback", func() bool { return recorder.count() == 1 })
	if !strings.Contains(recorder.transcript, "goroutines") {
		t.Errorf("completion transcript = %q", recorder.transcript)
	}
	if agent.stopCount() != 1 {
		t.Errorf("agent stopped %d times, expected 1", agent.stopCount())
	}
}

func TestCallEndBeforeStartCancels(t *testing.T) {
	agent := newFakeVoiceAgent()
	orchestrator, repo, store, recorder := testSetup(t, agent)
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	runner, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	// The provider ends the call before it ever went active.
	agent.events <- AgentEvent{Type: EventCallEnd}
	<-runner.Done()

	if got := repo.status(session.ID); got != models.SessionStatusCancelled {
		t.Errorf("session status = %q, expected cancelled", got)
	}
	if recorder.count() != 0 {
		t.Errorf("completion ran %d times for a call that never went active", recorder.count())
	}
}

func TestStreamDropFinalizesOnce(t *testing.T) {
	agent := newFakeVoiceAgent()
	orchestrator, repo, store, _ := testSetup(t, agent)
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	runner, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	agent.events <- AgentEvent{Type: EventCallStart}
	waitFor(t, "call active", func() bool { return runner.State() == CallStateActive })

	close(agent.events)
	<-runner.Done()

	repo.mu.Lock()
	reason := repo.sessions[session.ID].CallEndedReason
	repo.mu.Unlock()
	if reason != EndReasonDropped {
		t.Errorf("ended reason = %q, expected %q", reason, EndReasonDropped)
	}
	if got := repo.status(session.ID); got != models.SessionStatusCompleted {
		t.Errorf("session status = %q, expected completed", got)
	}
}

func TestConcurrentEndTriggersFinalizeOnce(t *testing.T) {
	agent := newFakeVoiceAgent()
	orchestrator, repo, store, recorder := testSetup(t, agent)
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	runner, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	agent.events <- AgentEvent{Type: EventCallStart}
	waitFor(t, "call active", func() bool { return runner.State() == CallStateActive })

	// User end, provider end and stream close all race; exactly one wins.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		orchestrator.EndSession(context.Background(), session.ID)
	}()
	go func() {
		defer wg.Done()
		agent.events <- AgentEvent{Type: EventCallEnd}
		close(agent.events)
	}()
	wg.Wait()
	<-runner.Done()

	repo.mu.Lock()
	recordCalls := repo.recordCalls
	repo.mu.Unlock()
	if recordCalls != 1 {
		t.Errorf("call details recorded %d times, expected exactly 1", recordCalls)
	}
	waitFor(t, "single completion", func() bool { return recorder.count() == 1 })
	if got := repo.status(session.ID); got != models.SessionStatusCompleted {
		t.Errorf("session status = %q, expected completed", got)
	}
	if orchestrator.ActiveRunner(session.ID) != nil {
		t.Error("finished call left an active runner behind")
	}
}

func TestStartCallSupersedesPreviousRunner(t *testing.T) {
	first := newFakeVoiceAgent()
	second := newFakeVoiceAgent()
	orchestrator, repo, store, _ := testSetup(t, first, second)
	session, _ := store.CreateSession(context.Background(), "entity-1", "org-1", nil, nil, nil)

	firstRunner, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err != nil {
		t.Fatalf("first StartCall() error = %v", err)
	}
	first.events <- AgentEvent{Type: EventCallStart}
	waitFor(t, "first call active", func() bool { return firstRunner.State() == CallStateActive })

	secondRunner, err := orchestrator.StartCall(context.Background(), session, testEntity())
	if err != nil {
		t.Fatalf("second StartCall() error = %v", err)
	}

	select {
	case <-firstRunner.Done():
	default:
		t.Fatal("previous runner still live after supersede")
	}
	if first.stopCount() != 1 {
		t.Errorf("first agent stopped %d times, expected 1", first.stopCount())
	}

	// The superseded runner must not have closed out the session row.
	if got := repo.status(session.ID); got != models.SessionStatusInProgress {
		t.Errorf("session status after supersede = %q, expected in_progress", got)
	}
	if orchestrator.ActiveRunner(session.ID) != secondRunner {
		t.Error("active runner is not the successor")
	}

	second.events <- AgentEvent{Type: EventCallStart}
	second.events <- AgentEvent{Type: EventCallEnd}
	<-secondRunner.Done()

	if got := repo.status(session.ID); got != models.SessionStatusCompleted {
		t.Errorf("session status = %q, expected completed", got)
	}
}
