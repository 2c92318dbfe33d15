package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxprep/backend/models"
	"github.com/voxprep/backend/voicecall"
)

// CallState tracks one call instance through its lifecycle. Ended is
// terminal for the instance; a retry creates a brand-new runner.
type CallState int32

const (
	CallStateIdle CallState = iota
	CallStateConnecting
	CallStateActive
	CallStateEnded
)

func (s CallState) String() string {
	switch s {
	case CallStateIdle:
		return "idle"
	case CallStateConnecting:
		return "connecting"
	case CallStateActive:
		return "active"
	case CallStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Call-ended reasons recorded on the session.
const (
	EndReasonUser       = "user_ended"
	EndReasonAgent      = "call_ended"
	EndReasonDropped    = "connection_lost"
	EndReasonSuperseded = "superseded"
)

// CompletionFunc runs after a call finalizes as completed, with the
// finalized transcript. The orchestrator uses it to hand off to scoring.
type CompletionFunc func(sessionID, entityID, orgID, transcript string)

// CallOrchestrator drives at most one live call per session. Starting a new
// call tears down and waits out any previous runner for the same session,
// so two event streams can never coexist.
type CallOrchestrator struct {
	store      *SessionStore
	hub        *voicecall.Hub
	newAgent   VoiceAgentFactory
	onComplete CompletionFunc

	// startMu serializes StartCall so two concurrent starts for the same
	// session cannot both observe "no previous runner".
	startMu sync.Mutex
	mu      sync.Mutex
	active  map[string]*CallRunner
}

func NewCallOrchestrator(store *SessionStore, hub *voicecall.Hub, newAgent VoiceAgentFactory, onComplete CompletionFunc) *CallOrchestrator {
	return &CallOrchestrator{
		store:      store,
		hub:        hub,
		newAgent:   newAgent,
		onComplete: onComplete,
		active:     make(map[string]*CallRunner),
	}
}

// StartCall creates a runner for the session and begins the call. An entity
// without agent configuration is a fatal, non-retryable error. Agent
// initialization failures are fatal too: the session is cancelled and the
// call never reaches active.
func (o *CallOrchestrator) StartCall(ctx context.Context, session *models.Session, entity *models.Entity) (*CallRunner, error) {
	if !entity.HasAgent() {
		return nil, ErrAgentUnavailable
	}

	o.startMu.Lock()
	defer o.startMu.Unlock()

	// At most one live call handle per session: release the previous
	// instance fully before creating its successor.
	o.mu.Lock()
	prev := o.active[session.ID]
	o.mu.Unlock()
	if prev != nil {
		slog.Info("Superseding live call", "session_id", session.ID)
		prev.finish(ctx, EndReasonSuperseded)
		<-prev.done
	}

	runner := &CallRunner{
		sessionID:  session.ID,
		entityID:   session.EntityID,
		orgID:      session.OrganizationID,
		agent:      o.newAgent(entity.AgentCredential),
		store:      o.store,
		hub:        o.hub,
		assembler:  NewTranscriptAssembler(),
		onComplete: o.onComplete,
		release:    func(r *CallRunner) { o.remove(session.ID, r) },
		done:       make(chan struct{}),
	}
	runner.state.Store(int32(CallStateConnecting))

	events, err := runner.agent.Start(ctx, entity.AgentID, BuildAgentOverrides(entity))
	if err != nil {
		runner.state.Store(int32(CallStateEnded))
		close(runner.done)
		if uerr := o.store.UpdateStatus(ctx, session.ID, models.SessionStatusCancelled); uerr != nil {
			slog.Error("Failed to cancel session after agent init failure", "error", uerr, "session_id", session.ID)
		}
		return nil, fmt.Errorf("failed to start voice agent call: %w", err)
	}

	o.mu.Lock()
	o.active[session.ID] = runner
	o.mu.Unlock()

	o.hub.Publish(voicecall.Event{SessionID: session.ID, Type: "state", State: CallStateConnecting.String()})
	go runner.loop(events)

	slog.Info("Call started", "session_id", session.ID, "entity_id", entity.ID)
	return runner, nil
}

// EndSession handles the explicit user action. Returns false when the
// session has no live call; that is a no-op, not an error.
func (o *CallOrchestrator) EndSession(ctx context.Context, sessionID string) bool {
	o.mu.Lock()
	runner := o.active[sessionID]
	o.mu.Unlock()
	if runner == nil {
		return false
	}
	runner.finish(ctx, EndReasonUser)
	return true
}

// ActiveRunner returns the live runner for a session, if any.
func (o *CallOrchestrator) ActiveRunner(sessionID string) *CallRunner {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[sessionID]
}

func (o *CallOrchestrator) remove(sessionID string, runner *CallRunner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active[sessionID] == runner {
		delete(o.active, sessionID)
	}
}

// CallRunner is one call instance. Its terminal transition is guarded by a
// single-assignment completion token: whichever trigger fires first (agent
// call-end, user end, stream drop, supersede) performs finalization exactly
// once; every later trigger is a no-op.
type CallRunner struct {
	sessionID string
	entityID  string
	orgID     string

	agent      VoiceAgent
	store      *SessionStore
	hub        *voicecall.Hub
	assembler  *TranscriptAssembler
	onComplete CompletionFunc
	release    func(*CallRunner)

	state     atomic.Int32
	completed atomic.Bool

	mu        sync.Mutex
	startedAt *time.Time

	done chan struct{}
}

// State reports the runner's current lifecycle state.
func (r *CallRunner) State() CallState {
	return CallState(r.state.Load())
}

// Transcript exposes the live assembler for watchers.
func (r *CallRunner) Transcript() *TranscriptAssembler {
	return r.assembler
}

// Done closes when the runner has fully released its call handle.
func (r *CallRunner) Done() <-chan struct{} {
	return r.done
}

func (r *CallRunner) loop(events <-chan AgentEvent) {
	ctx := context.Background()
	for ev := range events {
		switch ev.Type {
		case EventCallStart:
			if r.state.CompareAndSwap(int32(CallStateConnecting), int32(CallStateActive)) {
				now := time.Now()
				r.mu.Lock()
				r.startedAt = &now
				r.mu.Unlock()
				if err := r.store.UpdateStatus(ctx, r.sessionID, models.SessionStatusInProgress); err != nil {
					slog.Error("Failed to mark session in progress", "error", err, "session_id", r.sessionID)
				}
				r.hub.Publish(voicecall.Event{SessionID: r.sessionID, Type: "state", State: CallStateActive.String()})
				slog.Info("Call active", "session_id", r.sessionID)
			}

		case EventMessage:
			if r.State() != CallStateActive {
				continue
			}
			// Interim text is display noise; only final utterances make
			// the transcript.
			if ev.TranscriptType != TranscriptFinal {
				continue
			}
			r.assembler.Append(Utterance{Role: ev.Role, Text: ev.Text, Timestamp: ev.Timestamp})
			r.hub.Publish(voicecall.Event{SessionID: r.sessionID, Type: "transcript", Role: ev.Role, Text: ev.Text})

		case EventVolumeLevel:
			r.hub.Publish(voicecall.Event{SessionID: r.sessionID, Type: "volume", Volume: ev.Volume})

		case EventSpeechStart:
			r.hub.Publish(voicecall.Event{SessionID: r.sessionID, Type: "speaking", Speaking: true})

		case EventSpeechEnd:
			r.hub.Publish(voicecall.Event{SessionID: r.sessionID, Type: "speaking", Speaking: false})

		case EventCallEnd:
			reason := ev.Reason
			if reason == "" {
				reason = EndReasonAgent
			}
			r.finish(ctx, reason)

		default:
			slog.Warn("Unknown voice agent event", "type", ev.Type, "session_id", r.sessionID)
		}
	}

	// Stream closed without a call-end frame: network drop mid-call.
	r.finish(ctx, EndReasonDropped)
}

// finish performs the terminal transition. Idempotent: the completion token
// admits exactly one caller; a call that never reached active finalizes as
// cancelled rather than completed, and scoring only runs for completed
// calls.
func (r *CallRunner) finish(ctx context.Context, reason string) {
	if !r.completed.CompareAndSwap(false, true) {
		return
	}

	prev := CallState(r.state.Swap(int32(CallStateEnded)))
	if err := r.agent.Stop(ctx); err != nil {
		slog.Warn("Failed to stop voice agent", "error", err, "session_id", r.sessionID)
	}

	// A superseded runner leaves the session row alone: the successor call
	// continues the same session and owns its terminal write.
	if reason == EndReasonSuperseded {
		slog.Info("Call superseded", "session_id", r.sessionID)
		if r.release != nil {
			r.release(r)
		}
		close(r.done)
		return
	}

	now := time.Now()
	r.mu.Lock()
	startedAt := r.startedAt
	r.mu.Unlock()

	wasActive := prev == CallStateActive
	status := models.SessionStatusCancelled
	if wasActive {
		status = models.SessionStatusCompleted
	}

	if err := r.store.UpdateStatus(ctx, r.sessionID, status); err != nil {
		slog.Error("Failed to finalize session status", "error", err, "session_id", r.sessionID, "status", status)
	}
	transcript := r.assembler.Text()
	if err := r.store.RecordCallDetails(ctx, r.sessionID, transcript, startedAt, &now, reason); err != nil {
		slog.Error("Failed to record call details", "error", err, "session_id", r.sessionID)
	}

	r.hub.Publish(voicecall.Event{SessionID: r.sessionID, Type: "ended", Reason: reason})
	slog.Info("Call ended", "session_id", r.sessionID, "reason", reason, "was_active", wasActive)

	if wasActive && r.onComplete != nil {
		r.onComplete(r.sessionID, r.entityID, r.orgID, transcript)
	}

	if r.release != nil {
		r.release(r)
	}
	close(r.done)
}
