package services

import (
	"strings"
	"sync"
	"time"
)

// Utterance is one finalized spoken turn. Role is "user" or "assistant".
type Utterance struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeakerTurn groups consecutive same-role utterances for display. The
// grouping is presentational only; the stored order of individual
// utterances is the invariant that matters.
type SpeakerTurn struct {
	Role  string   `json:"role"`
	Texts []string `json:"texts"`
}

// TranscriptAssembler folds final utterance events into an ordered
// conversation log. Append-only; a new call starts a new empty assembler.
type TranscriptAssembler struct {
	mu      sync.RWMutex
	entries []Utterance
}

func NewTranscriptAssembler() *TranscriptAssembler {
	return &TranscriptAssembler{}
}

// Append records an utterance in arrival order. The underlying transport
// delivers events in order per call, so no reordering happens here.
func (a *TranscriptAssembler) Append(u Utterance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, u)
}

// Entries returns a snapshot of the ordered utterances.
func (a *TranscriptAssembler) Entries() []Utterance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Utterance, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of recorded utterances.
func (a *TranscriptAssembler) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// Grouped merges consecutive same-role utterances into speaker turns.
func (a *TranscriptAssembler) Grouped() []SpeakerTurn {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var turns []SpeakerTurn
	for _, u := range a.entries {
		if n := len(turns); n > 0 && turns[n-1].Role == u.Role {
			turns[n-1].Texts = append(turns[n-1].Texts, u.Text)
			continue
		}
		turns = append(turns, SpeakerTurn{Role: u.Role, Texts: []string{u.Text}})
	}
	return turns
}

// Text renders the transcript as persisted at call end: one "role: text"
// line per utterance, in order.
func (a *TranscriptAssembler) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var b strings.Builder
	for i, u := range a.entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(u.Role)
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}
