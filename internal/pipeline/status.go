package pipeline

import (
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
)

// State is the phase of a generation run.
type State string

const (
	StateIdle       State = "idle"
	StateOutlining  State = "outlining"
	StateGenerating State = "generating"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
)

// Status is a point-in-time view of the run, published to subscribers on
// every transition.
type Status struct {
	State         State     `json:"state"`
	Message       string    `json:"message,omitempty"`
	Error         string    `json:"error,omitempty"`
	Completed     int       `json:"completed"`
	Total         int       `json:"total"`
	Generation    uint64    `json:"generation"`
	ImagesPending int       `json:"imagesPending"`
	ImagesFailed  int       `json:"imagesFailed"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Resumable reports whether Resume can continue this run.
func (s Status) Resumable() bool { return s.State == StateFailed }

// Status returns the current run status.
func (b *Builder) Status() Status {
	b.mu.Lock()
	st := b.status
	b.mu.Unlock()
	st.ImagesPending = b.sched.Pending()
	st.ImagesFailed = b.sched.Failed()
	return st
}

func (b *Builder) setStatusLocked(st Status) {
	st.Generation = b.gen
	st.UpdatedAt = time.Now().UTC()
	if st.Message == "" {
		st.Message = defaultMessage(st)
	}
	b.status = st
}

func (b *Builder) publishStatus() {
	st := b.Status()
	b.store.Publish(deck.Event{Type: deck.EventStatus, DeckID: b.store.ID(), Status: st})
}

func defaultMessage(st Status) string {
	switch st.State {
	case StateOutlining:
		return "Building outline"
	case StateGenerating:
		return "Writing slides"
	case StateComplete:
		return "Deck ready"
	case StateFailed:
		return "Generation stopped"
	default:
		return ""
	}
}
