package deck

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrSlideNotFound is returned when an identity-keyed operation targets a
	// slide that is not (or no longer) in the deck.
	ErrSlideNotFound = errors.New("slide not found")
	// ErrStaleGeneration is returned when a writer belongs to a superseded run.
	ErrStaleGeneration = errors.New("stale generation")
)

// EventType names a deck change delivered to subscribers.
type EventType string

const (
	EventReset        EventType = "reset"
	EventSlideAdded   EventType = "slide_added"
	EventSlideUpdated EventType = "slide_updated"
	EventImageReady   EventType = "image_ready"
	EventStatus       EventType = "status"
)

// Event is one progressive update. Slide is set for slide events; Status
// carries an opaque run status published by the orchestrator.
type Event struct {
	Type     EventType `json:"type"`
	DeckID   string    `json:"deckId"`
	Position int       `json:"position,omitempty"`
	Slide    *Slide    `json:"slide,omitempty"`
	Status   any       `json:"status,omitempty"`
}

// subscriberBuffer bounds each subscriber's queue. Slow subscribers lose
// events rather than blocking writers.
const subscriberBuffer = 64

// Store is the single authoritative, mutable deck. Slides are kept in a map
// keyed by ID with a separate order list, so identity-keyed merges are O(1)
// and presentation order is preserved. All methods are safe for concurrent use.
//
// Every Reset bumps a generation counter. Background writers (the slide loop
// and image tasks) pass the generation they were started under; writes from a
// superseded generation are discarded.
type Store struct {
	mu         sync.RWMutex
	id         string
	title      string
	theme      string
	background string
	createdAt  time.Time
	updatedAt  time.Time
	slides     map[string]*Slide
	order      []string
	generation uint64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	now func() time.Time
}

// NewStore creates an empty deck store with the given deck ID.
func NewStore(id string) *Store {
	now := time.Now().UTC()
	return &Store{
		id:        id,
		slides:    make(map[string]*Slide),
		subs:      make(map[int]chan Event),
		createdAt: now,
		updatedAt: now,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ID returns the deck ID.
func (s *Store) ID() string {
	return s.id
}

// Generation returns the current run generation.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Len returns the number of slides.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Reset clears all slides and starts a new generation. This is the only
// whole-deck replacement a generation run performs.
func (s *Store) Reset(title, theme string) uint64 {
	s.mu.Lock()
	s.title = title
	s.theme = theme
	s.background = ""
	s.slides = make(map[string]*Slide)
	s.order = nil
	s.generation++
	s.updatedAt = s.now()
	gen := s.generation
	s.mu.Unlock()

	log.Debug().Str("deck", s.id).Uint64("generation", gen).Msg("Deck reset")
	s.publish(Event{Type: EventReset, DeckID: s.id})
	return gen
}

// Load replaces the deck with a persisted snapshot and starts a new
// generation. Duplicate slide IDs in the snapshot are dropped.
func (s *Store) Load(d Deck) uint64 {
	s.mu.Lock()
	s.title = d.Title
	s.theme = d.Theme
	s.background = d.BackgroundImage
	if !d.CreatedAt.IsZero() {
		s.createdAt = d.CreatedAt
	}
	s.updatedAt = s.now()
	s.slides = make(map[string]*Slide, len(d.Slides))
	s.order = make([]string, 0, len(d.Slides))
	for _, sl := range d.Slides {
		if sl.ID == "" {
			continue
		}
		if _, dup := s.slides[sl.ID]; dup {
			log.Warn().Str("deck", s.id).Str("slide", sl.ID).Msg("Dropping duplicate slide on load")
			continue
		}
		c := sl.clone()
		s.slides[sl.ID] = &c
		s.order = append(s.order, sl.ID)
	}
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.publish(Event{Type: EventReset, DeckID: s.id})
	return gen
}

// Append adds slide at the end of the deck. Appending an ID that is already
// present is a no-op and returns false.
func (s *Store) Append(generation uint64, slide Slide) (bool, error) {
	if slide.ID == "" {
		return false, fmt.Errorf("append: slide has no id")
	}

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return false, ErrStaleGeneration
	}
	if _, exists := s.slides[slide.ID]; exists {
		s.mu.Unlock()
		log.Debug().Str("deck", s.id).Str("slide", slide.ID).Msg("Duplicate append ignored")
		return false, nil
	}
	c := slide.clone()
	s.slides[slide.ID] = &c
	s.order = append(s.order, slide.ID)
	s.updatedAt = s.now()
	pos := len(s.order) - 1
	out := c.clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventSlideAdded, DeckID: s.id, Position: pos, Slide: &out})
	return true, nil
}

// PatchImage sets only the ImageURL of the slide with the given ID. prompt is
// the image prompt the picture was made for. It is a no-op (returning false)
// if the slide is gone, generation is stale, or the slide no longer asks for
// an image with that prompt.
func (s *Store) PatchImage(generation uint64, id, prompt, url string) bool {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		log.Debug().Str("deck", s.id).Str("slide", id).Msg("Discarding image from superseded run")
		return false
	}
	sl, ok := s.slides[id]
	if !ok {
		s.mu.Unlock()
		log.Debug().Str("deck", s.id).Str("slide", id).Msg("Image arrived for missing slide")
		return false
	}
	if !sl.NeedsImage() || sl.ImagePrompt != prompt {
		s.mu.Unlock()
		log.Debug().Str("deck", s.id).Str("slide", id).Msg("Discarding image for a replaced slide payload")
		return false
	}
	sl.ImageURL = url
	s.updatedAt = s.now()
	out := sl.clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventImageReady, DeckID: s.id, Slide: &out})
	return true
}

// Patch applies a direct user edit to the slide with the given ID, leaving
// every field not named in the patch untouched.
func (s *Store) Patch(id string, p SlidePatch) (Slide, error) {
	s.mu.Lock()
	sl, ok := s.slides[id]
	if !ok {
		s.mu.Unlock()
		return Slide{}, ErrSlideNotFound
	}
	p.apply(&sl.SlidePayload)
	s.updatedAt = s.now()
	out := sl.clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventSlideUpdated, DeckID: s.id, Slide: &out})
	return out, nil
}

// Replace swaps every field of the slide except its ID. Used by regeneration.
func (s *Store) Replace(id string, payload SlidePayload) (Slide, error) {
	s.mu.Lock()
	if _, ok := s.slides[id]; !ok {
		s.mu.Unlock()
		return Slide{}, ErrSlideNotFound
	}
	c := Slide{ID: id, SlidePayload: payload}.clone()
	s.slides[id] = &c
	s.updatedAt = s.now()
	out := c.clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventSlideUpdated, DeckID: s.id, Slide: &out})
	return out, nil
}

// Get returns a copy of the slide with the given ID.
func (s *Store) Get(id string) (Slide, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slides[id]
	if !ok {
		return Slide{}, false
	}
	return sl.clone(), true
}

// SetBackground sets the deck-level background image reference.
func (s *Store) SetBackground(url string) {
	s.mu.Lock()
	s.background = url
	s.updatedAt = s.now()
	s.mu.Unlock()
}

// SetTitle renames the deck.
func (s *Store) SetTitle(title string) {
	s.mu.Lock()
	s.title = title
	s.updatedAt = s.now()
	s.mu.Unlock()
}

// Snapshot returns a deep copy of the current deck.
func (s *Store) Snapshot() Deck {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Deck{
		ID:              s.id,
		Title:           s.title,
		Theme:           s.theme,
		BackgroundImage: s.background,
		CreatedAt:       s.createdAt,
		UpdatedAt:       s.updatedAt,
		Slides:          make([]Slide, 0, len(s.order)),
	}
	for _, id := range s.order {
		d.Slides = append(d.Slides, s.slides[id].clone())
	}
	return d
}

// Subscribe returns a channel of deck events and a function that cancels the
// subscription and closes the channel.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers an externally produced event (such as a run status) to subscribers.
func (s *Store) Publish(ev Event) {
	ev.DeckID = s.id
	s.publish(ev)
}

func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("deck", s.id).Int("subscriber", id).Str("event", string(ev.Type)).Msg("Subscriber queue full, dropping event")
		}
	}
}
