// Package pipeline orchestrates a deck generation run: outline, then one
// slide at a time in outline order, with illustrations enriched in the
// background. It owns run status, resume after a failed step, single-slide
// regeneration, and the finalize step that hands a resolved snapshot to export.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/images"
	"github.com/fpang/ai-deck-builder/internal/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrEmptyRequest is returned when a request has neither topic nor document.
	ErrEmptyRequest = errors.New("request needs a topic or a document")
	// ErrNotResumable is returned by Resume when the last run did not fail.
	ErrNotResumable = errors.New("no failed run to resume")
	// ErrSuperseded is returned by a run that a newer run replaced.
	ErrSuperseded = errors.New("run superseded by a newer run")
)

// ContentService makes the remote text calls of a run. *chat.Service satisfies it.
type ContentService interface {
	GenerateOutline(ctx context.Context, topic, audience string) ([]deck.OutlineItem, error)
	GenerateSlide(ctx context.Context, item deck.OutlineItem, theme string) (deck.SlidePayload, error)
	RegenerateSlide(ctx context.Context, current deck.Slide, instruction, theme string) (deck.SlidePayload, error)
}

const (
	// DefaultSlidePause precedes every slide request.
	DefaultSlidePause = time.Second
	// DefaultCallTimeout bounds one text call.
	DefaultCallTimeout = 90 * time.Second
)

// Options configures a Builder.
type Options struct {
	Retry retry.Policy
	// SlidePause precedes every slide request. Zero means DefaultSlidePause;
	// a negative value disables the pause.
	SlidePause  time.Duration
	CallTimeout time.Duration
	// Sleep implements the inter-slide pause; nil means retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewID assigns slide identities; nil means uuid.NewString.
	NewID  func() string
	Images images.Options
}

func (o *Options) defaults() {
	if o.Retry.Retries == 0 && o.Retry.InitialDelay == 0 {
		o.Retry = retry.DefaultPolicy()
	}
	switch {
	case o.SlidePause == 0:
		o.SlidePause = DefaultSlidePause
	case o.SlidePause < 0:
		o.SlidePause = 0
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Sleep == nil {
		o.Sleep = retry.Sleep
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Images.Retry.Retries == 0 && o.Images.Retry.InitialDelay == 0 {
		o.Images.Retry = o.Retry
	}
}

// Request starts a run. A non-empty Document selects document mode;
// otherwise Topic is expanded remotely.
type Request struct {
	Topic    string `json:"topic,omitempty"`
	Document string `json:"document,omitempty"`
	Title    string `json:"title,omitempty"`
	Theme    string `json:"theme,omitempty"`
	Audience string `json:"audience,omitempty"`
	// Background is an optional deck background image reference.
	Background string `json:"backgroundImage,omitempty"`
}

func (r Request) documentMode() bool { return r.Document != "" }

func (r Request) validate() error {
	if !r.documentMode() && strings.TrimSpace(r.Topic) == "" {
		return ErrEmptyRequest
	}
	return nil
}

func (r Request) deckTitle() string {
	switch {
	case strings.TrimSpace(r.Title) != "":
		return strings.TrimSpace(r.Title)
	case strings.TrimSpace(r.Topic) != "":
		return strings.TrimSpace(r.Topic)
	default:
		return "Untitled deck"
	}
}

// Builder runs generation against one deck store. A Builder is safe for
// concurrent use; starting a run cancels the run before it.
type Builder struct {
	svc   ContentService
	store *deck.Store
	sched *images.Scheduler
	opts  Options
	base  context.Context

	mu      sync.Mutex
	req     Request
	outline []deck.OutlineItem
	next    int
	gen     uint64
	status  Status
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Builder. base scopes background image tasks and async runs;
// cancelling it stops everything the Builder started.
func New(base context.Context, svc ContentService, img images.Generator, store *deck.Store, opts Options) *Builder {
	opts.defaults()
	b := &Builder{
		svc:   svc,
		store: store,
		opts:  opts,
		base:  base,
		gen:   store.Generation(),
	}
	b.sched = images.NewScheduler(img, store, opts.Images)
	b.status = Status{State: StateIdle, Generation: b.gen, UpdatedAt: time.Now().UTC()}
	return b
}

// Store returns the deck store the Builder writes to.
func (b *Builder) Store() *deck.Store { return b.store }

// Request returns the request of the current run.
func (b *Builder) Request() Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.req
}

// Outline returns a copy of the current run's outline (nil before outlining finishes).
func (b *Builder) Outline() []deck.OutlineItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]deck.OutlineItem(nil), b.outline...)
}

// Run executes a whole generation run and blocks until the slide text is
// complete or a step fails. Illustrations may still be pending on return.
func (b *Builder) Run(ctx context.Context, req Request) error {
	runCtx, gen, done, err := b.begin(ctx, req)
	if err != nil {
		return err
	}
	defer close(done)
	return b.execute(runCtx, gen)
}

// Start begins a run in the background and returns its generation.
func (b *Builder) Start(req Request) (uint64, error) {
	runCtx, gen, done, err := b.begin(b.base, req)
	if err != nil {
		return 0, err
	}
	go func() {
		defer close(done)
		_ = b.execute(runCtx, gen)
	}()
	return gen, nil
}

// Resume continues a failed run from the step that failed, keeping every
// slide already merged and the run's generation.
func (b *Builder) Resume(ctx context.Context) error {
	runCtx, gen, done, err := b.prepareResume(ctx)
	if err != nil {
		return err
	}
	defer close(done)
	return b.execute(runCtx, gen)
}

// StartResume is Resume in the background.
func (b *Builder) StartResume() error {
	runCtx, gen, done, err := b.prepareResume(b.base)
	if err != nil {
		return err
	}
	go func() {
		defer close(done)
		_ = b.execute(runCtx, gen)
	}()
	return nil
}

// Wait blocks until the current run's text loop has returned or ctx is done.
func (b *Builder) Wait(ctx context.Context) error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the current run and abandons its pending illustrations.
func (b *Builder) Cancel() {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Unlock()
	b.sched.Cancel()
}

// Load restores a persisted deck as the current state. Any running
// generation is cancelled.
func (b *Builder) Load(d deck.Deck) {
	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	gen := b.store.Load(d)
	b.gen = gen
	b.req = Request{Title: d.Title, Theme: d.Theme}
	b.outline = nil
	b.next = 0
	b.status = Status{
		State:      StateComplete,
		Generation: gen,
		Completed:  len(d.Slides),
		Total:      len(d.Slides),
		UpdatedAt:  time.Now().UTC(),
	}
	b.mu.Unlock()

	b.sched.Begin(b.base, gen, d.Theme)
}

// begin resets the deck for a new run. This is the user-driven reset point:
// the previous run is cancelled and its generation retired.
func (b *Builder) begin(ctx context.Context, req Request) (context.Context, uint64, chan struct{}, error) {
	if err := req.validate(); err != nil {
		return nil, 0, nil, err
	}

	b.mu.Lock()
	if b.cancel != nil {
		b.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.req = req
	b.outline = nil
	b.next = 0
	gen := b.store.Reset(req.deckTitle(), req.Theme)
	if req.Background != "" {
		b.store.SetBackground(req.Background)
	}
	b.gen = gen
	done := make(chan struct{})
	b.done = done
	b.setStatusLocked(Status{State: StateOutlining})
	b.mu.Unlock()

	b.sched.Begin(b.base, gen, req.Theme)
	b.publishStatus()

	mode := "topic"
	if req.documentMode() {
		mode = "document"
	}
	log.Info().
		Str("deck", b.store.ID()).
		Uint64("generation", gen).
		Str("mode", mode).
		Str("title", req.deckTitle()).
		Msg("Generation run started")
	return runCtx, gen, done, nil
}

func (b *Builder) prepareResume(ctx context.Context) (context.Context, uint64, chan struct{}, error) {
	b.mu.Lock()
	if b.status.State != StateFailed {
		b.mu.Unlock()
		return nil, 0, nil, ErrNotResumable
	}
	if b.cancel != nil {
		b.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	done := make(chan struct{})
	b.done = done
	gen, from := b.gen, b.next

	state := StateGenerating
	if b.outline == nil {
		state = StateOutlining
	}
	b.setStatusLocked(Status{State: state, Completed: from, Total: len(b.outline)})
	b.mu.Unlock()

	b.publishStatus()
	log.Info().
		Str("deck", b.store.ID()).
		Uint64("generation", gen).
		Int("from", from).
		Msg("Resuming generation run")
	return runCtx, gen, done, nil
}

// current reports whether gen is still the Builder's run.
func (b *Builder) current(gen uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen == gen
}
