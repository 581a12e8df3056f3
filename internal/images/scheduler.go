// Package images enriches illustrated slides in the background.
//
// Each eligible slide gets a stagger slot at submission time. Slot k of a run
// fires no earlier than Stagger after slot k-1, so a burst of submissions is
// spread over time instead of hitting the image model at once. Every request
// goes through the retry wrapper with its own timeout, and the result is
// merged into the deck by slide ID. Failures are isolated to their slide.
package images

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/metrics"
	"github.com/fpang/ai-deck-builder/internal/retry"
	"github.com/rs/zerolog/log"
)

// Generator produces image bytes and a MIME type for a prompt.
type Generator interface {
	GenerateImage(ctx context.Context, prompt, theme string) ([]byte, string, error)
}

// Merger applies a finished image to the slide with the given ID, reporting
// whether it landed. prompt is the one the task was submitted with, so an
// image for a payload that has since been replaced is dropped. *deck.Store
// satisfies it.
type Merger interface {
	PatchImage(generation uint64, id, prompt, url string) bool
}

const (
	// DefaultStagger separates consecutive image requests.
	DefaultStagger = 3 * time.Second
	// DefaultCallTimeout bounds one image call.
	DefaultCallTimeout = 120 * time.Second
)

// Options configures a Scheduler.
type Options struct {
	Stagger     time.Duration
	CallTimeout time.Duration
	Retry       retry.Policy
	// After waits d; nil means time.After. Tests inject a fake clock.
	After func(d time.Duration) <-chan time.Time
	// Now reads the clock; nil means time.Now.
	Now func() time.Time
	// Encode turns image bytes into the reference stored on the slide.
	// Nil means deck.EncodeDataURI.
	Encode func(ctx context.Context, slideID, mimeType string, data []byte) (string, error)
}

// Scheduler runs staggered image tasks for one deck.
type Scheduler struct {
	gen   Generator
	merge Merger
	opts  Options

	mu  sync.Mutex
	run *run
}

// run is the scope of one generation run. Cancelling it abandons every task
// started under it.
type run struct {
	ctx        context.Context
	cancel     context.CancelFunc
	generation uint64
	theme      string

	// slot, lastFire, active and idle are guarded by Scheduler.mu. idle is
	// closed when active drops to zero and replaced when a task starts.
	slot     int
	lastFire time.Time
	active   int
	idle     chan struct{}
	failed   atomic.Int64
}

// NewScheduler creates a scheduler. A zero CallTimeout or Retry takes the
// default; a zero Stagger disables staggering.
func NewScheduler(gen Generator, merge Merger, opts Options) *Scheduler {
	if opts.Stagger < 0 {
		opts.Stagger = 0
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Retry.Retries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	opts.Retry = opts.Retry.WithName("image")
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Encode == nil {
		opts.Encode = func(_ context.Context, _, mimeType string, data []byte) (string, error) {
			return deck.EncodeDataURI(mimeType, data), nil
		}
	}
	return &Scheduler{gen: gen, merge: merge, opts: opts}
}

// Begin opens a new run scope for generation and cancels the previous one.
// Tasks of the previous run abandon their wait or remote call; any result that
// still lands is rejected by the merger's generation check.
func (s *Scheduler) Begin(ctx context.Context, generation uint64, theme string) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	prev := s.run
	s.run = &run{ctx: runCtx, cancel: cancel, generation: generation, theme: theme}
	var abandoned int
	if prev != nil {
		abandoned = prev.active
	}
	s.mu.Unlock()

	if prev != nil {
		if abandoned > 0 {
			log.Info().Uint64("generation", prev.generation).Int("pending", abandoned).Msg("Abandoning image tasks from previous run")
		}
		prev.cancel()
	}
}

// Submit schedules an image for slideID and returns its stagger slot, or -1
// if no run is open.
func (s *Scheduler) Submit(slideID, prompt string) int {
	s.mu.Lock()
	r := s.run
	if r == nil || r.ctx.Err() != nil {
		s.mu.Unlock()
		log.Warn().Str("slide", slideID).Msg("Image submitted with no open run")
		return -1
	}
	slot := r.slot
	r.slot++
	now := s.opts.Now()
	fireAt := now
	if slot > 0 {
		if next := r.lastFire.Add(s.opts.Stagger); next.After(now) {
			fireAt = next
		}
	}
	r.lastFire = fireAt
	if r.active == 0 {
		r.idle = make(chan struct{})
	}
	r.active++
	s.mu.Unlock()

	delay := fireAt.Sub(now)
	log.Debug().Str("slide", slideID).Int("slot", slot).Dur("delay", delay).Msg("Image task scheduled")
	go s.task(r, slot, delay, slideID, prompt)
	return slot
}

func (s *Scheduler) task(r *run, slot int, delay time.Duration, slideID, prompt string) {
	defer s.finish(r)

	if delay > 0 {
		select {
		case <-r.ctx.Done():
			log.Debug().Str("slide", slideID).Int("slot", slot).Msg("Image task cancelled before start")
			return
		case <-s.opts.After(delay):
		}
	}

	start := time.Now()
	type image struct {
		data     []byte
		mimeType string
	}
	img, err := retry.Do(r.ctx, s.opts.Retry, func(ctx context.Context) (image, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
		data, mimeType, err := s.gen.GenerateImage(callCtx, prompt, r.theme)
		return image{data, mimeType}, err
	})
	if err == nil {
		var url string
		url, err = s.opts.Encode(r.ctx, slideID, img.mimeType, img.data)
		if err == nil {
			merged := s.merge.PatchImage(r.generation, slideID, prompt, url)
			log.Debug().
				Str("slide", slideID).
				Bool("merged", merged).
				Dur("duration", time.Since(start)).
				Msg("Image task finished")
			metrics.New(metrics.Namespace).
				Dimension("Step", "image").
				Dimension("Result", "success").
				Duration("StepLatencyMs", time.Since(start)).
				Count("ImagesGenerated").
				Flush()
			return
		}
	}

	if r.ctx.Err() != nil {
		log.Debug().Str("slide", slideID).Msg("Image task abandoned")
		return
	}
	r.failed.Add(1)
	log.Warn().
		Err(generr.Image("image", err)).
		Str("slide", slideID).
		Int("slot", slot).
		Msg("Image generation failed, slide keeps its placeholder")
	metrics.New(metrics.Namespace).
		Dimension("Step", "image").
		Dimension("Result", "failure").
		Count("ImageFailures").
		Flush()
}

// finish marks one task of r as done.
func (s *Scheduler) finish(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.active--
	if r.active == 0 {
		close(r.idle)
		r.idle = nil
	}
}

// Wait blocks until every task of the current run has finished or ctx is
// done. Tasks submitted while it waits are waited for too.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	return s.waitRun(ctx, r)
}

func (s *Scheduler) waitRun(ctx context.Context, r *run) error {
	for {
		s.mu.Lock()
		idle := r.idle
		s.mu.Unlock()
		if idle == nil {
			return nil
		}
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cancel abandons the current run's tasks.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// Pending reports unfinished tasks in the current run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return 0
	}
	return s.run.active
}

// Failed reports image failures in the current run.
func (s *Scheduler) Failed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return 0
	}
	return int(s.run.failed.Load())
}
