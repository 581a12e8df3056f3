package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/layout"
	"github.com/fpang/ai-deck-builder/internal/metrics"
	"github.com/fpang/ai-deck-builder/internal/outline"
	"github.com/fpang/ai-deck-builder/internal/retry"
	"github.com/rs/zerolog/log"
)

// execute drives the outline and slide steps of run gen and records the
// outcome in the run status.
func (b *Builder) execute(ctx context.Context, gen uint64) error {
	start := time.Now()
	err := b.steps(ctx, gen)

	if !b.current(gen) || errors.Is(err, ErrSuperseded) {
		log.Debug().Uint64("generation", gen).Msg("Run superseded")
		return ErrSuperseded
	}
	if err != nil && ctx.Err() != nil {
		err = generr.Canceled(ctx.Err())
	}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		b.setStatusLocked(Status{
			State:     StateFailed,
			Error:     generr.UserMessage(err),
			Completed: b.next,
			Total:     len(b.outline),
		})
	} else {
		b.setStatusLocked(Status{State: StateComplete, Completed: b.next, Total: len(b.outline)})
	}
	completed := b.next
	b.mu.Unlock()
	b.publishStatus()

	if err != nil {
		log.Error().Err(err).
			Str("deck", b.store.ID()).
			Uint64("generation", gen).
			Int("completed", completed).
			Msg("Generation run failed")
		return err
	}
	log.Info().
		Str("deck", b.store.ID()).
		Uint64("generation", gen).
		Int("slides", completed).
		Dur("duration", time.Since(start)).
		Msg("Generation run complete")
	metrics.New(metrics.Namespace).
		Dimension("Step", "run").
		Duration("RunLatencyMs", time.Since(start)).
		Metric("SlidesGenerated", float64(completed), "Count").
		Flush()
	return nil
}

func (b *Builder) steps(ctx context.Context, gen uint64) error {
	b.mu.Lock()
	req := b.req
	items := b.outline
	next := b.next
	b.mu.Unlock()

	if items == nil {
		var err error
		items, err = b.buildOutline(ctx, req)
		if err != nil {
			return err
		}
		b.mu.Lock()
		if b.gen != gen {
			b.mu.Unlock()
			return ErrSuperseded
		}
		b.outline = items
		b.next = 0
		next = 0
		b.setStatusLocked(Status{State: StateGenerating, Total: len(items)})
		b.mu.Unlock()
		b.publishStatus()
		log.Info().Str("deck", b.store.ID()).Int("items", len(items)).Msg("Outline ready")
	}

	for i := next; i < len(items); i++ {
		if err := b.opts.Sleep(ctx, b.opts.SlidePause); err != nil {
			return err
		}
		if err := b.generateSlide(ctx, gen, items[i], req.Theme); err != nil {
			return err
		}

		b.mu.Lock()
		if b.gen != gen {
			b.mu.Unlock()
			return ErrSuperseded
		}
		b.next = i + 1
		b.setStatusLocked(Status{State: StateGenerating, Completed: i + 1, Total: len(items)})
		b.mu.Unlock()
		b.publishStatus()
	}
	return nil
}

func (b *Builder) buildOutline(ctx context.Context, req Request) ([]deck.OutlineItem, error) {
	if req.documentMode() {
		return outline.FromDocument(req.Document, req.Title)
	}
	items, err := call(ctx, b, "outline", func(ctx context.Context) ([]deck.OutlineItem, error) {
		return b.svc.GenerateOutline(ctx, req.Topic, req.Audience)
	})
	if err != nil {
		return nil, err
	}
	return outline.ClampTopic(req.Topic, items)
}

func (b *Builder) generateSlide(ctx context.Context, gen uint64, item deck.OutlineItem, theme string) error {
	payload, err := call(ctx, b, "slide", func(ctx context.Context) (deck.SlidePayload, error) {
		return b.svc.GenerateSlide(ctx, item, theme)
	})
	if err != nil {
		return err
	}
	payload = layout.Enforce(item.Description, payload)
	payload.ImageURL = ""

	slide := deck.Slide{ID: b.opts.NewID(), SlidePayload: payload}
	if _, err := b.store.Append(gen, slide); err != nil {
		if errors.Is(err, deck.ErrStaleGeneration) {
			return ErrSuperseded
		}
		return err
	}
	log.Debug().
		Str("slide", slide.ID).
		Str("layout", string(payload.Layout)).
		Str("title", payload.Title).
		Msg("Slide added")
	if payload.NeedsImage() {
		b.sched.Submit(slide.ID, payload.ImagePrompt)
	}
	return nil
}

// Regenerate replaces the slide's payload with a fresh one from the model,
// keeping its ID. On any failure the slide is left untouched.
func (b *Builder) Regenerate(ctx context.Context, slideID, instruction string) (deck.Slide, error) {
	current, ok := b.store.Get(slideID)
	if !ok {
		return deck.Slide{}, deck.ErrSlideNotFound
	}
	theme := b.Request().Theme

	payload, err := call(ctx, b, "regenerate", func(ctx context.Context) (deck.SlidePayload, error) {
		return b.svc.RegenerateSlide(ctx, current, instruction, theme)
	})
	if err != nil {
		log.Warn().Err(err).Str("slide", slideID).Msg("Regeneration failed, slide unchanged")
		return deck.Slide{}, err
	}
	payload = layout.Enforce("", payload)

	reuse := payload.NeedsImage() && payload.ImagePrompt == current.ImagePrompt && current.ImageURL != ""
	if reuse {
		payload.ImageURL = current.ImageURL
	} else {
		payload.ImageURL = ""
	}

	updated, err := b.store.Replace(slideID, payload)
	if err != nil {
		return deck.Slide{}, err
	}
	if payload.NeedsImage() && !reuse {
		b.sched.Submit(slideID, payload.ImagePrompt)
	}
	log.Info().
		Str("slide", slideID).
		Str("layout", string(updated.Layout)).
		Msg("Slide regenerated")
	return updated, nil
}

// Finalize waits up to maxWait for the current run's text loop and then for
// outstanding illustrations, and returns the deck snapshot handed to export.
// Slides whose image is still missing keep their placeholder.
func (b *Builder) Finalize(ctx context.Context, maxWait time.Duration) deck.Deck {
	if maxWait > 0 {
		wctx, cancel := context.WithTimeout(ctx, maxWait)
		err := b.Wait(wctx)
		if err == nil {
			err = b.sched.Wait(wctx)
		}
		cancel()
		if err != nil {
			log.Warn().
				Int("pending", b.sched.Pending()).
				Str("state", string(b.Status().State)).
				Dur("maxWait", maxWait).
				Msg("Finalizing before the run settled")
		}
	}
	return b.store.Snapshot()
}

// call runs one remote step with retries and a per-attempt timeout. An
// exhausted rate limit surfaces as a generation failure that still reports
// as transient.
func call[T any](ctx context.Context, b *Builder, op string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	attempts := 0
	v, err := retry.Do(ctx, b.opts.Retry.WithName(op), func(ctx context.Context) (T, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, b.opts.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})

	m := metrics.New(metrics.Namespace).
		Dimension("Step", op).
		Duration("StepLatencyMs", time.Since(start)).
		Metric("Attempts", float64(attempts), "Count")
	if err == nil {
		m.Dimension("Result", "success").Flush()
		return v, nil
	}
	m.Dimension("Result", "failure").Flush()

	switch {
	case ctx.Err() != nil:
		return v, generr.Canceled(err)
	case generr.IsTransient(err):
		return v, generr.Generation(op, "rate limit persisted after retries", err)
	case generr.IsGeneration(err):
		return v, err
	default:
		return v, generr.Generation(op, "remote call failed", err)
	}
}
