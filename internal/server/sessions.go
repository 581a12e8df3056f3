package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/rs/zerolog/log"
)

var errDeckNotFound = errors.New("deck not found")

// persistTimeout bounds one background save.
const persistTimeout = 30 * time.Second

// session is one deck held in memory with its Builder. A background
// persister saves the deck when a run settles and when illustrations land.
type session struct {
	id      string
	builder *pipeline.Builder
	cancel  context.CancelFunc

	// persistMu orders saves so an older snapshot never lands last.
	persistMu sync.Mutex
}

func (s *session) close() {
	s.builder.Cancel()
	s.cancel()
}

// newSession registers an empty deck under id.
func (s *Server) newSession(id string) *session {
	ctx, cancel := context.WithCancel(s.base)
	b := pipeline.New(ctx, s.opts.Service, s.opts.Images, deck.NewStore(id), s.opts.Pipeline)
	sess := &session{id: id, builder: b, cancel: cancel}

	s.mu.Lock()
	if old, ok := s.sessions[id]; ok {
		old.close()
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	if !s.opts.Sync {
		events, unsubscribe := b.Store().Subscribe()
		go s.persistLoop(ctx, sess, events, unsubscribe)
	}
	return sess
}

// session returns the in-memory deck, loading it from the store when this
// process has not seen it yet.
func (s *Server) session(ctx context.Context, id string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	d, err := s.opts.Store.GetDeck(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load deck %s: %w", id, err)
	}
	if d == nil {
		return nil, errDeckNotFound
	}

	s.mu.Lock()
	if sess, ok := s.sessions[id]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	sess = s.newSession(id)
	sess.builder.Load(*d)
	log.Debug().Str("deckId", id).Int("slides", len(d.Slides)).Msg("Deck loaded from store")
	return sess, nil
}

func (s *Server) dropSession(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
}

// persist saves the current snapshot of sess.
func (s *Server) persist(ctx context.Context, sess *session) error {
	sess.persistMu.Lock()
	defer sess.persistMu.Unlock()
	d := sess.builder.Store().Snapshot()
	if err := s.opts.Store.PutDeck(ctx, d); err != nil {
		log.Error().Err(err).Str("deckId", sess.id).Msg("Failed to persist deck")
		return err
	}
	return nil
}

// persistLoop saves the deck whenever a run completes or fails and whenever
// an illustration lands.
func (s *Server) persistLoop(ctx context.Context, sess *session, events <-chan deck.Event, unsubscribe func()) {
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !shouldPersist(ev) {
				continue
			}
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			_ = s.persist(pctx, sess)
			cancel()
		}
	}
}

func shouldPersist(ev deck.Event) bool {
	switch ev.Type {
	case deck.EventImageReady:
		return true
	case deck.EventStatus:
		st, ok := ev.Status.(pipeline.Status)
		return ok && (st.State == pipeline.StateComplete || st.State == pipeline.StateFailed)
	}
	return false
}
