package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

type regenerateRequest struct {
	Instruction string `json:"instruction"`
}

// handleRegenerate handles POST /api/decks/{id}/slides/{slideId}/regenerate.
// The slide keeps its ID and position; on failure it is left as it was.
func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req regenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, fmt.Errorf("%w: invalid JSON: %w", errBadRequest, err))
		return
	}
	instruction := strings.TrimSpace(req.Instruction)
	if instruction == "" {
		instruction = "Improve this slide."
	}

	slideID := mux.Vars(r)["slideId"]
	slide, err := sess.builder.Regenerate(r.Context(), slideID, instruction)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.opts.Sync && slide.NeedsImage() && slide.ImageURL == "" {
		sess.builder.Finalize(r.Context(), s.opts.FinalizeWait)
		if latest, ok := sess.builder.Store().Get(slideID); ok {
			slide = latest
		}
	}
	if err := s.persist(r.Context(), sess); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save deck")
		return
	}
	respondJSON(w, http.StatusOK, slide)
}

// handlePatchSlide handles PATCH /api/decks/{id}/slides/{slideId}: a user
// edit of named fields. Fields absent from the body are untouched.
func (s *Server) handlePatchSlide(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var patch deck.SlidePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON: %w", errBadRequest, err))
		return
	}
	if patch.Empty() {
		writeError(w, fmt.Errorf("%w: patch names no fields", errBadRequest))
		return
	}

	slide, err := sess.builder.Store().Patch(mux.Vars(r)["slideId"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.persist(r.Context(), sess); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save deck")
		return
	}
	log.Debug().Str("deckId", sess.id).Str("slide", slide.ID).Msg("Slide edited")
	respondJSON(w, http.StatusOK, slide)
}
