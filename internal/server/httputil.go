package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/rs/zerolog/log"
)

// containsPathTraversal returns true if the path contains ".." segments.
// Checked on the raw segments, since filepath.Clean("/tmp/../etc") yields
// "/etc" with no ".." left.
func containsPathTraversal(p string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(p), "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func httpError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, errDeckNotFound), errors.Is(err, deck.ErrSlideNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotResumable), errors.Is(err, pipeline.ErrSuperseded):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrEmptyRequest), generr.IsIngestion(err), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case generr.IsTransient(err):
		return http.StatusTooManyRequests
	case generr.IsGeneration(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var errBadRequest = errors.New("bad request")

// writeError writes err with its status. Server-side failures get a generic
// message; the detail only goes to the log.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		log.Error().Err(err).Msg("Request failed")
		msg = "internal error"
	case generr.IsGeneration(err) || generr.IsTransient(err) || generr.IsIngestion(err):
		log.Warn().Err(err).Msg("Request failed")
		msg = generr.UserMessage(err)
	}
	httpError(w, status, msg)
}
