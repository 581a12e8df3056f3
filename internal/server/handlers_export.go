package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fpang/ai-deck-builder/internal/export"
	"github.com/rs/zerolog/log"
)

// handleExport handles GET /api/decks/{id}/export?format=markdown|bundle|link&wait=30s.
// wait bounds how long outstanding illustrations are awaited; slides still
// missing one export with a placeholder.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var wait time.Duration
	if v := q.Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			httpError(w, http.StatusBadRequest, "wait must be a duration such as 30s")
			return
		}
		wait = min(d, maxExportWait)
	}
	d := sess.builder.Finalize(r.Context(), wait)

	switch format := q.Get("format"); format {
	case "", "markdown":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Write([]byte(export.Markdown(d)))

	case "bundle":
		var buf bytes.Buffer
		stats, err := export.WriteBundle(&buf, d)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.zip"`, d.ID))
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.Write(buf.Bytes())
		log.Info().Str("deckId", d.ID).Int("slides", stats.Slides).Int("images", stats.Images).Msg("Bundle exported")

	case "link":
		if s.opts.Uploader == nil {
			httpError(w, http.StatusNotImplemented, "bundle publishing is not configured")
			return
		}
		pub, err := s.opts.Uploader.PublishBundle(r.Context(), d)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, pub)

	default:
		httpError(w, http.StatusBadRequest, fmt.Sprintf("unknown format %q (want markdown, bundle or link)", format))
	}
}
