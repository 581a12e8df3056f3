package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/fpang/ai-deck-builder/internal/deck"
	"github.com/fpang/ai-deck-builder/internal/generr"
	"github.com/fpang/ai-deck-builder/internal/ingest"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/fpang/ai-deck-builder/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// deckRequest is the body of POST /api/decks and POST .../generate.
// Exactly one of Topic, Document and Source is normally set; Document is
// inline text and Source an s3:// URI or (locally) a file path.
type deckRequest struct {
	Topic           string `json:"topic"`
	Document        string `json:"document"`
	Source          string `json:"source"`
	Title           string `json:"title"`
	Theme           string `json:"theme"`
	Audience        string `json:"audience"`
	BackgroundImage string `json:"backgroundImage"`
	Sync            bool   `json:"sync"`
}

// deckResponse is a deck snapshot with the status of its run.
type deckResponse struct {
	ID     string          `json:"id"`
	Deck   deck.Deck       `json:"deck"`
	Status pipeline.Status `json:"status"`
}

func (s *Server) snapshot(sess *session) deckResponse {
	return deckResponse{ID: sess.id, Deck: sess.builder.Store().Snapshot(), Status: sess.builder.Status()}
}

// decodeDeckRequest reads a JSON or multipart body. A multipart "file" part
// becomes the source document.
func (s *Server) decodeDeckRequest(w http.ResponseWriter, r *http.Request) (deckRequest, *ingest.Document, error) {
	var req deckRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if ct == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return req, nil, fmt.Errorf("%w: invalid multipart body: %w", errBadRequest, err)
		}
		req.Topic = r.FormValue("topic")
		req.Document = r.FormValue("document")
		req.Source = r.FormValue("source")
		req.Title = r.FormValue("title")
		req.Theme = r.FormValue("theme")
		req.Audience = r.FormValue("audience")
		req.BackgroundImage = r.FormValue("backgroundImage")
		req.Sync, _ = strconv.ParseBool(r.FormValue("sync"))

		file, header, err := r.FormFile("file")
		switch {
		case errors.Is(err, http.ErrMissingFile):
		case err != nil:
			return req, nil, fmt.Errorf("%w: read upload: %w", errBadRequest, err)
		default:
			defer file.Close()
			doc, err := ingest.Read(header.Filename, file)
			if err != nil {
				return req, nil, err
			}
			return req, &doc, nil
		}
	} else if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return req, nil, fmt.Errorf("%w: invalid JSON: %w", errBadRequest, err)
		}
	}

	doc, err := s.resolveDocument(r.Context(), req)
	return req, doc, err
}

func (s *Server) resolveDocument(ctx context.Context, req deckRequest) (*ingest.Document, error) {
	switch {
	case strings.TrimSpace(req.Document) != "":
		doc, err := ingest.FromText(req.Title, req.Document)
		return &doc, err
	case req.Source == "":
		return nil, nil
	case strings.HasPrefix(req.Source, "s3://"):
		if s.opts.Documents == nil {
			return nil, generr.Ingestion("ingest", errors.New("S3 document sources are not configured"))
		}
		doc, err := ingest.LoadS3(ctx, s.opts.Documents, req.Source)
		return &doc, err
	case s.opts.AllowLocalFiles && !containsPathTraversal(req.Source):
		doc, err := ingest.LoadFile(req.Source)
		return &doc, err
	default:
		return nil, generr.Ingestion("ingest", fmt.Errorf("source %q is not allowed", req.Source))
	}
}

func (s *Server) pipelineRequest(req deckRequest, doc *ingest.Document) pipeline.Request {
	out := pipeline.Request{
		Topic:      strings.TrimSpace(req.Topic),
		Title:      strings.TrimSpace(req.Title),
		Theme:      strings.TrimSpace(req.Theme),
		Audience:   strings.TrimSpace(req.Audience),
		Background: req.BackgroundImage,
	}
	if out.Theme == "" {
		out.Theme = s.opts.DefaultTheme
	}
	if doc != nil {
		out.Document = doc.Text
		if out.Title == "" {
			out.Title = doc.Title
		}
	}
	return out
}

// handleCreateDeck handles POST /api/decks.
func (s *Server) handleCreateDeck(w http.ResponseWriter, r *http.Request) {
	req, doc, err := s.decodeDeckRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	preq := s.pipelineRequest(req, doc)
	if preq.Topic == "" && preq.Document == "" {
		writeError(w, pipeline.ErrEmptyRequest)
		return
	}

	id := s.opts.NewDeckID()
	sess := s.newSession(id)
	s.startRun(w, r, sess, preq, req.Sync)
}

// handleGenerate handles POST /api/decks/{id}/generate: a new run over an
// existing deck, replacing its slides.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	req, doc, err := s.decodeDeckRequest(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	preq := s.pipelineRequest(req, doc)
	if preq.Topic == "" && preq.Document == "" {
		// Regenerate from the deck's previous request.
		prev := sess.builder.Request()
		if prev.Topic == "" && prev.Document == "" {
			writeError(w, pipeline.ErrEmptyRequest)
			return
		}
		preq = prev
	}
	s.startRun(w, r, sess, preq, req.Sync)
}

// startRun runs preq on sess, in the request when sync, else in the
// background with an immediate 202.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, sess *session, preq pipeline.Request, sync bool) {
	if sync || s.opts.Sync {
		err := sess.builder.Run(r.Context(), preq)
		s.finishSync(w, r, sess, err)
		return
	}
	gen, err := sess.builder.Start(preq)
	if err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("deckId", sess.id).Uint64("generation", gen).Msg("Deck generation started")
	// Saved right away so the deck is listed while it generates.
	_ = s.persist(r.Context(), sess)
	respondJSON(w, http.StatusAccepted, s.snapshot(sess))
}

// finishSync waits for illustrations, persists, and writes the deck.
func (s *Server) finishSync(w http.ResponseWriter, r *http.Request, sess *session, runErr error) {
	if errors.Is(runErr, pipeline.ErrEmptyRequest) {
		writeError(w, runErr)
		return
	}
	sess.builder.Finalize(r.Context(), s.opts.FinalizeWait)
	if err := s.persist(r.Context(), sess); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to save deck")
		return
	}
	resp := s.snapshot(sess)
	if runErr != nil {
		respondJSON(w, statusFor(runErr), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleResume handles POST /api/decks/{id}/resume.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sync, _ := strconv.ParseBool(r.URL.Query().Get("sync"))
	if sync || s.opts.Sync {
		err := sess.builder.Resume(r.Context())
		if errors.Is(err, pipeline.ErrNotResumable) {
			writeError(w, err)
			return
		}
		s.finishSync(w, r, sess, err)
		return
	}
	if err := sess.builder.StartResume(); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.snapshot(sess))
}

// handleListDecks handles GET /api/decks.
func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Store.ListDecks(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list decks")
		httpError(w, http.StatusInternalServerError, "failed to list decks")
		return
	}
	if list == nil {
		list = []store.DeckSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"decks": list})
}

// handleGetDeck handles GET /api/decks/{id}.
func (s *Server) handleGetDeck(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, s.snapshot(sess))
}

// handleDeleteDeck handles DELETE /api/decks/{id}.
func (s *Server) handleDeleteDeck(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.dropSession(id)
	if err := s.opts.Store.DeleteDeck(r.Context(), id); err != nil {
		log.Error().Err(err).Str("deckId", id).Msg("Failed to delete deck")
		httpError(w, http.StatusInternalServerError, "failed to delete deck")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookup resolves the {id} route variable, writing 404 when absent.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, err := s.session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}
