// Package server exposes deck generation over HTTP: create and list decks,
// start, resume and regenerate, apply slide edits, export, and stream
// progressive updates over a websocket. The same handler serves the local
// web binary and the Lambda function.
package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fpang/ai-deck-builder/internal/export"
	"github.com/fpang/ai-deck-builder/internal/images"
	"github.com/fpang/ai-deck-builder/internal/jobs"
	"github.com/fpang/ai-deck-builder/internal/pipeline"
	"github.com/fpang/ai-deck-builder/internal/s3util"
	"github.com/fpang/ai-deck-builder/internal/store"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultFinalizeWait bounds how long sync runs wait for illustrations.
	DefaultFinalizeWait = 2 * time.Minute
	// maxExportWait caps the export wait parameter.
	maxExportWait = 5 * time.Minute
	// maxUploadBytes bounds multipart document uploads.
	maxUploadBytes = 4 << 20
)

// Options configures a Server.
type Options struct {
	Service  pipeline.ContentService
	Images   images.Generator
	Pipeline pipeline.Options
	Store    store.DeckStore

	// Documents reads s3:// document sources; nil disables them.
	Documents s3util.Getter
	// AllowLocalFiles lets requests name documents on the server's disk.
	AllowLocalFiles bool
	// Uploader publishes bundles for format=link exports; nil disables it.
	Uploader *export.Uploader

	// Sync runs generation inside the request. Lambda sets it because
	// nothing may run after the response is returned.
	Sync         bool
	FinalizeWait time.Duration
	DefaultTheme string
	// AllowedOrigins adds CORS origins beyond localhost.
	AllowedOrigins []string

	NewDeckID func() string
}

// Server holds one Builder per active deck.
type Server struct {
	opts Options
	base context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Server. Cancelling base stops every run it started.
func New(base context.Context, opts Options) *Server {
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.FinalizeWait <= 0 {
		opts.FinalizeWait = DefaultFinalizeWait
	}
	if opts.NewDeckID == nil {
		opts.NewDeckID = jobs.NewDeckID
	}
	return &Server{
		opts:     opts,
		base:     base,
		sessions: make(map[string]*session),
	}
}

// Handler returns the routed API wrapped with logging and CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/decks", s.handleCreateDeck).Methods(http.MethodPost)
	api.HandleFunc("/decks", s.handleListDecks).Methods(http.MethodGet)

	d := api.PathPrefix("/decks/{id}").Subrouter()
	d.Use(s.requireValidID)
	d.HandleFunc("", s.handleGetDeck).Methods(http.MethodGet)
	d.HandleFunc("", s.handleDeleteDeck).Methods(http.MethodDelete)
	d.HandleFunc("/generate", s.handleGenerate).Methods(http.MethodPost)
	d.HandleFunc("/resume", s.handleResume).Methods(http.MethodPost)
	d.HandleFunc("/slides/{slideId}/regenerate", s.handleRegenerate).Methods(http.MethodPost)
	d.HandleFunc("/slides/{slideId}", s.handlePatchSlide).Methods(http.MethodPatch)
	d.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	d.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return withLogging(s.withCORS(r))
}

// Close cancels every active run.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		sess.close()
		delete(s.sessions, id)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	active := len(s.sessions)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "activeDecks": active})
}

func (s *Server) requireValidID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !jobs.ValidID(mux.Vars(r)["id"]) {
			httpError(w, http.StatusBadRequest, "invalid deck id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Middleware ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		if strings.HasSuffix(r.URL.Path, "/events") {
			// The upgrader needs the raw writer's Hijacker.
			next.ServeHTTP(w, r)
		} else {
			next.ServeHTTP(rec, r)
		}
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("API request")
	})
}

func (s *Server) allowedOrigin(origin string) bool {
	if strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:") {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
