// Package daemon exposes the engine to the browser extension and the CLI
// over local HTTP.
package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/runnerr0/dwell/internal/engine"
	"github.com/runnerr0/dwell/internal/tracker"
)

// DefaultMaxRequestSize caps request bodies when the config leaves it unset.
const DefaultMaxRequestSize = 1 << 20

// Handler is the part of the engine the HTTP layer drives.
type Handler interface {
	Submit(ctx context.Context, sig engine.Signal) error
	Handle(ctx context.Context, req engine.Request) engine.Response
}

// Server routes HTTP requests to the engine.
type Server struct {
	handler Handler
	stream  *Broadcaster
	log     zerolog.Logger
	maxBody int64
	router  chi.Router
}

// NewServer builds the router. stream may be nil, in which case the badge
// stream endpoint is not mounted.
func NewServer(h Handler, stream *Broadcaster, maxBody int64, log zerolog.Logger) *Server {
	if maxBody <= 0 {
		maxBody = DefaultMaxRequestSize
	}
	s := &Server{handler: h, stream: stream, log: log, maxBody: maxBody}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.limitBody)
			r.Post("/signals", s.handleSignal)
			r.Put("/tabs", s.handleTabs)
			r.Post("/control", s.handleControl)
		})
		if s.stream != nil {
			r.Get("/badge/stream", s.stream.ServeHTTP)
		}
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string, err error) {
	s.writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// readBody reads the request body, reporting 413 when it is too large.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "too_large", err)
		} else {
			s.writeError(w, http.StatusBadRequest, "bad_request", err)
		}
		return nil, false
	}
	return body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	sig, err := decodeSignal(body)
	if err != nil {
		code := "bad_request"
		if errors.Is(err, engine.ErrUnsupported) {
			code = engine.CodeUnsupported
		}
		s.writeError(w, http.StatusBadRequest, code, err)
		return
	}
	s.submit(w, r, sig)
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var snap tracker.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	s.submit(w, r, engine.TabSnapshot{Snapshot: snap})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, sig engine.Signal) {
	err := s.handler.Submit(r.Context(), sig)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, engine.ErrStopped):
		s.writeError(w, http.StatusServiceUnavailable, engine.CodeStopped, err)
	case errors.Is(err, tracker.ErrCommit):
		s.writeError(w, http.StatusInternalServerError, engine.CodeTracking, err)
	default:
		s.writeError(w, http.StatusInternalServerError, engine.CodeStorage, err)
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var req engine.Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	resp := s.handler.Handle(r.Context(), req)
	s.writeJSON(w, controlStatus(resp.Code), resp)
}

func controlStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case engine.CodeUnsupported:
		return http.StatusBadRequest
	case engine.CodeStopped:
		return http.StatusServiceUnavailable
	case engine.CodeTracking:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
