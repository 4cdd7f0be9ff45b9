package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cartridge/delayenv/internal/env"
	"github.com/cartridge/delayenv/internal/metrics"
	"github.com/cartridge/delayenv/internal/middleware"
	"github.com/cartridge/delayenv/internal/service"
	"github.com/cartridge/delayenv/internal/snapshot"
	"github.com/cartridge/delayenv/internal/types"
)

const (
	maxRequestBody = 32 * 1024
	maxStateBody   = 4 << 20
)

// Server wires HTTP handlers to the session manager.
type Server struct {
	sessions *service.Manager
	metrics  *metrics.Collector
	logger   *zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer constructs a Server instance. collector may be nil.
func NewServer(sessions *service.Manager, collector *metrics.Collector, logger *zerolog.Logger) *Server {
	return &Server{
		sessions: sessions,
		metrics:  collector,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes builds the HTTP router for the session server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(*s.logger))
	r.Use(chimw.Recoverer)
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()})
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/envs", s.handleListEnvs)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Delete("/sessions/{sessionID}", s.handleCloseSession)
		r.Post("/sessions/{sessionID}/reset", s.handleReset)
		r.Post("/sessions/{sessionID}/step", s.handleStep)
		r.Get("/sessions/{sessionID}/state", s.handleGetState)
		r.Put("/sessions/{sessionID}/state", s.handlePutState)
		r.Get("/sessions/{sessionID}/stream", s.handleStream)
	})
	return r
}

func (s *Server) handleListEnvs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"envs": env.IDs()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.requireJSON(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	var payload types.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session payload")
		return
	}
	session, err := s.sessions.Create(r.Context(), payload)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]types.Session{"sessions": s.sessions.List(r.Context())})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), chi.URLParam(r, middleware.SessionParam))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), chi.URLParam(r, middleware.SessionParam), "client"); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	obs, err := s.sessions.Reset(r.Context(), chi.URLParam(r, middleware.SessionParam))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, types.ResetResponse{Observation: obs, Flat: obs.Flatten()})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if !s.requireJSON(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	var payload types.StepRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid step payload")
		return
	}
	resp, err := s.step(r, chi.URLParam(r, middleware.SessionParam), payload.Action)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	rec, err := s.sessions.State(r.Context(), chi.URLParam(r, middleware.SessionParam))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePutState(w http.ResponseWriter, r *http.Request) {
	if !s.requireJSON(w, r) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxStateBody)
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not read state record")
		return
	}
	if err := snapshot.Validate(raw); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var rec snapshot.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid state record")
		return
	}
	session, err := s.sessions.Restore(r.Context(), chi.URLParam(r, middleware.SessionParam), rec)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

func (s *Server) step(r *http.Request, id string, action []float64) (types.StepResponse, error) {
	session, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		return types.StepResponse{}, err
	}
	req := types.StepRequest{Action: action}
	if err := req.Validate(session.Shape.ActionDim); err != nil {
		return types.StepResponse{}, &env.ContractViolation{What: "action", Detail: err.Error()}
	}
	res, err := s.sessions.Step(r.Context(), id, req.Action)
	if err != nil {
		return types.StepResponse{}, err
	}
	return types.NewStepResponse(res), nil
}

func (s *Server) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		s.writeError(w, http.StatusUnsupportedMediaType, "content type must be application/json")
		return false
	}
	return true
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrCapacity):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, env.ErrConfiguration):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, env.ErrContract):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, env.ErrEnvironment):
		s.logger.Error().Err(err).Msg("environment failure")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
