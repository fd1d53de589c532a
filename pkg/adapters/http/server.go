package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/sessionflow"
	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/observability"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/transition"
)

// Engine is the command surface the server drives. *sessionflow.Engine implements it.
type Engine interface {
	Bus() *event.Bus
	Snapshot() sessionflow.Snapshot
	RequestStart(ctx context.Context) (transition.Result, error)
	RequestPause(ctx context.Context) error
	RequestResume(ctx context.Context) error
	RequestExitToMenu(ctx context.Context) (transition.Result, error)
	RequestReset(ctx context.Context, reason string) (reset.Result, error)
	RequestLevelChange(ctx context.Context, level ...string) (transition.Result, error)
	RequestContentSwap(ctx context.Context, req domain.ResetRequest) (reset.Result, error)
	CompleteIntro(reason string) bool
	SkipIntro(reason string) bool
	RequestVictory(reason string) bool
	RequestDefeat(reason string) bool
}

var _ Engine = (*sessionflow.Engine)(nil)

// Server serves the control API.
type Server struct {
	Engine  Engine
	Streams *StreamManager

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics mounts /metrics for the given gatherer.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a Server and starts forwarding bus events to stream clients.
// Call Close to stop forwarding.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		Engine: engine,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Streams = NewStreamManager(s.logger)
	s.Streams.Attach(engine.Bus())
	return s
}

// Close disconnects stream clients and stops forwarding events.
func (s *Server) Close() {
	s.Streams.Close()
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/snapshot", s.GetSnapshot)
	r.Get("/events", s.SubscribeEvents)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", observability.Handler(s.gatherer))
	}

	r.Route("/session", func(r chi.Router) {
		r.Post("/start", s.Start)
		r.Post("/pause", s.Pause)
		r.Post("/resume", s.Resume)
		r.Post("/exit", s.ExitToMenu)
		r.Post("/reset", s.Reset)
		r.Post("/level", s.LevelChange)
		r.Post("/content-swap", s.ContentSwap)
	})
	r.Route("/intro", func(r chi.Router) {
		r.Post("/complete", s.CompleteIntro)
		r.Post("/skip", s.SkipIntro)
	})
	r.Route("/run", func(r chi.Router) {
		r.Post("/victory", s.Victory)
		r.Post("/defeat", s.Defeat)
	})
	return r
}

// NewHandler is a shorthand for NewServer(engine, opts...).Handler().
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Handler()
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "sessionflow-http",
		"version": strings.TrimSpace(sessionflow.Version),
	})
}

// GetSnapshot handles GET /snapshot.
func (s *Server) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Engine.Snapshot())
}

// Start handles POST /session/start.
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.RequestStart(r.Context())
	s.respondTransition(w, "Start", res, err)
}

// Pause handles POST /session/pause.
func (s *Server) Pause(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, "Pause", s.Engine.RequestPause(r.Context()))
}

// Resume handles POST /session/resume.
func (s *Server) Resume(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, "Resume", s.Engine.RequestResume(r.Context()))
}

// ExitToMenu handles POST /session/exit.
func (s *Server) ExitToMenu(w http.ResponseWriter, r *http.Request) {
	res, err := s.Engine.RequestExitToMenu(r.Context())
	s.respondTransition(w, "ExitToMenu", res, err)
}

// Reset handles POST /session/reset.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	var body ReasonRequest
	if !s.decode(w, r, "Reset", &body) {
		return
	}
	res, err := s.Engine.RequestReset(r.Context(), body.Reason)
	s.respondReset(w, "Reset", res, err)
}

// LevelChange handles POST /session/level.
func (s *Server) LevelChange(w http.ResponseWriter, r *http.Request) {
	var body LevelRequest
	if !s.decode(w, r, "LevelChange", &body) {
		return
	}
	if len(body.Scenes) == 0 {
		s.writeError(w, http.StatusBadRequest, "scenes are required")
		return
	}
	res, err := s.Engine.RequestLevelChange(r.Context(), body.Scenes...)
	s.respondTransition(w, "LevelChange", res, err)
}

// ContentSwap handles POST /session/content-swap.
func (s *Server) ContentSwap(w http.ResponseWriter, r *http.Request) {
	var body domain.ResetRequest
	if !s.decode(w, r, "ContentSwap", &body) {
		return
	}
	if body.Scope == "" {
		body.Scope = domain.ScopeAllActorsInScene
	}
	if _, err := domain.ParseResetScope(string(body.Scope)); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.Engine.RequestContentSwap(r.Context(), body)
	s.respondReset(w, "ContentSwap", res, err)
}

// CompleteIntro handles POST /intro/complete.
func (s *Server) CompleteIntro(w http.ResponseWriter, r *http.Request) {
	s.respondAccepted(w, r, "CompleteIntro", s.Engine.CompleteIntro)
}

// SkipIntro handles POST /intro/skip.
func (s *Server) SkipIntro(w http.ResponseWriter, r *http.Request) {
	s.respondAccepted(w, r, "SkipIntro", s.Engine.SkipIntro)
}

// Victory handles POST /run/victory.
func (s *Server) Victory(w http.ResponseWriter, r *http.Request) {
	s.respondAccepted(w, r, "Victory", s.Engine.RequestVictory)
}

// Defeat handles POST /run/defeat.
func (s *Server) Defeat(w http.ResponseWriter, r *http.Request) {
	s.respondAccepted(w, r, "Defeat", s.Engine.RequestDefeat)
}

// -- Helpers --

// decode reads an optional JSON body. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		s.logger.Warn(op+": Invalid request body", "err", err)
		return false
	}
	return true
}

func (s *Server) respondAccepted(w http.ResponseWriter, r *http.Request, op string, fn func(string) bool) {
	var body ReasonRequest
	if !s.decode(w, r, op, &body) {
		return
	}
	s.writeJSON(w, http.StatusOK, AcceptedResponse{
		Accepted: fn(body.Reason),
		Snapshot: s.Engine.Snapshot(),
	})
}

func (s *Server) respondSnapshot(w http.ResponseWriter, op string, err error) {
	if err != nil {
		s.fail(w, op, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Engine.Snapshot())
}

func (s *Server) respondTransition(w http.ResponseWriter, op string, res transition.Result, err error) {
	if err != nil {
		s.fail(w, op, err)
		return
	}
	s.writeJSON(w, http.StatusOK, mapTransitionResult(res))
}

func (s *Server) respondReset(w http.ResponseWriter, op string, res reset.Result, err error) {
	if err != nil && !errors.Is(err, domain.ErrParticipantFailure) {
		s.fail(w, op, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
		s.logger.Error(op+" failed", "err", err)
	}
	s.writeJSON(w, status, mapResetResult(res))
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "err", err)
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrTransitionBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingDependency):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrClosed):
		return http.StatusGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "err", err)
	}
}

func mapTransitionResult(res transition.Result) TransitionResponse {
	return TransitionResponse{
		Signature:     res.Context.Signature,
		Profile:       res.Context.Request.Profile,
		Coalesced:     res.Coalesced,
		Duplicate:     res.Duplicate,
		ResetWaited:   res.ResetWaited,
		ResetTimedOut: res.ResetTimedOut,
		Skipped:       res.Skipped,
		ElapsedMS:     res.Elapsed.Milliseconds(),
	}
}

func mapResetResult(res reset.Result) ResetResponse {
	out := ResetResponse{
		Signature:    res.Signature,
		Serial:       res.Serial,
		Guarded:      res.Guarded,
		InFlight:     res.InFlight,
		Targets:      res.Targets,
		Participants: res.Participants,
		Spawned:      res.Spawned,
		ElapsedMS:    res.Elapsed.Milliseconds(),
	}
	for _, f := range res.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	return out
}

// ReasonRequest is the optional body of commands that take a reason.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// LevelRequest is the body of POST /session/level.
type LevelRequest struct {
	Scenes []string `json:"scenes"`
}

type AcceptedResponse struct {
	Accepted bool                 `json:"accepted"`
	Snapshot sessionflow.Snapshot `json:"snapshot"`
}

type TransitionResponse struct {
	Signature     domain.Signature `json:"signature"`
	Profile       domain.Profile   `json:"profile"`
	Coalesced     bool             `json:"coalesced"`
	Duplicate     bool             `json:"duplicate"`
	ResetWaited   bool             `json:"reset_waited"`
	ResetTimedOut bool             `json:"reset_timed_out"`
	Skipped       []string         `json:"skipped,omitempty"`
	ElapsedMS     int64            `json:"elapsed_ms"`
}

type ResetResponse struct {
	Signature    domain.Signature   `json:"signature"`
	Serial       uint64             `json:"serial"`
	Guarded      bool               `json:"guarded"`
	InFlight     bool               `json:"in_flight"`
	Targets      []string           `json:"targets,omitempty"`
	Participants []string           `json:"participants,omitempty"`
	Failures     []string           `json:"failures,omitempty"`
	Spawned      []domain.ActorKind `json:"spawned,omitempty"`
	ElapsedMS    int64              `json:"elapsed_ms"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
