package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/sessionflow"
	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/reset"
	"github.com/aretw0/sessionflow/pkg/transition"
)

// SnapshotURI is the resource holding the live engine snapshot.
const SnapshotURI = "sessionflow://snapshot"

// DefaultHistory is how many bus events the server keeps for recent_events.
const DefaultHistory = 512

// Engine is the command surface the tools drive. *sessionflow.Engine implements it.
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

// ReportSource returns the most recent degraded-mode reports.
type ReportSource interface {
	Recent(ctx context.Context, n int64) ([]domain.DegradedReport, error)
}

// RecordedEvent is one entry of the event history.
type RecordedEvent struct {
	Seq  uint64          `json:"seq"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Server wraps an Engine and exposes it as an MCP server.
type Server struct {
	engine    Engine
	reports   ReportSource
	mcpServer *server.MCPServer
	logger    *slog.Logger

	mu      sync.Mutex
	history []RecordedEvent
	limit   int
	seq     uint64
	sub     *event.Subscription
}

// Option configures the Server.
type Option func(*Server)

// WithReports enables the degraded_reports tool.
func WithReports(src ReportSource) Option {
	return func(s *Server) {
		s.reports = src
	}
}

// WithHistory bounds the event history.
func WithHistory(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.limit = n
		}
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

// NewServer creates a Server and starts recording bus events.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		limit:  DefaultHistory,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("sessionflow-mcp", strings.TrimSpace(sessionflow.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sub = engine.Bus().SubscribeAll(s.record)
	s.registerTools()
	s.registerResources()
	return s
}

// Close stops recording events.
func (s *Server) Close() {
	s.sub.Cancel()
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) record(e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("MCP: failed to encode event", "type", e.EventType(), "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.history = append(s.history, RecordedEvent{Seq: s.seq, Type: e.EventType(), At: e.Timestamp(), Data: data})
	if over := len(s.history) - s.limit; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
}

// Events returns recorded events newer than since, optionally filtered by type,
// keeping at most limit of the newest ones.
func (s *Server) Events(since uint64, eventType string, limit int) []RecordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RecordedEvent
	for _, e := range s.history {
		if e.Seq <= since || (eventType != "" && e.Type != eventType) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
