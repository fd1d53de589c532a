package degraded

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/sessionflow/internal/logging"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/aretw0/sessionflow/pkg/ports"
)

// Report reasons.
const (
	ReasonMissingDependency  = "missing_dependency"
	ReasonTimeout            = "timeout"
	ReasonFallback           = "fallback"
	ReasonParticipantFailure = "participant_failure"
	ReasonFailure            = "failure"
)

// Policy applies the error taxonomy for one operating mode.
type Policy struct {
	mode      domain.Mode
	reporter  ports.DegradedReporter
	publisher event.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures the Policy.
type Option func(*Policy)

// WithReporter sets the sink for degraded-mode reports.
func WithReporter(r ports.DegradedReporter) Option {
	return func(p *Policy) {
		p.reporter = r
	}
}

// WithPublisher mirrors every report onto the bus as a DegradedReported event.
func WithPublisher(pub event.Publisher) Option {
	return func(p *Policy) {
		p.publisher = pub
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Policy) {
		p.logger = logger
	}
}

// NewPolicy creates a Policy for mode.
func NewPolicy(mode domain.Mode, opts ...Option) *Policy {
	p := &Policy{
		mode:      mode,
		publisher: event.Nop{},
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.mode == "" {
		p.mode = domain.ModeRelease
	}
	return p
}

// Mode returns the operating mode.
func (p *Policy) Mode() domain.Mode { return p.mode }

// Strict reports whether the policy fails fast.
func (p *Policy) Strict() bool { return p.mode == domain.ModeStrict }

// Missing handles a required collaborator that could not be resolved.
// Strict: logs an error and returns an error wrapping domain.ErrMissingDependency.
// Release: reports the feature as degraded and returns nil so the caller can skip it.
func (p *Policy) Missing(ctx context.Context, feature, detail string) error {
	if p.Strict() {
		p.logger.Error("Required dependency missing", "feature", feature, "detail", detail)
		return fmt.Errorf("%s: %w: %s", feature, domain.ErrMissingDependency, detail)
	}
	p.Report(ctx, feature, ReasonMissingDependency, detail)
	return nil
}

// Timeout reports a bounded wait that was exceeded. The caller proceeds as if the wait
// had succeeded.
func (p *Policy) Timeout(ctx context.Context, feature, detail string) {
	p.Report(ctx, feature, ReasonTimeout, detail)
}

// Fallback reports usage of a degraded code path (for example heuristic classification).
func (p *Policy) Fallback(ctx context.Context, feature, detail string) {
	p.Report(ctx, feature, ReasonFallback, detail)
}

// Report records a degraded-mode report on every configured channel.
func (p *Policy) Report(ctx context.Context, feature, reason, detail string) {
	r := domain.DegradedReport{
		Feature: feature,
		Reason:  reason,
		Detail:  detail,
		Mode:    p.mode,
		At:      p.now(),
	}
	p.logger.Warn("Degraded mode",
		"feature", feature,
		"reason", reason,
		"detail", detail,
	)
	if p.reporter != nil {
		if err := p.reporter.Report(ctx, r); err != nil {
			p.logger.Warn("Failed to deliver degraded report", "feature", feature, "err", err)
		}
	}
	p.publisher.Publish(domain.NewDegradedReported(r))
}
