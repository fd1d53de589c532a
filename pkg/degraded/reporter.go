package degraded

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/ports"
)

// DefaultRecorderCapacity bounds the in-memory report history.
const DefaultRecorderCapacity = 256

// Recorder keeps the most recent reports in memory. Safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	reports  []domain.DegradedReport
	capacity int
}

// NewRecorder creates a Recorder keeping at most capacity reports
// (DefaultRecorderCapacity when capacity <= 0).
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &Recorder{capacity: capacity}
}

// Report implements ports.DegradedReporter.
func (r *Recorder) Report(ctx context.Context, rep domain.DegradedReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, rep)
	if over := len(r.reports) - r.capacity; over > 0 {
		r.reports = slices.Delete(r.reports, 0, over)
	}
	return nil
}

// Reports returns a copy of the recorded reports, oldest first.
func (r *Recorder) Reports() []domain.DegradedReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.reports)
}

// Recent returns up to n of the newest reports, oldest first. n <= 0 returns all.
func (r *Recorder) Recent(ctx context.Context, n int64) ([]domain.DegradedReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if n > 0 && int(n) < len(r.reports) {
		start = len(r.reports) - int(n)
	}
	return slices.Clone(r.reports[start:]), nil
}

// Count returns how many recorded reports concern feature.
func (r *Recorder) Count(feature string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rep := range r.reports {
		if rep.Feature == feature {
			n++
		}
	}
	return n
}

// LogReporter writes reports to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

// Report implements ports.DegradedReporter.
func (l LogReporter) Report(ctx context.Context, rep domain.DegradedReport) error {
	l.Logger.LogAttrs(ctx, slog.LevelWarn, "degraded report",
		slog.String("feature", rep.Feature),
		slog.String("reason", rep.Reason),
		slog.String("detail", rep.Detail),
		slog.String("mode", string(rep.Mode)),
	)
	return nil
}

// Multi fans a report out to several reporters and returns the first error.
type Multi []ports.DegradedReporter

// Report implements ports.DegradedReporter.
func (m Multi) Report(ctx context.Context, rep domain.DegradedReport) error {
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Report(ctx, rep); err != nil && first == nil {
			first = err
		}
	}
	return first
}
