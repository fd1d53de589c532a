package redis

import (
	"context"
	"encoding/json"
	"fmt"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/sessionflow/pkg/domain"
)

const (
	// DefaultKey is the list holding the reports.
	DefaultKey = "sessionflow:degraded"
	// DefaultMaxEntries bounds the list length.
	DefaultMaxEntries int64 = 1000
)

// Reporter implements ports.DegradedReporter on top of a capped Redis list.
type Reporter struct {
	client     *backend.Client
	key        string
	maxEntries int64
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithKey sets the list key.
func WithKey(key string) Option {
	return func(r *Reporter) {
		if key != "" {
			r.key = key
		}
	}
}

// WithMaxEntries caps the list; older reports are trimmed first. Zero disables the cap.
func WithMaxEntries(n int64) Option {
	return func(r *Reporter) {
		r.maxEntries = n
	}
}

// NewReporter creates a Reporter using an existing client.
func NewReporter(client *backend.Client, opts ...Option) *Reporter {
	r := &Reporter{
		client:     client,
		key:        DefaultKey,
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report appends rep to the list and trims it to the configured cap.
func (r *Reporter) Report(ctx context.Context, rep domain.DegradedReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.key, data)
	if r.maxEntries > 0 {
		pipe.LTrim(ctx, r.key, -r.maxEntries, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis error storing report: %w", err)
	}
	return nil
}

// Recent returns up to n reports, oldest first. n <= 0 returns the whole list.
func (r *Reporter) Recent(ctx context.Context, n int64) ([]domain.DegradedReport, error) {
	start := int64(0)
	if n > 0 {
		start = -n
	}
	raw, err := r.client.LRange(ctx, r.key, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error reading reports: %w", err)
	}

	reports := make([]domain.DegradedReport, 0, len(raw))
	for _, item := range raw {
		var rep domain.DegradedReport
		if err := json.Unmarshal([]byte(item), &rep); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Clear removes every stored report.
func (r *Reporter) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
