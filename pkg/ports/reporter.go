package ports

import (
	"context"

	"github.com/aretw0/sessionflow/pkg/domain"
)

// DegradedReporter records failures that were downgraded to keep the session alive.
type DegradedReporter interface {
	Report(ctx context.Context, r domain.DegradedReport) error
}
