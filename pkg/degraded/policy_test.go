package degraded_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/sessionflow/pkg/degraded"
	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_MissingStrict(t *testing.T) {
	rec := degraded.NewRecorder(0)
	p := degraded.NewPolicy(domain.ModeStrict, degraded.WithReporter(rec))

	err := p.Missing(context.Background(), domain.FeatureGate, "gate not configured")

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrMissingDependency))
	assert.Empty(t, rec.Reports(), "strict mode fails loudly instead of reporting")
}

func TestPolicy_MissingRelease(t *testing.T) {
	rec := degraded.NewRecorder(0)
	bus := event.NewBus()
	var mirrored []domain.DegradedReported
	event.On(bus, domain.EventDegradedReported, func(e domain.DegradedReported) {
		mirrored = append(mirrored, e)
	})
	p := degraded.NewPolicy(domain.ModeRelease, degraded.WithReporter(rec), degraded.WithPublisher(bus))

	err := p.Missing(context.Background(), domain.FeatureGate, "gate not configured")

	require.NoError(t, err)
	reports := rec.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, domain.FeatureGate, reports[0].Feature)
	assert.Equal(t, degraded.ReasonMissingDependency, reports[0].Reason)
	assert.Equal(t, domain.ModeRelease, reports[0].Mode)
	require.Len(t, mirrored, 1)
	assert.Equal(t, reports[0].Feature, mirrored[0].Report.Feature)
}

func TestPolicy_TimeoutAlwaysReports(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeStrict, domain.ModeRelease} {
		rec := degraded.NewRecorder(0)
		p := degraded.NewPolicy(mode, degraded.WithReporter(rec))

		p.Timeout(context.Background(), domain.FeatureResetWait, "5s")

		assert.Equal(t, 1, rec.Count(domain.FeatureResetWait), mode)
	}
}

func TestPolicy_DefaultsToRelease(t *testing.T) {
	p := degraded.NewPolicy("")
	assert.False(t, p.Strict())
	assert.Equal(t, domain.ModeRelease, p.Mode())
}

func TestRecorder_Bounded(t *testing.T) {
	rec := degraded.NewRecorder(2)
	ctx := context.Background()
	for _, f := range []string{"a", "b", "c"} {
		require.NoError(t, rec.Report(ctx, domain.DegradedReport{Feature: f}))
	}

	reports := rec.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, "b", reports[0].Feature)
	assert.Equal(t, "c", reports[1].Feature)

	last, err := rec.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "c", last[0].Feature)
}

type failingReporter struct{}

func (failingReporter) Report(context.Context, domain.DegradedReport) error {
	return errors.New("sink down")
}

func TestMulti_DeliversToAll(t *testing.T) {
	rec := degraded.NewRecorder(0)
	m := degraded.Multi{failingReporter{}, nil, rec}

	err := m.Report(context.Background(), domain.DegradedReport{Feature: "x"})

	assert.EqualError(t, err, "sink down")
	assert.Equal(t, 1, rec.Count("x"))
}
