package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/sessionflow/pkg/domain"
	"github.com/aretw0/sessionflow/pkg/event"
)

const namespace = "sessionflow"

// Metrics records engine events as Prometheus metrics.
type Metrics struct {
	StatesEntered      *prometheus.CounterVec
	TransitionPhases   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	Resets             *prometheus.CounterVec
	ResetDuration      prometheus.Histogram
	GateOpen           prometheus.Gauge
	RunsEnded          *prometheus.CounterVec
	IntroCompleted     *prometheus.CounterVec
	DegradedReports    *prometheus.CounterVec

	mu          sync.Mutex
	transitions map[domain.Signature]time.Time
	resets      map[uint64]time.Time
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		StatesEntered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_states_entered_total",
			Help:      "Session state machine transitions by entered state.",
		}, []string{"state"}),
		TransitionPhases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_phases_total",
			Help:      "Scene transition phase events by phase and profile.",
		}, []string{"phase", "profile"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time from Started to Completed of scene transitions.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"profile"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "world_resets_total",
			Help:      "Completed world resets by result (ok, failed or guarded).",
		}, []string{"result"}),
		ResetDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "world_reset_duration_seconds",
			Help:      "Duration of world resets.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		GateOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_open",
			Help:      "1 when the simulation gate is open.",
		}),
		RunsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_ended_total",
			Help:      "Runs ended by outcome.",
		}, []string{"outcome"}),
		IntroCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intro_completed_total",
			Help:      "Intro stages resolved, by whether they were skipped.",
		}, []string{"skipped"}),
		DegradedReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_reports_total",
			Help:      "Degraded-mode reports by feature and reason.",
		}, []string{"feature", "reason"}),
		transitions: make(map[domain.Signature]time.Time),
		resets:      make(map[uint64]time.Time),
	}
	m.GateOpen.Set(1)

	for _, c := range []prometheus.Collector{
		m.StatesEntered, m.TransitionPhases, m.TransitionDuration, m.Resets, m.ResetDuration,
		m.GateOpen, m.RunsEnded, m.IntroCompleted, m.DegradedReports,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Attach subscribes the metrics to every event on bus.
func (m *Metrics) Attach(bus *event.Bus) (detach func()) {
	return bus.SubscribeAll(m.Observe).Cancel
}

// Observe records a single event.
func (m *Metrics) Observe(e event.Event) {
	switch ev := e.(type) {
	case domain.SessionEnteredState:
		m.StatesEntered.WithLabelValues(string(ev.State)).Inc()

	case domain.TransitionEvent:
		profile := string(ev.Context.Request.Profile)
		m.TransitionPhases.WithLabelValues(ev.Phase.String(), profile).Inc()
		m.mu.Lock()
		switch ev.Phase {
		case domain.PhaseStarted:
			m.transitions[ev.Signature()] = ev.Timestamp()
		case domain.PhaseCompleted:
			if start, ok := m.transitions[ev.Signature()]; ok {
				m.TransitionDuration.WithLabelValues(profile).Observe(ev.Timestamp().Sub(start).Seconds())
				delete(m.transitions, ev.Signature())
			}
		}
		m.mu.Unlock()

	case domain.WorldResetStarted:
		m.mu.Lock()
		m.resets[ev.Serial] = ev.Timestamp()
		m.mu.Unlock()

	case domain.WorldResetCompleted:
		if ev.Guarded {
			m.Resets.WithLabelValues("guarded").Inc()
			return
		}
		result := "ok"
		if ev.Failed {
			result = "failed"
		}
		m.Resets.WithLabelValues(result).Inc()
		m.mu.Lock()
		if start, ok := m.resets[ev.Serial]; ok {
			m.ResetDuration.Observe(ev.Timestamp().Sub(start).Seconds())
			delete(m.resets, ev.Serial)
		}
		m.mu.Unlock()

	case domain.GateChanged:
		if ev.IsOpen {
			m.GateOpen.Set(1)
		} else {
			m.GateOpen.Set(0)
		}

	case domain.RunEnded:
		m.RunsEnded.WithLabelValues(string(ev.Outcome)).Inc()

	case domain.IntroStageCompleted:
		skipped := "false"
		if ev.Skipped {
			skipped = "true"
		}
		m.IntroCompleted.WithLabelValues(skipped).Inc()

	case domain.DegradedReported:
		m.DegradedReports.WithLabelValues(ev.Report.Feature, ev.Report.Reason).Inc()
	}
}

// Handler serves the metrics gathered by g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
