package runtime

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sbl8/canlut/model"
)

// Metrics holds the Prometheus collectors updated by an Engine.
type Metrics struct {
	classifications *prometheus.CounterVec
	abstentions     *prometheus.CounterVec
	duration        prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them on reg. When
// the collectors already exist on reg the registered ones are reused, so
// several engines can share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canlut_classifications_total",
				Help: "Number of classifications, by verdict.",
			},
			[]string{"verdict"}),
		abstentions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canlut_tree_abstentions_total",
				Help: "Number of trees that abstained from a vote, by reason.",
			},
			[]string{"reason"}),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "canlut_classify_duration_seconds",
				Help:    "Time spent classifying one feature vector.",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.classifications, err = register(reg, m.classifications); err != nil {
		return nil, err
	}
	if m.abstentions, err = register(reg, m.abstentions); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "registering metrics")
	}
	return c, nil
}

// AbstentionReason names the cause of a tree fault for metric labels.
func AbstentionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrCorruptTree):
		return "corrupt_tree"
	case errors.Is(err, model.ErrCycleDetected):
		return "cycle"
	case errors.Is(err, model.ErrUnknownFeatureCode):
		return "unknown_feature"
	case errors.Is(err, model.ErrNodeNotFound):
		return "node_not_found"
	}
	return "other"
}

func (m *Metrics) observe(verdict Verdict, tally Tally, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	for _, f := range tally.Faults {
		m.abstentions.WithLabelValues(AbstentionReason(f.Err)).Inc()
	}
	if err != nil {
		m.classifications.WithLabelValues("none").Inc()
		return
	}
	m.classifications.WithLabelValues(verdict.String()).Inc()
}
