package ingestion

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/poiesic/newsrag/core"
)

type metrics struct {
	messages       *prometheus.CounterVec
	passages       prometheus.Counter
	embedRetries   prometheus.Counter
	messageSeconds prometheus.Histogram
}

func newMetrics() *metrics {
	return &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsrag",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Messages ingested, by terminal state.",
		}, []string{"state"}),
		passages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsrag",
			Subsystem: "ingest",
			Name:      "passages_total",
			Help:      "Passages written to the record store.",
		}),
		embedRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "newsrag",
			Subsystem: "ingest",
			Name:      "embed_retries_total",
			Help:      "Embedding calls repeated after a transient failure.",
		}),
		messageSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "newsrag",
			Subsystem: "ingest",
			Name:      "message_duration_seconds",
			Help:      "Time from fetch to terminal state per message.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}

// register adds the collectors to reg. Collectors that are already
// registered, e.g. by an earlier pipeline on the same registry, are reused.
func (m *metrics) register(reg prometheus.Registerer) error {
	var err error
	if m.messages, err = registerOrReuse(reg, m.messages); err != nil {
		return err
	}
	if m.passages, err = registerOrReuse(reg, m.passages); err != nil {
		return err
	}
	if m.embedRetries, err = registerOrReuse(reg, m.embedRetries); err != nil {
		return err
	}
	if m.messageSeconds, err = registerOrReuse(reg, m.messageSeconds); err != nil {
		return err
	}
	return nil
}

func registerOrReuse[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observe(o core.MessageOutcome, seconds float64) {
	state := o.State.String()
	if o.Unchanged {
		state = "unchanged"
	}
	m.messages.WithLabelValues(state).Inc()
	if o.State == core.StateStored && !o.Unchanged {
		m.passages.Add(float64(o.Passages))
	}
	m.messageSeconds.Observe(seconds)
}
