// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds the collectors for the orchestration core.
type Telemetry struct {
	Messages           *prometheus.CounterVec
	MessageDuration    prometheus.Histogram
	ExtractionTimeouts *prometheus.CounterVec
	DraftConflicts     prometheus.Counter
	Publishes          prometheus.Counter
	PublishFailures    prometheus.Counter
	ReversalFailures   prometheus.Counter
	SearchRequests     prometheus.Counter
	SearchPartials     prometheus.Counter
	SearchDuration     prometheus.Histogram
}

// New registers the collectors with the given registerer (nil = default).
func New(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	t := &Telemetry{
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_messages_total",
			Help: "Messages handled, by resolved intent.",
		}, []string{"intent"}),
		MessageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_message_duration_seconds",
			Help:    "End-to-end message handling latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ExtractionTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_extraction_timeouts_total",
			Help: "Field extraction tasks dropped on timeout, by field.",
		}, []string{"field"}),
		DraftConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_draft_conflicts_total",
			Help: "Draft merges that failed after the bounded conflict retry.",
		}),
		Publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_publishes_total",
			Help: "Listings published.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_publish_failures_total",
			Help: "Publish commits that failed and were compensated.",
		}),
		ReversalFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_wallet_reversal_failures_total",
			Help: "Compensating wallet credits that failed; requires manual reconciliation.",
		}),
		SearchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_search_requests_total",
			Help: "Search queries handled.",
		}),
		SearchPartials: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "assistant_search_partials_total",
			Help: "Searches that dropped at least one timed-out strategy.",
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assistant_search_duration_seconds",
			Help:    "Search fan-out latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		t.Messages, t.MessageDuration, t.ExtractionTimeouts, t.DraftConflicts,
		t.Publishes, t.PublishFailures, t.ReversalFailures,
		t.SearchRequests, t.SearchPartials, t.SearchDuration,
	)
	return t
}

// ObserveMessage records one handled message.
func (t *Telemetry) ObserveMessage(intent string, start time.Time) {
	if t == nil {
		return
	}
	t.Messages.WithLabelValues(intent).Inc()
	t.MessageDuration.Observe(time.Since(start).Seconds())
}
