package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawl-profiles/internal/events"
)

// PrometheusSink exports lifecycle counters and per-status profile gauges.
type PrometheusSink struct {
	transitions *prometheus.CounterVec
	profiles    *prometheus.GaugeVec
	removed     prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profiles_lifecycle_events_total",
			Help: "Profile lifecycle transitions partitioned by kind.",
		}, []string{"kind"}),
		profiles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "profiles_registered",
			Help: "Profiles currently registered partitioned by status.",
		}, []string{"status"}),
		removed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "profiles_terminate_removed_urls",
			Help:    "Queued URLs discarded when a profile is terminated.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000},
		}),
	}
	for _, collector := range []prometheus.Collector{s.transitions, s.profiles, s.removed} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		s.transitions.WithLabelValues(string(evt.Kind)).Inc()
		switch evt.Kind {
		case events.KindCreated, events.KindRestored:
			s.profiles.WithLabelValues(string(evt.Status)).Inc()
		case events.KindTerminated:
			s.profiles.WithLabelValues(string(events.StatusActive)).Dec()
			s.profiles.WithLabelValues(string(events.StatusPassive)).Inc()
			s.removed.Observe(float64(evt.Removed))
		case events.KindDeleted:
			s.profiles.WithLabelValues(string(events.StatusPassive)).Dec()
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
