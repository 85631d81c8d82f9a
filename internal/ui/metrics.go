package ui

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"irclog/internal/common"
)

const metricsNamespace = "irclog"

// Metrics counts what the app does with the logs: searches, appends and commits.
type Metrics struct {
	searchDuration  *prometheus.HistogramVec
	scannedSegments prometheus.Counter
	appended        prometheus.Counter
	commitErrors    prometheus.Counter
}

// NewMetrics registers the app collectors with reg, prometheus.DefaultRegisterer if nil.
// Collectors registered earlier under the same names are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "search_duration_seconds",
			Help:      "Latency of searches by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		scannedSegments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "scanned_segments_total",
			Help:      "Segments fully scanned by searches.",
		}),
		appended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "appended_messages_total",
			Help:      "Messages appended to channel logs.",
		}),
		commitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "commit_errors_total",
			Help:      "Failed commits of pending messages.",
		}),
	}

	var err error
	if m.searchDuration, err = register(reg, m.searchDuration); err != nil {
		return nil, err
	}
	for _, c := range []*prometheus.Counter{&m.scannedSegments, &m.appended, &m.commitErrors} {
		if *c, err = register(reg, *c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register metrics: %w", err)
}

func (m *Metrics) observeSearch(took time.Duration, scanned int, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, common.ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	}
	m.searchDuration.WithLabelValues(outcome).Observe(took.Seconds())
	m.scannedSegments.Add(float64(scanned))
}

func (m *Metrics) observeAppend() { m.appended.Inc() }

func (m *Metrics) observeCommit(err error) {
	if err != nil {
		m.commitErrors.Inc()
	}
}
