// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all metrics for the billing engine
type Metrics struct {
	registry *prometheus.Registry

	// Bid path metrics
	BidsChecked   prometheus.Counter
	BidsReserved  prometheus.Counter
	BidsConfirmed prometheus.Counter
	BidsRejected  *prometheus.CounterVec

	// Reservation metrics
	ReservationsActive  prometheus.Gauge
	ReservationsExpired prometheus.Counter

	// Pacing metrics
	RateGoalRecomputes prometheus.Counter

	// Persistence metrics
	DumpsCompleted prometheus.Counter
	DumpsFailed    prometheus.Counter
	DumpDuration   prometheus.Histogram

	// Performance metrics
	CheckLatency   prometheus.Histogram
	ConfirmLatency prometheus.Histogram
}

// NewMetrics creates a new metrics instance on a private registry
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		BidsChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "bids_checked_total",
			Help:      "Total number of bid availability checks",
		}),
		BidsReserved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "bids_reserved_total",
			Help:      "Total number of successful bid reservations",
		}),
		BidsConfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "bids_confirmed_total",
			Help:      "Total number of bid confirmations",
		}),
		BidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "bids_rejected_total",
			Help:      "Total number of rejected bids by reason",
		}, []string{"reason"}),

		ReservationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "billing",
			Name:      "reservations_active",
			Help:      "Number of outstanding bid reservations",
		}),
		ReservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "reservations_expired_total",
			Help:      "Total number of reservations reverted by the expiry sweep",
		}),

		RateGoalRecomputes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "rate_goal_recomputes_total",
			Help:      "Total number of CTR goal rate recomputations",
		}),

		DumpsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "dumps_completed_total",
			Help:      "Total number of completed state dumps",
		}),
		DumpsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "dumps_failed_total",
			Help:      "Total number of failed state dumps",
		}),
		DumpDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "dump_duration_seconds",
			Help:      "Time to dump the full ledger state",
			Buckets:   prometheus.DefBuckets,
		}),

		CheckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "check_latency_seconds",
			Help:      "Time to process an availability check",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		ConfirmLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "confirm_latency_seconds",
			Help:      "Time to process a bid confirmation",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}

	collectors := []prometheus.Collector{
		m.BidsChecked,
		m.BidsReserved,
		m.BidsConfirmed,
		m.BidsRejected,
		m.ReservationsActive,
		m.ReservationsExpired,
		m.RateGoalRecomputes,
		m.DumpsCompleted,
		m.DumpsFailed,
		m.DumpDuration,
		m.CheckLatency,
		m.ConfirmLatency,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// GetGatherer returns the prometheus gatherer for metrics export
func (m *Metrics) GetGatherer() prometheus.Gatherer {
	return m.registry
}

// GetRegisterer returns the prometheus registerer
func (m *Metrics) GetRegisterer() prometheus.Registerer {
	return m.registry
}
