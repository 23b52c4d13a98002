package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	depositsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_deposits_received_total",
		Help: "Deposits recorded from bank-rail notifications.",
	})

	creditOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_credit_outcomes_total",
		Help: "Fiat credit notifications by reconciliation outcome.",
	}, []string{"outcome"})

	fillsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_fills_recorded_total",
		Help: "Exchange order fills recorded.",
	})

	transfersCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settler_transfers_completed_total",
		Help: "Transfers confirmed at the custodial wallet.",
	})

	chainFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settler_chain_failures_total",
		Help: "Failed fire-and-forget downstream actions by stage.",
	}, []string{"stage"})

	matchScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settler_match_scan_seconds",
		Help:    "Duration of the credit reconciliation scan.",
		Buckets: prometheus.DefBuckets,
	})
)
