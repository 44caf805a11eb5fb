package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesDetected tracks new addresses per detection source
	CandidatesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybot_candidates_detected_total",
			Help: "Total number of candidate addresses detected",
		},
		[]string{"source"},
	)

	// SourceErrors tracks failed reads per detection source
	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybot_source_errors_total",
			Help: "Total number of failed detector source reads",
		},
		[]string{"source"},
	)

	// CandidatesScored tracks scorer outcomes
	CandidatesScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybot_candidates_scored_total",
			Help: "Total number of candidates evaluated by the scorer",
		},
		[]string{"outcome"},
	)

	// Purchases tracks purchase attempts by final status
	Purchases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybot_purchases_total",
			Help: "Total number of purchase attempts",
		},
		[]string{"status"},
	)

	// NonceFills tracks self-transfers sent to fill unused nonces
	NonceFills = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keybot_nonce_fills_total",
			Help: "Total number of unused nonces filled, by result",
		},
		[]string{"result"},
	)

	AdmissionResets = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "keybot_admission_resets_total",
			Help: "Times the admission set was flushed for exceeding capacity",
		},
	)

	AdmissionSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keybot_admission_size",
			Help: "Current number of admitted addresses",
		},
	)

	TrackedCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keybot_tracked_candidates",
			Help: "Current size of the tracked candidate list",
		},
	)

	// DetectorCycleSeconds tracks the duration of a full detection cycle
	DetectorCycleSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "keybot_detector_cycle_seconds",
			Help:    "Detection cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LatestBlock is the last head observed by the detector
	LatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "keybot_latest_block",
			Help: "Latest block height observed by the detector",
		},
	)
)

// Scorer outcome labels.
const (
	OutcomePriceError = "price_error"
	OutcomeTooPricey  = "over_ceiling"
	OutcomeAdmitted   = "already_admitted"
	OutcomeRejected   = "rejected"
	OutcomeAccepted   = "accepted"
)
