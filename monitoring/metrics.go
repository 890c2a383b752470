package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PlacementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "network_placements_total",
			Help: "Network placements by outcome",
		},
		[]string{"structure", "outcome"},
	)

	StructureUnlocksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "network_structure_unlocks_total",
			Help: "Structures unlocked by qualification",
		},
	)

	CommissionsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commission_records_created_total",
			Help: "Commission records created by type",
		},
		[]string{"type"},
	)

	PayoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payouts_total",
			Help: "Payout attempts by outcome",
		},
		[]string{"outcome"},
	)

	PayoutAmountTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_amount_minor_total",
			Help: "Paid amount in minor units",
		},
		[]string{"currency"},
	)

	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payout_transfer_duration_seconds",
			Help:    "Duration of external transfer calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	IntentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_intent_transitions_total",
			Help: "Payment intent status transitions",
		},
		[]string{"from", "to"},
	)
)
