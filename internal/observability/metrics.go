package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "delivery_dispatch"

var (
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "orders_placed_total", Help: "Orders created by customers"})
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transitions_total", Help: "Order status transitions by target status"},
		[]string{"status"},
	)
	TransitionRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "order_transition_rejections_total", Help: "Rejected order mutations by reason"},
		[]string{"reason"},
	)

	FanoutRuns    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "fanout_runs_total", Help: "Fan-outs triggered by placed->accepted transitions"})
	FanoutLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "fanout_latency_seconds", Help: "Fan-out latency seconds"})
	DriverRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "driver_requests_total", Help: "Driver request creation outcomes"},
		[]string{"result"}, // created, duplicate, failed
	)
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Push notification deliveries by result"},
		[]string{"result"},
	)

	OutboxDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "outbox_deliveries_total", Help: "Order change publish attempts from the outbox"},
		[]string{"result"}, // sent, retry, deferred
	)

	AcceptOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "driver_accepts_total", Help: "Driver accept attempts by outcome"},
		[]string{"outcome"},
	)
	DriversAvailable = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_available", Help: "Drivers currently sharing location"})
	LocationReports  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "driver_location_reports_total", Help: "Driver location reports received"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
