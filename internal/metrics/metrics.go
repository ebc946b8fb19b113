// Package metrics exposes Prometheus instrumentation for the storefront engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CartRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_refreshes_total",
			Help: "Cart refreshes by outcome (applied, stale, failed)",
		},
		[]string{"outcome"},
	)

	InventoryRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_inventory_rejections_total",
			Help: "Quantity changes rejected by the inventory guard by reason",
		},
		[]string{"reason"},
	)

	CouponApplyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_coupon_apply_total",
			Help: "Coupon apply attempts by result",
		},
		[]string{"result"},
	)

	NotificationsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_notifications_emitted_total",
			Help: "Notifications created by type",
		},
		[]string{"type"},
	)

	TransitionsSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_transitions_suppressed_total",
			Help: "Order status transitions skipped because they were already notified",
		},
	)

	PollsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_polls_skipped_total",
			Help: "Poll cycles skipped because a fetch was already in flight",
		},
		[]string{"loop"},
	)

	RemoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_remote_errors_total",
			Help: "Failed remote API calls by operation",
		},
		[]string{"op"},
	)

	RemoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_remote_request_duration_seconds",
			Help:    "Remote API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	SnapshotErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_snapshot_errors_total",
			Help: "Swallowed persistent store failures by operation",
		},
		[]string{"op"},
	)

	TrackedOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_tracked_orders",
			Help: "Orders currently known to the status tracker",
		},
	)
)

func init() {
	prometheus.MustRegister(CartRefreshes)
	prometheus.MustRegister(InventoryRejections)
	prometheus.MustRegister(CouponApplyResults)
	prometheus.MustRegister(NotificationsEmitted)
	prometheus.MustRegister(TransitionsSuppressed)
	prometheus.MustRegister(PollsSkipped)
	prometheus.MustRegister(RemoteErrors)
	prometheus.MustRegister(RemoteRequestDuration)
	prometheus.MustRegister(SnapshotErrors)
	prometheus.MustRegister(TrackedOrders)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
