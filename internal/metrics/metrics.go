package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pedidos_orders_created_total",
		Help: "Total number of orders successfully created.",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_transitions_total",
		Help: "Total number of status transitions applied, by target status.",
	},
		[]string{"to"},
	)

	TransitionRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_transition_rejections_total",
		Help: "Total number of transitions rejected before persistence.",
	},
		[]string{"reason"},
	)

	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_fetches_total",
		Help: "Total number of order fetches, by kind (cached, prioritized, full).",
	},
		[]string{"kind"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	NotificationsProjectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pedidos_notifications_projected_total",
		Help: "Total number of user-facing events derived from snapshot diffs.",
	},
		[]string{"kind"},
	)

	OrderCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pedidos_order_cache_items",
		Help: "Current number of orders in the snapshot cache.",
	})
)
