package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "px_position_manager"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	positionsOpened  prometheus.Counter
	positionsUnwound prometheus.Counter
	rebalances       prometheus.Counter
	ordersPlaced     prometheus.Counter
	ordersSkipped    prometheus.Counter
	feedReconnects   prometheus.Counter
	operationsFailed *prometheus.CounterVec
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	p := &Prometheus{
		registry:         registry,
		positionsOpened:  newCounter("positions_opened_total", "Total number of positions opened."),
		positionsUnwound: newCounter("positions_unwound_total", "Total number of positions unwound."),
		rebalances:       newCounter("rebalances_total", "Total number of rebalance operations committed."),
		ordersPlaced:     newCounter("orders_placed_total", "Total number of limit orders the position placed."),
		ordersSkipped:    newCounter("orders_skipped_total", "Total number of rebalances that had nothing to place."),
		feedReconnects:   newCounter("feed_reconnects_total", "Total number of book feed reconnects."),
		operationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      "operations_failed_total",
			Help:      "Total number of rejected position operations by operation and error kind.",
		}, []string{"operation", "kind"}),
	}
	registry.MustRegister(p.positionsOpened, p.positionsUnwound, p.rebalances, p.ordersPlaced, p.ordersSkipped, p.feedReconnects, p.operationsFailed)

	p.Metrics = &Metrics{
		PositionsOpened:  promCounter{p.positionsOpened},
		PositionsUnwound: promCounter{p.positionsUnwound},
		Rebalances:       promCounter{p.rebalances},
		OrdersPlaced:     promCounter{p.ordersPlaced},
		OrdersSkipped:    promCounter{p.ordersSkipped},
		FeedReconnects:   promCounter{p.feedReconnects},
		FailedOperation: func(op, kind string) Counter {
			return promCounter{p.operationsFailed.WithLabelValues(op, kind)}
		},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
