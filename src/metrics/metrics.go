package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "traderobot"

var (
	FeedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Venue messages received, by channel and outcome.",
	}, []string{"channel", "outcome"})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "reconnects_scheduled_total",
		Help:      "Reconnect timers scheduled, by channel.",
	}, []string{"channel"})

	FeedState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "channel_state",
		Help:      "Current channel state (0 disconnected, 1 connecting, 2 connected, 3 degraded).",
	}, []string{"channel"})

	Subscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "tokens",
		Help:      "Tokens with at least one interested requester.",
	})

	CloseOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trades",
		Name:      "close_orders_total",
		Help:      "Stop-loss close orders, by result.",
	}, []string{"result"})

	TradeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "trades",
		Name:      "transitions_total",
		Help:      "Trade status transitions, by target status.",
	}, []string{"status"})

	RelaySessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "sessions",
		Help:      "Connected consumer sessions.",
	})

	RelayDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "dropped_messages_total",
		Help:      "Messages dropped because a consumer send buffer was full.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
