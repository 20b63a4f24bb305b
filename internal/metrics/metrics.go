package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections tracks live connections per transport.
	OpenConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relay_open_connections",
		Help: "Number of open client connections by transport.",
	}, []string{"transport"})

	// ActiveRooms tracks rooms with at least one member.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_rooms",
		Help: "Number of rooms with at least one member.",
	})

	// MessagesRelayed counts signaling messages accepted for fan-out.
	MessagesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_relayed_total",
		Help: "Signaling messages accepted for fan-out, by kind.",
	}, []string{"kind"})

	// DroppedDeliveries counts per-recipient deliveries dropped because the
	// recipient's channel was saturated or closed.
	DroppedDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_dropped_deliveries_total",
		Help: "Per-recipient deliveries dropped during fan-out.",
	})

	// BridgePublishes counts events pushed to the shared bus.
	BridgePublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bridge_publishes_total",
		Help: "Events published to the cross-process bridge.",
	})

	// BridgeFailures counts failed cross-process publishes.
	BridgeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bridge_failures_total",
		Help: "Failed publishes to the cross-process bridge.",
	})

	// IdleEvictions counts connections reaped for inactivity.
	IdleEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_idle_evictions_total",
		Help: "Connections closed by the inactivity reaper.",
	})
)
