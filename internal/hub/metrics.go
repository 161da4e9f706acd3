package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitpot_hub_rooms",
		Help: "Number of rooms with at least one subscriber.",
	})

	membersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitpot_hub_members",
		Help: "Number of connected subscribers across all rooms.",
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitpot_hub_events_total",
		Help: "Events broadcast through rooms, by event name.",
	}, []string{"event"})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitpot_hub_events_dropped_total",
		Help: "Events dropped because a subscriber buffer was full.",
	})

	snapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitpot_hub_snapshots_total",
		Help: "Full-ledger snapshots delivered on join or after persistence.",
	})
)
