package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitpot_cache_hits_total",
		Help: "Ledger reads served from the snapshot cache.",
	})

	missesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "splitpot_cache_misses_total",
		Help: "Ledger reads that fell through to the underlying store.",
	})
)
