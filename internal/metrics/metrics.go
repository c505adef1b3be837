// Package metrics exposes process counters/gauges for both pipelines via
// prometheus/client_golang, promoted from an indirect go-ethereum dependency
// to a direct one the way the spec's ambient observability stack expects.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ShredBlocksPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rise_shred_blocks_persisted_total",
		Help: "Shred-side blocks written to the store.",
	})
	ShredDuplicateShreds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rise_shred_duplicate_shreds_total",
		Help: "Shreds identified as duplicates and dropped.",
	})
	ShredActiveBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rise_shred_active_blocks",
		Help: "Block numbers currently tracked in memory by the shred manager.",
	})

	IndexerWatermark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rise_indexer_watermark",
		Help: "Highest block number the indexer pipeline has synced.",
	})
	IndexerQueueFill = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rise_indexer_queue_fill_ratio",
		Help: "Fill ratio of the block queue between fetch/follow and the writer pool.",
	})
	IndexerBlocksWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rise_indexer_blocks_written_total",
		Help: "Blocks written by the writer pool.",
	})
)

// Serve starts a blocking HTTP server exposing /metrics on addr.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
