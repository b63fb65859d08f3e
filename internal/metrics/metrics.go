package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	TradesIngestedTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_trades_ingested_total", Help: "Trades applied to the book by coin"}, []string{"coin"})
	TradeBatchesTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_trade_batches_total", Help: "Trade batches received by coin"}, []string{"coin"})
	SnapshotsAppliedTotal    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_snapshots_applied_total", Help: "L2 snapshots loaded into the book by coin"}, []string{"coin"})
	MalformedSnapshotsTotal  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_malformed_snapshots_total", Help: "Snapshots rejected as malformed by coin"}, []string{"coin"})
	SnapshotFetchErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_snapshot_fetch_errors_total", Help: "Failed snapshot fetches by coin"}, []string{"coin"})
	FeedErrorsTotal          = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_feed_errors_total", Help: "Feed errors by coin and kind"}, []string{"coin", "kind"})
	HighlightMarksTotal      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "bookfeed_highlight_marks_total", Help: "Highlighted level changes by side"}, []string{"side"})
	SnapshotFetchLatencyMs   = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "bookfeed_snapshot_fetch_latency_ms", Help: "Snapshot fetch latency", Buckets: prometheus.ExponentialBuckets(5, 2, 10)})
	FeedConnected            = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bookfeed_feed_connected", Help: "1 when the trade stream is connected"})
	WSClients                = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bookfeed_ws_clients", Help: "Connected websocket clients"})
	ViewsPublishedTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookfeed_views_published_total", Help: "Book views handed to sinks"})
	CachePublishErrorsTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookfeed_cache_publish_errors_total", Help: "Failed redis view publishes"})
)

// Init registers every collector on a fresh registry
func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		TradesIngestedTotal, TradeBatchesTotal, SnapshotsAppliedTotal, MalformedSnapshotsTotal,
		SnapshotFetchErrorsTotal, FeedErrorsTotal, HighlightMarksTotal, SnapshotFetchLatencyMs,
		FeedConnected, WSClients, ViewsPublishedTotal, CachePublishErrorsTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
