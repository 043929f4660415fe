// Package metrics exposes transfer counters over Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes transfer metrics. Each collector carries its
// own registry so repeated construction (tests, consecutive batches) never
// collides.
type Collector struct {
	registry   *prometheus.Registry
	itemsTotal *prometheus.CounterVec
	bytesTotal prometheus.Counter
	duration   prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_items_total",
				Help: "Total number of transfer items processed",
			},
			[]string{"outcome"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transfer_bytes_total",
				Help: "Total bytes transferred",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transfer_item_duration_seconds",
				Help:    "Time taken to transfer one item",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	c.registry.MustRegister(c.itemsTotal)
	c.registry.MustRegister(c.bytesTotal)
	c.registry.MustRegister(c.duration)

	return c
}

// ItemSucceeded records a completed item and its payload size.
func (c *Collector) ItemSucceeded(bytes int64) {
	c.itemsTotal.WithLabelValues("success").Inc()
	c.bytesTotal.Add(float64(bytes))
}

// ItemFailed records an item that exhausted its retry budget.
func (c *Collector) ItemFailed() {
	c.itemsTotal.WithLabelValues("failed").Inc()
}

// ItemSkipped records an item skipped because a resumed checkpoint already
// marks it completed.
func (c *Collector) ItemSkipped() {
	c.itemsTotal.WithLabelValues("skipped").Inc()
}

// ObserveDuration observes one item's transfer duration.
func (c *Collector) ObserveDuration(d time.Duration) {
	c.duration.Observe(d.Seconds())
}

// Handler returns the /metrics handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. Blocks; run it in a goroutine.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}
