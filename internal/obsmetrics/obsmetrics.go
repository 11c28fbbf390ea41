// Package obsmetrics exposes the crawl kernel's Prometheus surface: stage
// throughput, retry counts, and upsert outcomes, generalized from the
// teacher's per-request ServiceMetrics collector to per-stage crawl
// metrics.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the kernel's metric vectors and their registry.
type Collector struct {
	registry prometheus.Registerer

	StageDuration   *prometheus.HistogramVec
	StageItemsTotal *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec
	UpsertTotal     *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
}

// New registers the kernel's metric vectors against reg, defaulting to the
// global Prometheus registry when reg is nil.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registry: reg,
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "crawlkernel_stage_duration_seconds",
			Help: "Duration of one stage execution.",
		}, []string{"stage"}),
		StageItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlkernel_stage_items_total",
			Help: "Items processed by a stage, by outcome.",
		}, []string{"stage", "outcome"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlkernel_retries_total",
			Help: "Retry attempts issued, by stage and error class.",
		}, []string{"stage", "class"}),
		UpsertTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlkernel_upsert_total",
			Help: "Save-stage upsert outcomes.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "crawlkernel_batch_duration_seconds",
			Help: "Duration of one batch's four-stage run.",
		}),
	}
	reg.MustRegister(c.StageDuration, c.StageItemsTotal, c.RetriesTotal, c.UpsertTotal, c.BatchDuration)
	return c
}

// Handler serves the Prometheus default registry over HTTP for a scrape.
// It does not serve a non-nil registry passed to New; metrics registered
// only there are not exposed by this handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records one stage execution's wall-clock duration in seconds.
func (c *Collector) ObserveStage(stage string, seconds float64) {
	c.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// CountItem records one item outcome for a stage ("success"/"failed").
func (c *Collector) CountItem(stage, outcome string) {
	c.StageItemsTotal.WithLabelValues(stage, outcome).Inc()
}

// CountRetry records one retry attempt's error class for a stage.
func (c *Collector) CountRetry(stage, class string) {
	c.RetriesTotal.WithLabelValues(stage, class).Inc()
}

// CountUpsert records one Save-stage classification (persist_inserted, etc).
func (c *Collector) CountUpsert(outcome string) {
	c.UpsertTotal.WithLabelValues(outcome).Inc()
}
