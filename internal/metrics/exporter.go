// Package metrics exports compute pool statistics as Prometheus metrics.
// The collector reads a fresh stats snapshot at scrape time, so there is
// no polling goroutine and no drift between the dashboard view and the
// exported values.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"deckhand/internal/compute"
	"deckhand/internal/logging"
)

const namespace = "deckhand"

// StatsSource yields compute snapshots on demand. *compute.Manager
// satisfies it.
type StatsSource interface {
	Stats() compute.Snapshot
}

// Collector translates pool snapshots into Prometheus metrics. All
// values are const metrics built per scrape.
type Collector struct {
	src StatsSource

	workers       *prometheus.Desc
	activeWorkers *prometheus.Desc
	queuedTasks   *prometheus.Desc
	completed     *prometheus.Desc
	failed        *prometheus.Desc
	rejected      *prometheus.Desc
	durationTotal *prometheus.Desc

	totalTasks *prometheus.Desc
	zeroCopy   *prometheus.Desc
}

// NewCollector builds a collector over src. Register it on a
// prometheus.Registerer to expose it.
func NewCollector(src StatsSource) *Collector {
	tier := []string{"tier"}
	return &Collector{
		src: src,
		workers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "workers"),
			"Configured worker bound per tier, zero when not initialized.",
			tier, nil),
		activeWorkers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "active_workers"),
			"Workers currently executing a task.",
			tier, nil),
		queuedTasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "queued_tasks"),
			"Tasks waiting in the pending queue.",
			tier, nil),
		completed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "tasks_completed_total"),
			"Tasks that finished successfully.",
			tier, nil),
		failed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "tasks_failed_total"),
			"Tasks whose handler returned an error or panicked.",
			tier, nil),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "tasks_rejected_total"),
			"Submissions refused before execution.",
			tier, nil),
		durationTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "task_duration_seconds_total"),
			"Summed dispatch duration of completed tasks.",
			tier, nil),
		totalTasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks_total"),
			"Completed tasks across both tiers.",
			nil, nil),
		zeroCopy: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "zero_copy_enabled"),
			"Whether buffers are handed to handlers by reference (1) or copied (0).",
			nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.workers
	ch <- c.activeWorkers
	ch <- c.queuedTasks
	ch <- c.completed
	ch <- c.failed
	ch <- c.rejected
	ch <- c.durationTotal
	ch <- c.totalTasks
	ch <- c.zeroCopy
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src.Stats()
	logging.MetricsDebug("scrape: total_tasks=%d", snap.TotalTasks)

	for _, ts := range []compute.TierStats{snap.Interactive, snap.Background} {
		tier := string(ts.Tier)
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(ts.Workers), tier)
		ch <- prometheus.MustNewConstMetric(c.activeWorkers, prometheus.GaugeValue, float64(ts.ActiveWorkers), tier)
		ch <- prometheus.MustNewConstMetric(c.queuedTasks, prometheus.GaugeValue, float64(ts.QueuedTasks), tier)
		ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue, float64(ts.CompletedTasks), tier)
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(ts.FailedTasks), tier)
		ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(ts.RejectedTasks), tier)
		ch <- prometheus.MustNewConstMetric(c.durationTotal, prometheus.CounterValue, ts.TotalDuration.Seconds(), tier)
	}

	ch <- prometheus.MustNewConstMetric(c.totalTasks, prometheus.CounterValue, float64(snap.TotalTasks))
	zc := 0.0
	if snap.ZeroCopy {
		zc = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.zeroCopy, prometheus.GaugeValue, zc)
}

// NewHandler returns an HTTP handler serving the pool metrics from a
// private registry, so callers do not pollute the default one.
func NewHandler(src StatsSource) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(src))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
