package compute

import (
	"sync/atomic"
	"time"
)

// =============================================================================
// STATS AGGREGATION
// =============================================================================
//
// The aggregator owns the monotonic per-tier counters; live figures
// (queue depth, busy workers) are read from the pools at snapshot time.
// Counters belong to the manager, not the pools, so they survive
// shutdown/initialize cycles and keep counting across pool generations.

// tierCounters holds one tier's monotonic totals. All fields are
// advanced atomically by the dispatch path that produced the outcome.
type tierCounters struct {
	completed       int64
	failed          int64
	rejected        int64
	totalDurationNS int64
}

func (c *tierCounters) recordSuccess(d time.Duration) {
	atomic.AddInt64(&c.completed, 1)
	atomic.AddInt64(&c.totalDurationNS, int64(d))
}

func (c *tierCounters) recordFailure() {
	atomic.AddInt64(&c.failed, 1)
}

func (c *tierCounters) recordRejected() {
	atomic.AddInt64(&c.rejected, 1)
}

// snapshot freezes the counters and, when a live pool is present, its
// queue and worker occupancy. With no pool the live fields stay zero.
func (c *tierCounters) snapshot(tier Tier, p *tierPool, configured int) TierStats {
	st := TierStats{
		Tier:           tier,
		CompletedTasks: atomic.LoadInt64(&c.completed),
		FailedTasks:    atomic.LoadInt64(&c.failed),
		RejectedTasks:  atomic.LoadInt64(&c.rejected),
		TotalDuration:  time.Duration(atomic.LoadInt64(&c.totalDurationNS)),
	}
	if st.CompletedTasks > 0 {
		st.AverageDuration = st.TotalDuration / time.Duration(st.CompletedTasks)
	}
	if p != nil {
		st.Workers = configured
		st.ActiveWorkers = p.activeCount()
		st.QueuedTasks = p.queuedCount()
	}
	return st
}

// statsAggregator is the pair of counter sets the manager carries across
// pool generations.
type statsAggregator struct {
	interactive tierCounters
	background  tierCounters
}

// TierStats is the point-in-time view of one tier.
type TierStats struct {
	Tier Tier `json:"tier"`

	// Workers is the configured worker bound; zero when the tier is not
	// initialized.
	Workers int `json:"workers"`

	// ActiveWorkers is how many workers are executing a task right now.
	ActiveWorkers int `json:"active_workers"`

	// QueuedTasks is the current pending-queue depth.
	QueuedTasks int `json:"queued_tasks"`

	CompletedTasks int64 `json:"completed_tasks"`
	FailedTasks    int64 `json:"failed_tasks"`
	RejectedTasks  int64 `json:"rejected_tasks"`

	// TotalDuration is the summed dispatch duration of completed tasks.
	TotalDuration time.Duration `json:"total_duration"`

	// AverageDuration is TotalDuration / CompletedTasks, zero when
	// nothing has completed.
	AverageDuration time.Duration `json:"average_duration"`
}

// Snapshot is the aggregate view handed to the dashboard and the metrics
// exporter. Derived fields are computed at snapshot time, never stored.
type Snapshot struct {
	Interactive TierStats `json:"interactive"`
	Background  TierStats `json:"background"`

	// TotalTasks is the completed-task sum across both tiers.
	TotalTasks int64 `json:"total_tasks"`

	// AverageDuration averages completed dispatches across both tiers.
	AverageDuration time.Duration `json:"average_duration"`

	// ZeroCopy reports whether buffer handoff is by reference. It is a
	// property of the configuration, present even before Initialize.
	ZeroCopy bool `json:"zero_copy"`
}

// aggregate folds the two tier views into one snapshot.
func aggregate(interactive, background TierStats, zeroCopy bool) Snapshot {
	s := Snapshot{
		Interactive: interactive,
		Background:  background,
		ZeroCopy:    zeroCopy,
	}
	s.TotalTasks = interactive.CompletedTasks + background.CompletedTasks
	if s.TotalTasks > 0 {
		total := interactive.TotalDuration + background.TotalDuration
		s.AverageDuration = total / time.Duration(s.TotalTasks)
	}
	return s
}
