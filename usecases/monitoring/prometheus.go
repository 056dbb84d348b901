//  _   _     _                                _
// | |_(_) __| | ___ _ __ ___   __ _ _ __| | __
// | __| |/ _` |/ _ \ '_ ` _ \ / _` | '__| |/ /
// | |_| | (_| |  __/ | | | | | (_| | |  |   <
//  \__|_|\__,_|\___|_| |_| |_|\__,_|_|  |_|\_\
//
//  Copyright © 2026 Tidemark B.V. All rights reserved.
//
//  CONTACT: hello@tidemark.io
//

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics aggregates every metric vector of the engine. A nil
// *PrometheusMetrics is valid everywhere and turns all observations into
// no-ops, so components never need to guard against disabled monitoring.
type PrometheusMetrics struct {
	Registry *prometheus.Registry

	// dirty memory accounting, labeled by pool (regular/system/streaming)
	DirtyBytes            *prometheus.GaugeVec
	VirtualDirtyBytes     *prometheus.GaugeVec
	RequestsBlockedMemory *prometheus.GaugeVec
	RequestsBlockedTotal  *prometheus.CounterVec

	// flush pipeline, labeled by pool
	PendingFlushes     *prometheus.GaugeVec
	PendingFlushBytes  *prometheus.GaugeVec
	FlushesCompleted   *prometheus.CounterVec
	FlushesFailed      *prometheus.CounterVec
	FlushShares        *prometheus.GaugeVec

	// write/read path totals
	TotalWrites         prometheus.Counter
	TotalWritesFailed   prometheus.Counter
	TotalWritesTimedout prometheus.Counter
	TotalReads          prometheus.Counter
	TotalReadsFailed    prometheus.Counter

	// read admission, labeled by pool
	ActiveReads        *prometheus.GaugeVec
	QueuedReads        *prometheus.GaugeVec
	ReadQueueOverloads *prometheus.CounterVec

	// locking
	CellLockAcquisitions prometheus.Counter
	CellLockPending      prometheus.Gauge

	// memtables, labeled by keyspace and table
	MemtableSize *prometheus.GaugeVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		Registry: registry,

		DirtyBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_memory_dirty_bytes",
			Help: "Current size of non-reclaimable dirty memory per pool.",
		}, []string{"pool"}),
		VirtualDirtyBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_memory_virtual_dirty_bytes",
			Help: "Logically spoken-for dirty memory per pool, drives flush pressure.",
		}, []string{"pool"}),
		RequestsBlockedMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_requests_blocked_memory_current",
			Help: "Requests currently blocked on the pool's memory quota.",
		}, []string{"pool"}),
		RequestsBlockedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidemark_requests_blocked_memory_total",
			Help: "Requests ever blocked on the pool's memory quota.",
		}, []string{"pool"}),

		PendingFlushes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_memtables_pending_flushes",
			Help: "Memtables currently being flushed per pool.",
		}, []string{"pool"}),
		PendingFlushBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_memtables_pending_flush_bytes",
			Help: "Bytes in memtables currently being flushed per pool.",
		}, []string{"pool"}),
		FlushesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidemark_flushes_completed_total",
			Help: "Completed memtable flushes per pool.",
		}, []string{"pool"}),
		FlushesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidemark_flushes_failed_total",
			Help: "Failed memtable flushes per pool.",
		}, []string{"pool"}),
		FlushShares: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_flush_scheduler_shares",
			Help: "Scheduling shares most recently computed by the backlog controller.",
		}, []string{"pool"}),

		TotalWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_writes_total",
			Help: "Successful write operations.",
		}),
		TotalWritesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_writes_failed_total",
			Help: "Failed write operations.",
		}),
		TotalWritesTimedout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_writes_timedout_total",
			Help: "Write operations failed due to a timeout.",
		}),
		TotalReads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_reads_total",
			Help: "Successful read operations.",
		}),
		TotalReadsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_reads_failed_total",
			Help: "Failed read operations.",
		}),

		ActiveReads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_active_reads",
			Help: "Currently admitted read operations per pool.",
		}, []string{"pool"}),
		QueuedReads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_queued_reads",
			Help: "Read operations waiting for admission per pool.",
		}, []string{"pool"}),
		ReadQueueOverloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tidemark_read_queue_overloads_total",
			Help: "Reads rejected because the admission wait queue was full.",
		}, []string{"pool"}),

		CellLockAcquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tidemark_counter_cell_lock_acquisitions_total",
			Help: "Acquired counter cell locks.",
		}),
		CellLockPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tidemark_counter_cell_lock_pending",
			Help: "Counter updates currently waiting for a cell lock.",
		}),

		MemtableSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tidemark_memtable_size_bytes",
			Help: "Active memtable size per table.",
		}, []string{"keyspace", "table"}),
	}

	registry.MustRegister(
		pm.DirtyBytes, pm.VirtualDirtyBytes,
		pm.RequestsBlockedMemory, pm.RequestsBlockedTotal,
		pm.PendingFlushes, pm.PendingFlushBytes,
		pm.FlushesCompleted, pm.FlushesFailed, pm.FlushShares,
		pm.TotalWrites, pm.TotalWritesFailed, pm.TotalWritesTimedout,
		pm.TotalReads, pm.TotalReadsFailed,
		pm.ActiveReads, pm.QueuedReads, pm.ReadQueueOverloads,
		pm.CellLockAcquisitions, pm.CellLockPending,
		pm.MemtableSize,
	)

	return pm
}
