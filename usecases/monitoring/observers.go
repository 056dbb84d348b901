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

import "github.com/prometheus/client_golang/prometheus"

func (pm *PrometheusMetrics) ObserveDirtyMemory(pool string, real, virtual int64) {
	if pm == nil {
		return
	}
	pm.DirtyBytes.With(prometheus.Labels{"pool": pool}).Set(float64(real))
	pm.VirtualDirtyBytes.With(prometheus.Labels{"pool": pool}).Set(float64(virtual))
}

func (pm *PrometheusMetrics) RequestBlocked(pool string) {
	if pm == nil {
		return
	}
	pm.RequestsBlockedMemory.With(prometheus.Labels{"pool": pool}).Inc()
	pm.RequestsBlockedTotal.With(prometheus.Labels{"pool": pool}).Inc()
}

func (pm *PrometheusMetrics) RequestUnblocked(pool string) {
	if pm == nil {
		return
	}
	pm.RequestsBlockedMemory.With(prometheus.Labels{"pool": pool}).Dec()
}

func (pm *PrometheusMetrics) FlushStarted(pool string, bytes int64) {
	if pm == nil {
		return
	}
	pm.PendingFlushes.With(prometheus.Labels{"pool": pool}).Inc()
	pm.PendingFlushBytes.With(prometheus.Labels{"pool": pool}).Add(float64(bytes))
}

func (pm *PrometheusMetrics) FlushFinished(pool string, bytes int64, failed bool) {
	if pm == nil {
		return
	}
	pm.PendingFlushes.With(prometheus.Labels{"pool": pool}).Dec()
	pm.PendingFlushBytes.With(prometheus.Labels{"pool": pool}).Sub(float64(bytes))
	if failed {
		pm.FlushesFailed.With(prometheus.Labels{"pool": pool}).Inc()
	} else {
		pm.FlushesCompleted.With(prometheus.Labels{"pool": pool}).Inc()
	}
}

func (pm *PrometheusMetrics) SetFlushShares(pool string, shares float64) {
	if pm == nil {
		return
	}
	pm.FlushShares.With(prometheus.Labels{"pool": pool}).Set(shares)
}

func (pm *PrometheusMetrics) WriteObserved(failed, timedout bool) {
	if pm == nil {
		return
	}
	if !failed {
		pm.TotalWrites.Inc()
		return
	}
	pm.TotalWritesFailed.Inc()
	if timedout {
		pm.TotalWritesTimedout.Inc()
	}
}

func (pm *PrometheusMetrics) ReadObserved(failed bool) {
	if pm == nil {
		return
	}
	if failed {
		pm.TotalReadsFailed.Inc()
	} else {
		pm.TotalReads.Inc()
	}
}

func (pm *PrometheusMetrics) ReadAdmitted(pool string) {
	if pm == nil {
		return
	}
	pm.ActiveReads.With(prometheus.Labels{"pool": pool}).Inc()
}

func (pm *PrometheusMetrics) ReadReleased(pool string) {
	if pm == nil {
		return
	}
	pm.ActiveReads.With(prometheus.Labels{"pool": pool}).Dec()
}

func (pm *PrometheusMetrics) ReadQueued(pool string) {
	if pm == nil {
		return
	}
	pm.QueuedReads.With(prometheus.Labels{"pool": pool}).Inc()
}

func (pm *PrometheusMetrics) ReadDequeued(pool string) {
	if pm == nil {
		return
	}
	pm.QueuedReads.With(prometheus.Labels{"pool": pool}).Dec()
}

func (pm *PrometheusMetrics) ReadQueueOverloaded(pool string) {
	if pm == nil {
		return
	}
	pm.ReadQueueOverloads.With(prometheus.Labels{"pool": pool}).Inc()
}

func (pm *PrometheusMetrics) CellLockAcquired() {
	if pm == nil {
		return
	}
	pm.CellLockAcquisitions.Inc()
}

func (pm *PrometheusMetrics) CellLockWaiting(delta float64) {
	if pm == nil {
		return
	}
	pm.CellLockPending.Add(delta)
}

func (pm *PrometheusMetrics) SetMemtableSize(keyspace, table string, size int64) {
	if pm == nil {
		return
	}
	pm.MemtableSize.With(prometheus.Labels{
		"keyspace": keyspace,
		"table":    table,
	}).Set(float64(size))
}
