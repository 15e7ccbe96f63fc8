// Package metrics 注册并维护同步引擎的 Prometheus 指标
// 指标通过私有端口的 /metrics 暴露
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncSessions 同步会话总数，按结果分类
	SyncSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "sessions_total",
		Help:      "Total number of sync sessions by result.",
	}, []string{"result"})

	// RecordsApplied 已落库的远端变更记录数
	RecordsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "records_applied_total",
		Help:      "Total number of remote change records applied.",
	})

	// RecordsBuffered 因因果依赖缺失而暂存的记录数
	RecordsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "records_buffered_total",
		Help:      "Total number of records parked waiting for causal dependencies.",
	})

	// RecordsDuplicated 重放丢弃的记录数
	RecordsDuplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "records_duplicated_total",
		Help:      "Total number of duplicate records dropped on ingest.",
	})

	// LocalChanges 本地写入的变更记录数
	LocalChanges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "local_changes_total",
		Help:      "Total number of locally recorded changes.",
	})

	// CompactedRecords 压缩删除的记录数
	CompactedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "compacted_records_total",
		Help:      "Total number of log records removed by compaction.",
	})

	// BatchRecords 单批次记录数分布
	BatchRecords = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vault_sync",
		Name:      "batch_records",
		Help:      "Number of records per exchanged batch.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	// RelayMessages 中继信箱操作数，按操作分类
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vault_sync",
		Name:      "relay_messages_total",
		Help:      "Total number of relay mailbox operations.",
	}, []string{"op"})

	// SessionDuration 会话耗时分布
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vault_sync",
		Name:      "session_duration_seconds",
		Help:      "Duration of completed sync sessions.",
		Buckets:   prometheus.DefBuckets,
	})
)

// ObserveSession 记录一次会话结束
func ObserveSession(result string, started time.Time) {
	SyncSessions.WithLabelValues(result).Inc()
	if !started.IsZero() {
		SessionDuration.Observe(time.Since(started).Seconds())
	}
}

// ObserveIngest 记录一次批次摄入结果
func ObserveIngest(applied, buffered, duplicates int) {
	if applied > 0 {
		RecordsApplied.Add(float64(applied))
	}
	if buffered > 0 {
		RecordsBuffered.Add(float64(buffered))
	}
	if duplicates > 0 {
		RecordsDuplicated.Add(float64(duplicates))
	}
}
