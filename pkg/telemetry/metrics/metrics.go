// Package metrics provides Prometheus instrumentation for TegDB's engine,
// executor, and facade. Metrics are ambient observability only — they never
// influence planning or execution and are not a SQL-visible feature.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Log / engine metrics
	LogAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tegdb_log_appends_total",
		Help: "Total number of entries appended to the log file.",
	})

	LogSyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tegdb_log_syncs_total",
		Help: "Total number of fsync calls issued against the log file.",
	})

	LogBytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tegdb_log_bytes_written_total",
		Help: "Total bytes appended to the log file, including entry framing.",
	})

	CompactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tegdb_compactions_total",
		Help: "Total number of completed log compactions.",
	})

	CompactionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tegdb_compaction_duration_seconds",
		Help:    "Wall-clock time spent rewriting the log during compaction.",
		Buckets: prometheus.DefBuckets,
	})

	EngineIndexSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tegdb_engine_index_keys",
		Help: "Number of live keys currently held in the in-memory index.",
	})

	// Transaction metrics
	TxCommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tegdb_tx_commits_total",
		Help: "Total number of committed transactions.",
	})

	TxRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tegdb_tx_rollbacks_total",
		Help: "Total number of rolled-back transactions.",
	})

	TxCommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tegdb_tx_commit_duration_seconds",
		Help:    "Time spent in transaction commit, including fsync.",
		Buckets: prometheus.DefBuckets,
	})

	// Query execution metrics, broken out by plan kind so PrimaryKeyLookup
	// vs TableScan cost is visible without a full query planner.
	QueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tegdb_query_duration_seconds",
		Help:    "Query execution duration in seconds by plan kind.",
		Buckets: prometheus.DefBuckets,
	}, []string{"plan"})

	RowsReturnedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tegdb_rows_returned_total",
		Help: "Total number of rows streamed to callers by plan kind.",
	}, []string{"plan"})

	ConstraintViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tegdb_constraint_violations_total",
		Help: "Total number of constraint violations raised during DML.",
	}, []string{"kind"})
)

// Registry is the collector registry TegDB registers its metrics against. A
// dedicated registry (rather than the global default) keeps multiple
// in-process database handles from colliding on duplicate registration.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		LogAppendsTotal,
		LogSyncsTotal,
		LogBytesWritten,
		CompactionsTotal,
		CompactionDuration,
		EngineIndexSize,
		TxCommitsTotal,
		TxRollbacksTotal,
		TxCommitDuration,
		QueryDuration,
		RowsReturnedTotal,
		ConstraintViolationsTotal,
	)
}
