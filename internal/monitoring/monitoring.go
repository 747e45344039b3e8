// Package monitoring exposes sync run metrics to Prometheus.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/core"
)

// Registry is the application's own prometheus registry.
type Registry struct {
	*prometheus.Registry
}

// NewRegistry creates a registry with the go and process collectors.
func NewRegistry() *Registry {
	registry := &Registry{Registry: prometheus.NewRegistry()}
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Registry, promhttp.HandlerOpts{Registry: r.Registry})
}

// SyncMetrics records sync results. It implements core.Recorder.
type SyncMetrics struct {
	// Tables processed, by mode and outcome.
	tableOutcomes *prometheus.CounterVec
	// Rows moved by successful tables.
	tableRows *prometheus.CounterVec
	// How long each table takes.
	tableDuration *prometheus.HistogramVec
	// How long a whole run takes.
	runDuration *prometheus.HistogramVec
	// Unix time of the last finished run.
	lastRun prometheus.Gauge
	// 1 if the last run had no failed table, else 0.
	lastRunSuccess prometheus.Gauge
}

// NewSyncMetrics creates the sync metrics and registers them.
func NewSyncMetrics(registry *Registry) *SyncMetrics {
	m := &SyncMetrics{
		tableOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesync_tables_total",
			Help: "Tables processed, by mode and outcome",
		}, []string{"mode", "outcome"}),
		tableRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tablesync_rows_total",
			Help: "Rows moved by successfully processed tables",
		}, []string{"mode", "table"}),
		tableDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tablesync_table_duration_seconds",
			Help:    "Duration of processing one table",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16), // 0.01s to ~327s
		}, []string{"mode"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tablesync_run_duration_seconds",
			Help:    "Duration of a sync run",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16), // 0.1s to ~55m
		}, []string{"mode", "trigger"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablesync_last_run_timestamp_seconds",
			Help: "Unix time the last sync run finished",
		}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tablesync_last_run_success",
			Help: "1 if the last sync run had no failed table, 0 otherwise",
		}),
	}
	registry.MustRegister(
		m.tableOutcomes,
		m.tableRows,
		m.tableDuration,
		m.runDuration,
		m.lastRun,
		m.lastRunSuccess,
	)
	return m
}

// RecordTable implements core.Recorder.
func (m *SyncMetrics) RecordTable(mode config.Mode, result core.TableResult) {
	m.tableOutcomes.WithLabelValues(string(mode), string(result.Outcome)).Inc()
	m.tableDuration.WithLabelValues(string(mode)).Observe(result.Duration.Seconds())
	if result.Outcome == core.OutcomeSucceeded {
		m.tableRows.WithLabelValues(string(mode), result.Table).Add(float64(result.Rows))
	}
}

// RecordRun implements core.Recorder.
func (m *SyncMetrics) RecordRun(report *core.RunReport) {
	m.runDuration.WithLabelValues(string(report.Mode), string(report.Trigger)).Observe(report.Duration().Seconds())
	m.lastRun.Set(float64(report.Finished.Unix()))
	if report.Failed() {
		m.lastRunSuccess.Set(0)
	} else {
		m.lastRunSuccess.Set(1)
	}
}
