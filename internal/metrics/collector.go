// Package metrics exposes export run statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"surveyflat/internal/etl"
)

// Collector implements etl.Recorder on a private registry.
//
// Metrics:
//   - <ns>_export_runs_total{mode,status}
//   - <ns>_export_run_duration_seconds{mode}
//   - <ns>_export_records_read_total{mode}
//   - <ns>_export_rows_written_total{table}
//   - <ns>_export_anomalies_total{kind}
type Collector struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	recordsRead *prometheus.CounterVec
	rowsWritten *prometheus.CounterVec
	anomalies   *prometheus.CounterVec
}

var _ etl.Recorder = (*Collector)(nil)

// NewCollector registers the export metrics under namespace on a fresh registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "surveyflat"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "runs_total",
				Help:      "Export runs by mode and final status",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "run_duration_seconds",
				Help:      "Duration of export runs in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"mode"},
		),
		recordsRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "records_read_total",
				Help:      "Submission records read from sources",
			},
			[]string{"mode"},
		),
		rowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "rows_written_total",
				Help:      "Rows handed to export drivers, by table",
			},
			[]string{"table"},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "export",
				Name:      "anomalies_total",
				Help:      "Non-fatal record anomalies, by kind",
			},
			[]string{"kind"},
		),
	}
	c.registry.MustRegister(c.runsTotal, c.runDuration, c.recordsRead, c.rowsWritten, c.anomalies)
	return c
}

func (c *Collector) ObserveRun(mode etl.Mode, status string, d time.Duration, recordsRead, rowsWritten int) {
	c.runsTotal.WithLabelValues(string(mode), status).Inc()
	c.runDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
	c.recordsRead.WithLabelValues(string(mode)).Add(float64(recordsRead))
}

func (c *Collector) ObserveRows(table string, n int) {
	c.rowsWritten.WithLabelValues(table).Add(float64(n))
}

func (c *Collector) ObserveAnomaly(kind etl.ErrorKind) {
	c.anomalies.WithLabelValues(string(kind)).Inc()
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
