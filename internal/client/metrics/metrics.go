// Package metrics exposes Prometheus metrics for the sync engine: task
// ledger depth read from the cache store at scrape time, and counters of
// executor outcomes.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/models"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels of finished tasks.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Metrics owns a registry so that several vaults (and tests) do not
// collide on the global one. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	taskOutcomes *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	bytesMoved   *prometheus.CounterVec
}

func New(db dbx.DBTX) *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		taskOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gophvault_tasks_finished_total",
				Help: "Executed tasks by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		taskDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gophvault_task_duration_seconds",
				Help:    "Time spent executing a task against the cloud provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		bytesMoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gophvault_transferred_bytes_total",
				Help: "Encrypted bytes transferred by direction",
			},
			[]string{"direction"},
		),
	}
	reg.MustRegister(newLedgerCollector(db))
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// RecordTask records one finished task.
func (m *Metrics) RecordTask(kind models.TaskKind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.taskOutcomes.WithLabelValues(string(kind), outcome).Inc()
	m.taskDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// RecordTransfer counts bytes sent ("upload") or received ("download").
func (m *Metrics) RecordTransfer(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesMoved.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ledgerCollector queries task counts on every scrape.
type ledgerCollector struct {
	db          dbx.DBTX
	depth       *prometheus.Desc
	failed      *prometheus.Desc
	maintenance *prometheus.Desc
}

func newLedgerCollector(db dbx.DBTX) *ledgerCollector {
	return &ledgerCollector{
		db: db,
		depth: prometheus.NewDesc("gophvault_task_ledger_depth",
			"Task records per ledger", []string{"kind"}, nil),
		failed: prometheus.NewDesc("gophvault_failed_uploads",
			"Upload tasks with a recorded failure", nil, nil),
		maintenance: prometheus.NewDesc("gophvault_maintenance_mode",
			"1 while maintenance mode is enabled", nil, nil),
	}
}

func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.failed
	ch <- c.maintenance
}

var ledgerTables = map[models.TaskKind]string{
	models.TaskUpload:      "upload_tasks",
	models.TaskDownload:    "download_tasks",
	models.TaskReparent:    "reparent_tasks",
	models.TaskDeletion:    "deletion_tasks",
	models.TaskEnumeration: "enumeration_tasks",
}

func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, kind := range models.TaskKinds {
		var n float64
		if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+ledgerTables[kind]).Scan(&n); err != nil {
			ch <- prometheus.NewInvalidMetric(c.depth, err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, n, string(kind))
	}

	var failed float64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_tasks WHERE error_code IS NOT NULL`).Scan(&failed); err != nil {
		ch <- prometheus.NewInvalidMetric(c.failed, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.GaugeValue, failed)
	}

	var enabled float64
	if err := c.db.QueryRowContext(ctx, `SELECT enabled FROM maintenance_mode WHERE id = 1`).Scan(&enabled); err != nil {
		ch <- prometheus.NewInvalidMetric(c.maintenance, err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.maintenance, prometheus.GaugeValue, enabled)
	}
}
