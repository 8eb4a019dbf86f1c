package shardpager

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of pagers and exporters.
type Metrics struct {
	Requests  *prometheus.CounterVec
	Duration  *prometheus.HistogramVec
	PollWaits *prometheus.CounterVec
	PageRows  prometheus.Histogram

	ExportFiles   *prometheus.CounterVec
	ExportRecords *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "shardpager_requests_total",
			Help: "Number of page and export requests by outcome",
		}, []string{"mode", "status"}), // mode: display/export, status: ok or an error kind
		Duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shardpager_request_duration_seconds",
			Help:    "Time spent assembling a page or an export",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		PollWaits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "shardpager_poll_waits_total",
			Help: "Number of poll intervals slept waiting for partition results",
		}, []string{"mode"}),
		PageRows: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "shardpager_page_rows",
			Help:    "Number of records returned per page",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		ExportFiles: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "shardpager_export_files_total",
			Help: "Number of export chunk files written",
		}, []string{"format"}),
		ExportRecords: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "shardpager_export_records_total",
			Help: "Number of records written to export files",
		}, []string{"format"}),
	}
}

func (m *Metrics) observeRequest(mode string, err error) {
	status := "ok"
	if err != nil {
		status = string(KindOf(err))
		if status == "" {
			status = "error"
		}
	}
	m.Requests.WithLabelValues(mode, status).Inc()
}
