package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry              *prometheus.Registry
	jobsTotal             *prometheus.CounterVec
	jobDuration           *prometheus.HistogramVec
	activeJobs            prometheus.Gauge
	conversionErrorsTotal *prometheus.CounterVec
	outputBytesTotal      prometheus.Counter
	bytesSavedTotal       prometheus.Counter
	computeTimeMSTotal    prometheus.Counter
	peakRSSBytes          prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avifconv_worker_jobs_total",
			Help: "Total worker conversion jobs by source format and final status.",
		}, []string{"format", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "avifconv_worker_job_duration_seconds",
			Help:    "Total processing duration for each conversion job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"format", "status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "avifconv_worker_active_jobs",
			Help: "Current number of active conversion jobs in the worker.",
		}),
		conversionErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avifconv_worker_conversion_errors_total",
			Help: "Failed conversions by error kind.",
		}, []string{"kind"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avifconv_worker_output_bytes_total",
			Help: "Total AVIF bytes emitted across all successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avifconv_worker_bytes_saved_total",
			Help: "Total bytes saved against the source images across successful jobs.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "avifconv_worker_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
		peakRSSBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "avifconv_worker_codec_peak_rss_bytes",
			Help:    "Peak resident set size observed for codec subprocesses.",
			Buckets: prometheus.ExponentialBuckets(16<<20, 2, 8),
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.conversionErrorsTotal,
		m.outputBytesTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
		m.peakRSSBytes,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
