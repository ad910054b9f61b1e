package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "runbox_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"outcome"}, // outcome: "success", "crashed", "timed_out"
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_job_duration_ms",
			Help:    "Sandbox execution duration in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "runbox_active_jobs",
			Help: "Number of jobs currently executing",
		},
	)

	PeakMemory = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_peak_memory_mb",
			Help:    "Peak memory usage per job in MB",
			Buckets: []float64{8, 16, 32, 64, 128, 256, 512},
		},
	)

	SandboxCreationTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_sandbox_creation_ms",
			Help:    "Time to create a sandbox container",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000},
		},
	)

	ImagePullTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "runbox_image_pull_seconds",
			Help:    "Time to pull the sandbox image at startup",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	SweptSandboxes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runbox_swept_sandboxes_total",
			Help: "Sandboxes removed by the startup sweeper",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "runbox_rate_limit_hits_total",
			Help: "Total number of requests rejected by rate limiter",
		},
	)
)
