package gemmbed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sweep and launch metrics. The CLI can serve these; library users get
// them for free on the default registry.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemmbed_runs_total",
		Help: "Testbed runs by outcome (passed, failed, skipped, waived)",
	}, []string{"kernel", "outcome"})

	kernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemmbed_kernel_duration_seconds",
		Help:    "Wall time of kernel launch plus synchronization",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	verifyMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemmbed_verify_mismatches_total",
		Help: "Reference comparison mismatches by tensor",
	}, []string{"kernel", "tensor"})
)
