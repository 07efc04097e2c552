package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimsync",
		Subsystem: "import",
		Name:      "runs_total",
		Help:      "Total number of import runs broken down by outcome.",
	}, []string{"result"})

	importRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "claimsync",
		Subsystem: "import",
		Name:      "run_duration_seconds",
		Help:      "Duration of import runs.",
		Buckets: []float64{
			0.01, 0.05, 0.1,
			0.5, 1, 2, 5,
			10, 30, 60, 120,
		},
	}, []string{"result"})

	importDocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimsync",
		Subsystem: "import",
		Name:      "documents_total",
		Help:      "Total number of imported documents broken down by status.",
	}, []string{"status"})

	importRowsInsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "claimsync",
		Subsystem: "import",
		Name:      "rows_inserted_total",
		Help:      "Total number of rows inserted broken down by table.",
	}, []string{"table"})
)

func recordRun(result *Result, started time.Time) {
	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	importRunsTotal.WithLabelValues(outcome).Inc()
	importRunDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())

	if !result.Success {
		return
	}
	importDocumentsTotal.WithLabelValues(string(StatusValid)).Add(float64(result.Valid))
	importDocumentsTotal.WithLabelValues(string(StatusRejected)).Add(float64(result.RejectedCount()))
}

// recordRowsInserted adds the rows a run wrote, including those of a run
// that failed part way.
func recordRowsInserted(counts Counts) {
	for table, n := range counts.ByTable() {
		if n > 0 {
			importRowsInsertedTotal.WithLabelValues(string(table)).Add(float64(n))
		}
	}
}
