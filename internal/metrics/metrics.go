// Package metrics holds the Prometheus collectors for ledger activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyledger_appends_total",
		Help: "Contract append attempts by result.",
	}, []string{"result"})

	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyledger_validations_total",
		Help: "Chain validations by outcome.",
	}, []string{"outcome"})

	FileOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyledger_file_operations_total",
		Help: "Ledger file loads and saves by status.",
	}, []string{"op", "status"})

	RecordsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policyledger_records",
		Help: "Contracts currently in the ledger, genesis excluded.",
	})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policyledger_http_requests_total",
		Help: "HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "policyledger_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Append results.
const (
	ResultOK        = "ok"
	ResultInvalid   = "invalid"
	ResultDuplicate = "duplicate"
)

func RecordAppend(result string) {
	AppendsTotal.WithLabelValues(result).Inc()
}

func RecordValidation(valid bool) {
	if valid {
		ValidationsTotal.WithLabelValues("valid").Inc()
	} else {
		ValidationsTotal.WithLabelValues("broken").Inc()
	}
}

func RecordFileOp(op string, err error) {
	if err != nil {
		FileOpsTotal.WithLabelValues(op, "failure").Inc()
	} else {
		FileOpsTotal.WithLabelValues(op, "success").Inc()
	}
}

func SetRecords(n int) {
	RecordsGauge.Set(float64(n))
}
