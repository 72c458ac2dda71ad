package store

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess  = "success"
	statusNotFound = "not_found"
	statusConflict = "conflict"
	statusInvalid  = "invalid"
	statusError    = "error"
)

// Metrics holds the Prometheus collectors a Store reports to.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	writeConflicts    *prometheus.CounterVec
}

// NewMetrics creates the store metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashdoc_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hashdoc_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		writeConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashdoc_write_conflicts_total",
				Help: "Total number of writes aborted by a concurrent modification",
			},
			[]string{"collection"},
		),
	}
}

// observe records one finished operation. It is a no-op on a nil receiver.
func (m *Metrics) observe(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, status(err)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) conflict(collection string) {
	if m == nil {
		return
	}
	m.writeConflicts.WithLabelValues(collection).Inc()
}

func status(err error) string {
	switch {
	case err == nil:
		return statusSuccess
	case errors.Is(err, ErrNotFound):
		return statusNotFound
	case errors.Is(err, ErrConcurrentModification):
		return statusConflict
	case errors.Is(err, ErrValidationFailed), errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrInvalidID):
		return statusInvalid
	}
	return statusError
}
