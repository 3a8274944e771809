// Package metrics counts kmsenv operations with Prometheus collectors.
//
// kmsenv is a short-lived CLI, so nothing is served over HTTP. When
// --metrics-file is set the registry is written once at exit in the text
// exposition format, ready for the node-exporter textfile collector.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultSuccess = "success"
	resultError   = "error"
)

// Metrics holds the kmsenv collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	operations     *prometheus.CounterVec
	kmsCalls       *prometheus.CounterVec
	legacyDecrypts prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kmsenv_operations_total",
			Help: "Secrets file operations by operation and result",
		}, []string{"operation", "result"}),
		kmsCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kmsenv_kms_calls_total",
			Help: "Remote KMS calls by call and result",
		}, []string{"call", "result"}),
		legacyDecrypts: factory.NewCounter(prometheus.CounterOpts{
			Name: "kmsenv_legacy_decrypt_total",
			Help: "Values decoded with the deprecated key-derived IV encoding",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveOperation records the outcome of a store operation.
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, result(err)).Inc()
}

// ObserveKMSCall records the outcome of a single KMS round-trip.
func (m *Metrics) ObserveKMSCall(call string, err error) {
	if m == nil {
		return
	}
	m.kmsCalls.WithLabelValues(call, result(err)).Inc()
}

// IncLegacyDecrypt counts one legacy-encoded value.
func (m *Metrics) IncLegacyDecrypt() {
	if m == nil {
		return
	}
	m.legacyDecrypts.Inc()
}

// WriteTextfile writes all collected metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}
