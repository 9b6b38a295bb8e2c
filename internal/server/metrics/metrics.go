// Package metrics exposes Prometheus counters for authentication operations.
package metrics

import (
	"net/http"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and the guard report outcomes to.
type Recorder interface {
	Observe(operation string, err error)
}

// Nop discards observations.
type Nop struct{}

func (Nop) Observe(string, error) {}

type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
}

// New builds a private registry with Go and process collectors plus the
// gophauth_auth_operations_total counter.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gophauth_auth_operations_total",
				Help: "Authentication operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
	}
	reg.MustRegister(m.operations)
	return m
}

// Observe counts one operation. The outcome is "ok" or the error kind.
func (m *Metrics) Observe(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = common.KindOf(err).String()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
