// FILE: dozyr-core/internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счетчики операций ядра: и успехи, и отказы, с разбивкой по операции.
var (
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dozyr",
		Subsystem: "core",
		Name:      "operations_total",
		Help:      "Число операций оркестратора по имени и результату.",
	}, []string{"operation", "result"})

	ReleasedCents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dozyr",
		Subsystem: "escrow",
		Name:      "released_cents_total",
		Help:      "Суммарные выплаты исполнителям в центах (нетто).",
	})

	FeeCents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dozyr",
		Subsystem: "escrow",
		Name:      "fee_cents_total",
		Help:      "Суммарно удержанная комиссия платформы в центах.",
	})
)

// Observe фиксирует исход операции оркестратора.
func Observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Operations.WithLabelValues(operation, result).Inc()
}
