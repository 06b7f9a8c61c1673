package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики фасада.
var (
	filesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_files_total",
		Help: "Количество файлов в индексе метаданных",
	})

	filesBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_files_bytes",
		Help: "Суммарный размер файлов по индексу метаданных",
	})

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_operations_total",
			Help: "Общее количество операций фасада",
		},
		[]string{"operation", "result"},
	)

	driftTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_index_drift_total",
			Help: "Количество расхождений индекса с хранилищем объектов",
		},
		[]string{"type"},
	)

	indexFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_index_write_failures_total",
		Help: "Количество ошибок записи индекса метаданных после записи в хранилище",
	})
)

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(op, result).Inc()
}
