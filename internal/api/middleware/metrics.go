// metrics.go — Prometheus HTTP метрики моста: vault_http_requests_total,
// vault_http_request_duration_seconds. Метрики хранилища регистрируются
// в пакетах vault, objectstore, quota и handle.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_http_requests_total",
			Help: "Общее количество HTTP-запросов к медиа-хранилищу",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vault_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к медиа-хранилищу в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого маршрута.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			// Шаблон маршрута известен только после маршрутизации
			path := normalizePath(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// normalizePath возвращает шаблон маршрута chi вместо фактического пути
// (/api/v1/files/{id}, /blob/{token}) для ограничения кардинальности.
// Запросы без маршрута сводятся к одной метке.
func normalizePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return strings.TrimSuffix(pattern, "/*")
		}
	}
	return "unmatched"
}
