// cache.go — кэширование оценки ёмкости с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package quota

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_quota_cache_hits_total",
		Help: "Общее количество попаданий в кэш оценки ёмкости.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_quota_cache_misses_total",
		Help: "Общее количество промахов кэша оценки ёмкости.",
	})
)

// cacheKey — единственный ключ кэша.
const cacheKey = "estimate"

// Cached — оценщик, кэширующий результат вложенного на ttl.
// Неизвестная оценка не кэшируется.
type Cached struct {
	next  Estimator
	cache *expirable.LRU[string, Estimate]
}

// NewCached оборачивает next. ttl <= 0 отключает кэширование.
func NewCached(next Estimator, ttl time.Duration) *Cached {
	c := &Cached{next: next}
	if ttl > 0 {
		c.cache = expirable.NewLRU[string, Estimate](1, nil, ttl)
	}
	return c
}

// Estimate возвращает оценку из кэша или запрашивает вложенный оценщик.
func (c *Cached) Estimate(ctx context.Context) Estimate {
	if c.cache == nil {
		return c.next.Estimate(ctx)
	}
	if est, ok := c.cache.Get(cacheKey); ok {
		cacheHitsTotal.Inc()
		return est
	}
	cacheMissesTotal.Inc()

	est := c.next.Estimate(ctx)
	if est.Known {
		c.cache.Add(cacheKey, est)
	}
	return est
}

// Invalidate сбрасывает кэш (после записи или удаления).
func (c *Cached) Invalidate() {
	if c.cache != nil {
		c.cache.Purge()
	}
}
