package quota

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// Gate — предварительная проверка допуска записи.
// Проверка и сама запись не атомарны: параллельная запись может
// исчерпать место между ними, тогда ошибку вернёт хранилище.
type Gate struct {
	estimator Estimator
}

// NewGate создаёт проверку поверх оценщика.
func NewGate(estimator Estimator) *Gate {
	return &Gate{estimator: estimator}
}

// CanStore возвращает true, если available = Quota - Used строго больше size.
// При неизвестной ёмкости допускает запись.
func (g *Gate) CanStore(ctx context.Context, size int64) bool {
	est := g.estimator.Estimate(ctx)
	if !est.Known {
		return true
	}
	return est.Quota-est.Used > size
}

// Admit возвращает model.ErrQuotaExceeded, если запись size байт не допускается.
func (g *Gate) Admit(ctx context.Context, size int64) error {
	est := g.estimator.Estimate(ctx)
	if !est.Known || est.Quota-est.Used > size {
		return nil
	}
	return fmt.Errorf("%w: требуется %s, доступно %s", model.ErrQuotaExceeded,
		humanize.IBytes(uint64(max(size, 0))), humanize.IBytes(uint64(est.Available())))
}
