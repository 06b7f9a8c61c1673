// reconcile.go — сервис фоновой сверки (Reconciliation) хранилища.
//
// Reconciliation выполняет:
//   - сверку индекса метаданных с хранилищем объектов (missing / orphaned)
//   - удаление содержимого без метаданных (orphaned_payload)
//   - проверку размера и контрольной суммы содержимого
//
// Запускается как горутина с периодическим тикером (VAULT_RECONCILE_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gopi202005/cloud-vault-web/internal/storage/metaindex"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vault_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// IndexReconciler — сверка индекса с хранилищем (vault.Vault).
type IndexReconciler interface {
	Reconcile(ctx context.Context) (metaindex.DriftReport, error)
}

// ObjectMaintainer — обслуживание хранилища объектов (objectstore.Store).
type ObjectMaintainer interface {
	Sweep(ctx context.Context) ([]string, error)
	Verify(ctx context.Context) ([]objectstore.Mismatch, error)
}

// Result — результат одного запуска reconciliation.
type Result struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	// Missing — записи хранилища, восстановленные в индексе
	Missing []string `json:"missing"`
	// Orphaned — записи индекса без записи в хранилище, удалённые из индекса
	Orphaned []string `json:"orphaned"`
	// SweptPayloads — удалённые файлы содержимого без метаданных
	SweptPayloads []string `json:"sweptPayloads"`
	// Mismatches — нарушения целостности содержимого
	Mismatches []objectstore.Mismatch `json:"mismatches"`
	// Errors — ошибки отдельных фаз
	Errors []string `json:"errors,omitempty"`
}

// Issues возвращает общее количество обнаруженных проблем.
func (r *Result) Issues() int {
	return len(r.Missing) + len(r.Orphaned) + len(r.SweptPayloads) + len(r.Mismatches)
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	index    IndexReconciler
	objects  ObjectMaintainer
	interval time.Duration
	// onChange вызывается, если сверка изменила индекс
	onChange func(ctx context.Context)
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	last      *Result
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис reconciliation. onChange может быть nil.
func NewReconcileService(
	index IndexReconciler,
	objects ObjectMaintainer,
	interval time.Duration,
	onChange func(ctx context.Context),
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		index:    index,
		objects:  objects,
		interval: interval,
		onChange: onChange,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновой процесс reconciliation.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// LastResult возвращает результат последнего завершённого запуска или nil.
func (rs *ReconcileService) LastResult() *Result {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.last
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Потокобезопасен: если reconciliation уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*Result, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	result := &Result{StartedAt: time.Now().UTC()}
	rs.logger.Info("Reconciliation начата")

	// Сначала содержимое без метаданных: иначе сверка индекса его не видит
	swept, err := rs.objects.Sweep(ctx)
	if err != nil {
		rs.phaseError(result, "sweep", err)
	}
	result.SweptPayloads = swept

	report, err := rs.index.Reconcile(ctx)
	if err != nil {
		rs.phaseError(result, "index", err)
	}
	result.Missing = report.Missing
	result.Orphaned = report.Orphaned

	mismatches, err := rs.objects.Verify(ctx)
	if err != nil {
		rs.phaseError(result, "verify", err)
	}
	result.Mismatches = mismatches

	result.CompletedAt = time.Now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)

	// Обновляем Prometheus метрики
	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	reconcileIssuesTotal.WithLabelValues("missing").Add(float64(len(result.Missing)))
	reconcileIssuesTotal.WithLabelValues("orphaned").Add(float64(len(result.Orphaned)))
	reconcileIssuesTotal.WithLabelValues("orphaned_payload").Add(float64(len(result.SweptPayloads)))
	for _, m := range result.Mismatches {
		reconcileIssuesTotal.WithLabelValues(m.Kind).Inc()
		rs.logger.Warn("Нарушение целостности содержимого",
			slog.String("file_id", m.ID),
			slog.String("type", m.Kind),
		)
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("issues", result.Issues()),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", duration),
	)

	rs.mu.Lock()
	rs.last = result
	rs.mu.Unlock()

	if report.HasDrift() && rs.onChange != nil {
		rs.onChange(ctx)
	}
	return result, false
}

func (rs *ReconcileService) phaseError(result *Result, phase string, err error) {
	result.Errors = append(result.Errors, phase+": "+err.Error())
	rs.logger.Error("Ошибка фазы reconciliation",
		slog.String("phase", phase),
		slog.String("error", err.Error()),
	)
}
