// watcher.go — фоновое обновление состояния контроллера.
//
// Watcher выполняет две задачи:
//  1. Периодически обновляет статистику (квота могла измениться извне)
//  2. Следит за директорией scratch-хранилища через fsnotify и при
//     изменении индекса другим процессом перезагружает список
//
// Запускается как горутина с периодическим тикером (VAULT_STATS_INTERVAL).
package filestate

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gopi202005/cloud-vault-web/internal/storage/scratch"
)

// Prometheus метрики наблюдателя
var (
	// externalReloadsTotal — перезагрузки из-за изменений другим процессом.
	externalReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_external_reloads_total",
		Help: "Количество перезагрузок списка после изменения индекса другим процессом",
	})

	// statsRefreshTotal — периодические обновления статистики.
	statsRefreshTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_stats_refresh_total",
		Help: "Количество периодических обновлений статистики",
	})
)

// DefaultStatsInterval — период обновления статистики по умолчанию.
const DefaultStatsInterval = 30 * time.Second

// debounceDelay — задержка для объединения серии событий одной записи
// (создание temp файла, rename).
const debounceDelay = 200 * time.Millisecond

// MirrorIndex — индекс метаданных с зеркалом в scratch.
type MirrorIndex interface {
	// Changed сообщает, изменено ли зеркало другим процессом
	Changed() bool
	// Load перечитывает зеркало
	Load() error
}

// Watcher — фоновый наблюдатель.
type Watcher struct {
	ctrl       *Controller
	index      MirrorIndex
	scratchDir string
	interval   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	fsWatch *fsnotify.Watcher
}

// NewWatcher создаёт наблюдатель. scratchDir может быть пустым —
// тогда отслеживается только период статистики.
func NewWatcher(
	ctrl *Controller,
	index MirrorIndex,
	scratchDir string,
	interval time.Duration,
	logger *slog.Logger,
) *Watcher {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	return &Watcher{
		ctrl:       ctrl,
		index:      index,
		scratchDir: scratchDir,
		interval:   interval,
		logger:     logger.With(slog.String("component", "watcher")),
	}
}

// Start запускает фоновую горутину. Вызывается один раз при старте приложения.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.scratchDir != "" && w.index != nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("ошибка создания fsnotify: %w", err)
		}
		if err := fw.Add(w.scratchDir); err != nil {
			fw.Close()
			return fmt.Errorf("ошибка наблюдения за %s: %w", w.scratchDir, err)
		}
		w.fsWatch = fw
		events, errs = fw.Events, fw.Errors
	}

	wCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(wCtx, events, errs)

	w.logger.Info("Наблюдатель запущен",
		slog.String("interval", w.interval.String()),
		slog.String("scratch_dir", w.scratchDir),
	)
	return nil
}

// Stop останавливает фоновую горутину и дожидается её завершения.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done, fw := w.cancel, w.done, w.fsWatch
	w.cancel, w.fsWatch = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if fw != nil {
		fw.Close()
	}
	w.logger.Info("Наблюдатель остановлен")
}

// run — основной цикл фоновой горутины.
func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ctrl.RefreshStats(ctx)
			statsRefreshTotal.Inc()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if scratch.IsValueFile(filepath.Base(ev.Name)) {
				debounce = time.After(debounceDelay)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("Ошибка fsnotify", slog.String("error", err.Error()))
		case <-debounce:
			debounce = nil
			w.CheckExternal(ctx)
		}
	}
}

// CheckExternal перезагружает индекс и список, если зеркало индекса
// изменено другим процессом. Возвращает true, если была перезагрузка.
func (w *Watcher) CheckExternal(ctx context.Context) bool {
	if w.index == nil || !w.index.Changed() {
		return false
	}
	if err := w.index.Load(); err != nil {
		w.logger.Warn("Ошибка перечитывания индекса", slog.String("error", err.Error()))
	}
	externalReloadsTotal.Inc()
	w.logger.Info("Индекс изменён другим процессом, перезагрузка списка")
	// Ошибка загрузки уже отражена в состоянии контроллера
	_ = w.ctrl.Load(ctx)
	return true
}
