// Точка входа медиа-хранилища — локального хранилища файлов
// с HTTP-мостом для UI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/gopi202005/cloud-vault-web/internal/api/handlers"
	"github.com/gopi202005/cloud-vault-web/internal/config"
	"github.com/gopi202005/cloud-vault-web/internal/filestate"
	"github.com/gopi202005/cloud-vault-web/internal/handle"
	"github.com/gopi202005/cloud-vault-web/internal/quota"
	"github.com/gopi202005/cloud-vault-web/internal/server"
	"github.com/gopi202005/cloud-vault-web/internal/service"
	"github.com/gopi202005/cloud-vault-web/internal/storage/filestore"
	"github.com/gopi202005/cloud-vault-web/internal/storage/metaindex"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
	"github.com/gopi202005/cloud-vault-web/internal/storage/scratch"
	"github.com/gopi202005/cloud-vault-web/internal/storage/sqlitestore"
	"github.com/gopi202005/cloud-vault-web/internal/vault"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Медиа-хранилище запускается",
		slog.String("version", config.Version),
		slog.String("engine", cfg.Engine),
		slog.String("data_dir", cfg.DataDir),
		slog.String("addr", cfg.Addr()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Инициализация компонентов ---

	// 1. Хранилище объектов. Открывается лениво при первой операции;
	// ошибка инициализации не останавливает процесс (чтение из индекса).
	engine, dataDir := newEngine(cfg)
	store := objectstore.New(engine, logger)

	// 2. Scratch-хранилище и индекс метаданных
	sc, err := scratch.New(filepath.Join(cfg.DataDir, "scratch"), cfg.ScratchLimit)
	if err != nil {
		logger.Error("Ошибка инициализации scratch-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	idx := metaindex.New(sc, logger)
	if err := idx.Load(); err != nil {
		// Повреждённое зеркало восстанавливается сверкой
		logger.Warn("Ошибка загрузки индекса метаданных", slog.String("error", err.Error()))
	}

	// 3. Оценка квоты и проверка допуска
	estimator := quota.NewCached(quota.NewDirEstimator(cfg.DataDir, cfg.QuotaBytes, logger), cfg.QuotaCacheTTL)
	gate := quota.NewGate(estimator)

	// 4. Фасад хранилища
	handles := handle.NewRegistry(cfg.BaseURL())
	v := vault.New(store, idx, gate, estimator, handles, logger, vault.WithMaxFileSize(cfg.MaxFileSize))

	// Сверка при старте: восстанавливает индекс после сбоев предыдущего запуска
	if report, err := v.Reconcile(ctx); err != nil {
		logger.Warn("Хранилище объектов недоступно при старте", slog.String("error", err.Error()))
	} else {
		logger.Info("Сверка при старте выполнена",
			slog.Int("missing", len(report.Missing)),
			slog.Int("orphaned", len(report.Orphaned)),
		)
	}

	// 5. Контроллер состояния
	ctrl := filestate.New(v, logger)
	if err := ctrl.Load(ctx); err != nil {
		logger.Warn("Список файлов не загружен", slog.String("error", err.Error()))
	}
	stats := ctrl.Snapshot().Stats
	logger.Info("Состояние загружено",
		slog.Int("files", stats.TotalFiles),
		slog.String("size", humanize.IBytes(uint64(stats.TotalSize))),
		slog.String("quota", humanize.IBytes(uint64(stats.StorageQuota))),
	)

	// 6. Фоновые процессы

	// 6.1 Наблюдатель: статистика и изменения индекса другим процессом
	watcher := filestate.NewWatcher(ctrl, idx, sc.Dir(), cfg.StatsInterval, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Error("Ошибка запуска наблюдателя", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6.2 Reconciliation — фоновая сверка
	reconcileSvc := service.NewReconcileService(v, store, cfg.ReconcileInterval,
		func(ctx context.Context) { _ = ctrl.Load(ctx) }, logger)
	reconcileSvc.Start(ctx)

	// 7. Handlers
	api := handlers.NewAPIHandler(
		handlers.NewFilesHandler(ctrl, v, cfg.MaxFileSize),
		handlers.NewSystemHandler(ctrl, v),
		handlers.NewMaintenanceHandler(reconcileSvc),
		handlers.NewBlobHandler(handles),
		handlers.NewHealthHandler(dataDir, idx, v),
	)

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(server.Options{
		Addr:            cfg.Addr(),
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger, api)

	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	watcher.Stop()
	reconcileSvc.Stop()
	ctrl.Close()
	if n := handles.ReleaseAll(); n > 0 {
		logger.Warn("Освобождены неосвобождённые ссылки", slog.Int("count", n))
	}
	if err := store.Close(); err != nil {
		logger.Error("Ошибка закрытия хранилища", slog.String("error", err.Error()))
	}

	logger.Info("Медиа-хранилище остановлено")
	if runErr != nil {
		os.Exit(1)
	}
}

// newEngine выбирает движок хранилища объектов. Возвращает также
// директорию данных для проверки готовности (пустая для memory).
func newEngine(cfg *config.Config) (objectstore.Engine, string) {
	switch cfg.Engine {
	case config.EngineSQLite:
		return sqlitestore.NewEngine(filepath.Join(cfg.DataDir, "vault.db")), cfg.DataDir
	case config.EngineMemory:
		return objectstore.NewMemoryEngine(), ""
	default:
		dir := filepath.Join(cfg.DataDir, "files")
		return filestore.NewEngine(dir), dir
	}
}
