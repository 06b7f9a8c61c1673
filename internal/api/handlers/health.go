// health.go — обработчики health endpoints.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gopi202005/cloud-vault-web/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// IndexReadinessChecker — интерфейс для проверки готовности индекса.
type IndexReadinessChecker interface {
	IsReady() bool
}

// StoreAvailability — интерфейс для проверки инициализации хранилища объектов.
type StoreAvailability interface {
	Available() bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (для проверки FS)
	dataDir string
	idx     IndexReadinessChecker
	store   StoreAvailability
}

// NewHealthHandler создаёт обработчик health endpoints.
// Пустой dataDir отключает проверку файловой системы (движок memory).
func NewHealthHandler(dataDir string, idx IndexReadinessChecker, store StoreAvailability) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		idx:     idx,
		store:   store,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "media-vault",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: файловая система, хранилище объектов, готовность индекса.
// Недоступное хранилище при готовом индексе — degraded (чтение из индекса).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	storeCheck := map[string]any{"status": "ok"}
	if !h.store.Available() {
		storeCheck = map[string]any{"status": statusFail, "message": "Хранилище объектов не инициализировано"}
		if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	indexCheck := map[string]any{"status": "ok"}
	if !h.idx.IsReady() {
		indexCheck = map[string]any{"status": statusFail, "message": "Индекс метаданных не загружен"}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "media-vault",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"store":      storeCheck,
			"index":      indexCheck,
		},
	})
}

// checkFilesystem проверяет доступность директории данных на запись.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.dataDir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.dataDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория данных недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
