// system.go — статистика хранилища, проверка допуска и перезагрузка списка.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	apierrors "github.com/gopi202005/cloud-vault-web/internal/api/errors"
	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/filestate"
)

// AdmissionChecker — предварительная проверка квоты (vault.Vault).
type AdmissionChecker interface {
	CanStore(ctx context.Context, size int64) bool
}

// statsResponse — статистика с производными полями для индикатора квоты.
type statsResponse struct {
	model.StorageStats
	UsagePercent float64 `json:"usagePercent"`
	Level        string  `json:"level"`
	Used         string  `json:"used"`
	Quota        string  `json:"quota"`
}

func newStatsResponse(s model.StorageStats) statsResponse {
	return statsResponse{
		StorageStats: s,
		UsagePercent: s.UsagePercent(),
		Level:        s.Level(),
		Used:         humanize.IBytes(uint64(max(s.StorageUsed, 0))),
		Quota:        humanize.IBytes(uint64(max(s.StorageQuota, 0))),
	}
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	ctrl  *filestate.Controller
	admit AdmissionChecker
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(ctrl *filestate.Controller, admit AdmissionChecker) *SystemHandler {
	return &SystemHandler{ctrl: ctrl, admit: admit}
}

// GetStats обрабатывает GET /api/v1/stats.
func (h *SystemHandler) GetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newStatsResponse(h.ctrl.Snapshot().Stats))
}

// RefreshStats обрабатывает POST /api/v1/stats/refresh.
// Ошибка оценки не возвращается: остаётся предыдущая статистика.
func (h *SystemHandler) RefreshStats(w http.ResponseWriter, r *http.Request) {
	h.ctrl.RefreshStats(r.Context())
	writeJSON(w, http.StatusOK, newStatsResponse(h.ctrl.Snapshot().Stats))
}

// CanStore обрабатывает GET /api/v1/can-store?size=N.
func (h *SystemHandler) CanStore(w http.ResponseWriter, r *http.Request) {
	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size < 0 {
		apierrors.ValidationError(w, "Параметр size должен быть неотрицательным целым числом")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"size":     size,
		"canStore": h.admit.CanStore(r.Context(), size),
	})
}

// Reload обрабатывает POST /api/v1/reload: полная перезагрузка списка.
func (h *SystemHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Load(r.Context()); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	snap := h.ctrl.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"files":    len(snap.Files),
		"degraded": snap.Degraded,
		"stats":    newStatsResponse(snap.Stats),
	})
}

// writeJSON записывает JSON-ответ с заданным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
