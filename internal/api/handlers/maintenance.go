// maintenance.go — обработчики POST /api/v1/reconcile и GET /api/v1/reconcile.
// Делегирует reconciliation в ReconcileService.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/gopi202005/cloud-vault-web/internal/api/errors"
	"github.com/gopi202005/cloud-vault-web/internal/service"
)

// ReconcileRunner — интерфейс для запуска reconciliation.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл reconciliation.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.Result, bool)
	// LastResult возвращает результат последнего запуска или nil.
	LastResult() *service.Result
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// Reconcile обрабатывает POST /api/v1/reconcile.
// Запускает синхронный цикл reconciliation и возвращает результат.
// Если reconciliation уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Reconciliation уже выполняется")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// LastReconcile обрабатывает GET /api/v1/reconcile.
func (h *MaintenanceHandler) LastReconcile(w http.ResponseWriter, _ *http.Request) {
	result := h.reconciler.LastResult()
	if result == nil {
		apierrors.NotFound(w, "Reconciliation ещё не выполнялась")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
