// handler.go — APIHandler собирает доменные handlers и регистрирует
// их маршруты в chi-роутере.
package handlers

import (
	"github.com/go-chi/chi/v5"
)

// APIHandler — единая точка регистрации маршрутов HTTP-моста.
type APIHandler struct {
	files       *FilesHandler
	system      *SystemHandler
	maintenance *MaintenanceHandler
	blobs       *BlobHandler
	health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	system *SystemHandler,
	maintenance *MaintenanceHandler,
	blobs *BlobHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		files:       files,
		system:      system,
		maintenance: maintenance,
		blobs:       blobs,
		health:      health,
	}
}

// Mount регистрирует маршруты в роутере.
func (h *APIHandler) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		// --- File Operations ---
		r.Get("/files", h.files.ListFiles)
		r.Post("/files", h.files.UploadFile)
		r.Delete("/files", h.files.ClearFiles)
		r.Post("/files/delete", h.files.DeleteFiles)
		r.Get("/files/{id}", h.files.GetFile)
		r.Patch("/files/{id}", h.files.UpdateFile)
		r.Delete("/files/{id}", h.files.DeleteFile)

		// --- System ---
		r.Get("/stats", h.system.GetStats)
		r.Post("/stats/refresh", h.system.RefreshStats)
		r.Get("/can-store", h.system.CanStore)
		r.Post("/reload", h.system.Reload)

		// --- Maintenance ---
		r.Post("/reconcile", h.maintenance.Reconcile)
		r.Get("/reconcile", h.maintenance.LastReconcile)
	})

	// --- Display handles ---
	r.Get("/blob/{token}", h.blobs.ServeBlob)
	r.Delete("/blob/{token}", h.blobs.ReleaseBlob)

	// --- Health ---
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
}
