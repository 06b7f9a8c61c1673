// blob.go — выдача содержимого по временной ссылке (display handle).
// Поддерживает Range requests (206) и ETag (If-None-Match → 304)
// через http.ServeContent.
package handlers

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/gopi202005/cloud-vault-web/internal/api/errors"
	"github.com/gopi202005/cloud-vault-web/internal/handle"
)

// BlobHandler — обработчик ссылок на содержимое.
type BlobHandler struct {
	handles *handle.Registry
}

// NewBlobHandler создаёт обработчик ссылок.
func NewBlobHandler(handles *handle.Registry) *BlobHandler {
	return &BlobHandler{handles: handles}
}

// ServeBlob обрабатывает GET /blob/{token}.
// Содержимое читается из хранилища только в момент запроса.
func (h *BlobHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	hd, ok := h.handles.Lookup(chi.URLParam(r, "token"))
	if !ok || hd.Released() {
		apierrors.NotFound(w, "Ссылка не найдена или освобождена")
		return
	}

	f, err := hd.Open(r.Context())
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}

	w.Header().Set("Content-Type", f.MimeType)
	w.Header().Set("Cache-Control", "private, no-cache")
	if f.Checksum != "" {
		w.Header().Set("ETag", `"`+f.Checksum+`"`)
	}
	http.ServeContent(w, r, f.Name, f.UploadedAt, bytes.NewReader(f.Payload))
}

// ReleaseBlob обрабатывает DELETE /blob/{token}. Идемпотентен.
func (h *BlobHandler) ReleaseBlob(w http.ResponseWriter, r *http.Request) {
	if hd, ok := h.handles.Lookup(chi.URLParam(r, "token")); ok {
		hd.Release()
	}
	w.WriteHeader(http.StatusNoContent)
}
