// files.go — HTTP handlers для файловых операций медиа-хранилища.
// Список, загрузка, метаданные, переименование, удаление, очистка.
// Изменения выполняются через filestate.Controller, чтобы список
// в памяти оставался согласованным с хранилищем.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/gopi202005/cloud-vault-web/internal/api/errors"
	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/filestate"
	"github.com/gopi202005/cloud-vault-web/internal/vault"
)

// multipartMemory — объём multipart формы, хранимый в памяти.
const multipartMemory = 32 << 20

// FileLookup — чтение одного файла мимо списка контроллера.
type FileLookup interface {
	GetFile(ctx context.Context, id string) (*vault.FileView, error)
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	ctrl        *filestate.Controller
	lookup      FileLookup
	maxFileSize int64
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(ctrl *filestate.Controller, lookup FileLookup, maxFileSize int64) *FilesHandler {
	return &FilesHandler{
		ctrl:        ctrl,
		lookup:      lookup,
		maxFileSize: maxFileSize,
	}
}

// listResponse — ответ GET /api/v1/files.
type listResponse struct {
	Files    []*vault.FileView `json:"files"`
	Stats    statsResponse     `json:"stats"`
	Loading  bool              `json:"loading"`
	Degraded bool              `json:"degraded"`
	Error    string            `json:"error,omitempty"`
}

// ListFiles обрабатывает GET /api/v1/files.
// Необязательный фильтр kind: image, video, audio, other.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	snap := h.ctrl.Snapshot()

	files := snap.Files
	if kind := r.URL.Query().Get("kind"); kind != "" {
		files = make([]*vault.FileView, 0, len(snap.Files))
		for _, f := range snap.Files {
			if f.Kind() == kind {
				files = append(files, f)
			}
		}
	}
	if files == nil {
		files = []*vault.FileView{}
	}

	resp := listResponse{
		Files:    files,
		Stats:    newStatsResponse(snap.Stats),
		Loading:  snap.Loading,
		Degraded: snap.Degraded,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно), id (опционально), tags (опционально,
// через запятую или повторяющимся полем).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	bodyLimit := h.maxFileSize + multipartMemory
	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		// Тело обрезано MaxBytesReader: файл заведомо больше лимита
		var tooLarge *http.MaxBytesError
		if h.maxFileSize > 0 && (errors.As(err, &tooLarge) || r.ContentLength > bodyLimit) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает лимит файла %s",
				humanize.IBytes(uint64(h.maxFileSize))))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	if h.maxFileSize > 0 && header.Size > h.maxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла %s превышает лимит %s",
			humanize.IBytes(uint64(header.Size)), humanize.IBytes(uint64(h.maxFileSize))))
		return
	}

	payload, err := io.ReadAll(file)
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения файла: %s", err.Error()))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(payload)
	}

	meta := model.MetadataRecord{
		ID:        strings.TrimSpace(r.FormValue("id")),
		Name:      header.Filename,
		MimeType:  contentType,
		SizeBytes: int64(len(payload)),
		Tags:      parseTags(r.MultipartForm.Value["tags"]),
	}

	fv, err := h.ctrl.Save(r.Context(), payload, meta)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, fv)
}

// GetFile обрабатывает GET /api/v1/files/{id}.
// Файл из списка возвращается со ссылкой на содержимое; файл, которого
// в списке ещё нет, читается из хранилища и возвращается без ссылки.
func (h *FilesHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, f := range h.ctrl.Snapshot().Files {
		if f.ID == id {
			writeJSON(w, http.StatusOK, f)
			return
		}
	}

	fv, err := h.lookup.GetFile(r.Context(), id)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	fv.Handle.Release()
	writeJSON(w, http.StatusOK, fv.MetadataRecord)
}

// UpdateFile обрабатывает PATCH /api/v1/files/{id}.
// JSON body: {"name": "...", "tags": [...]}; отсутствующие поля не меняются.
func (h *FilesHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var patch vault.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if patch.Name == nil && patch.Tags == nil {
		apierrors.ValidationError(w, "Нечего обновлять: укажите name или tags")
		return
	}

	rec, err := h.ctrl.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteFile обрабатывает DELETE /api/v1/files/{id}. Идемпотентен.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bulkDeleteRequest — тело POST /api/v1/files/delete.
type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// DeleteFiles обрабатывает POST /api/v1/files/delete.
// Файлы удаляются независимо; при частичной ошибке удалённые файлы
// уже убраны из списка, ответ содержит ошибку по остальным.
func (h *FilesHandler) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req bulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		apierrors.ValidationError(w, "Список ids пуст")
		return
	}

	if err := h.ctrl.RemoveMany(r.Context(), req.IDs); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearFiles обрабатывает DELETE /api/v1/files?confirm=true.
// Без подтверждения — 409 CONFIRMATION_REQUIRED.
func (h *FilesHandler) ClearFiles(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		apierrors.ConfirmationRequired(w, "Удаление всех файлов требует параметра confirm=true")
		return
	}
	if err := h.ctrl.Clear(r.Context()); err != nil {
		apierrors.FromDomain(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseTags разбирает теги из полей формы: каждое поле может
// содержать несколько тегов через запятую.
func parseTags(values []string) []string {
	var tags []string
	for _, v := range values {
		for tag := range strings.SplitSeq(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
