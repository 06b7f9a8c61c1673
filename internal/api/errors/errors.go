// Пакет errors — ответы с ошибками HTTP-моста.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromDomain.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// Коды ошибок.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeStorageFull          = "STORAGE_FULL"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeReconcileInProgress  = "RECONCILE_IN_PROGRESS"
	CodeWriteFailed          = "WRITE_FAILED"
	CodeDeleteFailed         = "DELETE_FAILED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromDomain сопоставляет ошибку слоя хранения со статусом и кодом.
func FromDomain(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, model.ErrQuotaExceeded):
		StorageFull(w, err.Error())
	case stderrors.Is(err, model.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.Is(err, model.ErrInvalidRecord):
		ValidationError(w, err.Error())
	case stderrors.Is(err, model.ErrStoreUnavailable):
		WriteError(w, http.StatusServiceUnavailable, CodeStoreUnavailable, err.Error())
	case stderrors.Is(err, model.ErrWriteFailed):
		WriteError(w, http.StatusInternalServerError, CodeWriteFailed, err.Error())
	case stderrors.Is(err, model.ErrDeleteFailed):
		WriteError(w, http.StatusInternalServerError, CodeDeleteFailed, err.Error())
	default:
		InternalError(w, err.Error())
	}
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// ConfirmationRequired — 409 необратимая операция требует подтверждения.
func ConfirmationRequired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConfirmationRequired, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// StorageFull — 507 нет свободного места.
func StorageFull(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInsufficientStorage, CodeStorageFull, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
