// Пакет vault — фасад локального хранилища файлов.
//
// Vault — единственный публичный интерфейс над хранилищем объектов,
// индексом метаданных, оценкой ёмкости и проверкой допуска. Запись
// двухфазная: сначала содержимое (хранилище объектов), затем метаданные
// (индекс). Сбой второй фазы логируется и устраняется при следующей
// сверке (GetAllFiles, Reconcile). Фасад не держит блокировок между
// вызовами: каждая операция независимо повторяема вызывающим.
//
// Сверка перестраивает индекс целиком по листингу хранилища, поэтому
// листинг и перестройка выполняются под исключительной блокировкой,
// а изменения (хранилище + индекс) под разделяемой: запись не может
// завершиться между листингом и перестройкой и потеряться из индекса.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/handle"
	"github.com/gopi202005/cloud-vault-web/internal/quota"
	"github.com/gopi202005/cloud-vault-web/internal/storage/metaindex"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
)

// FileView — метаданные файла и временная ссылка на содержимое.
// Handle равен nil при деградированном чтении из индекса.
type FileView struct {
	model.MetadataRecord
	Handle *handle.Handle `json:"url,omitempty"`
}

// Listing — результат GetAllFiles.
type Listing struct {
	Files []*FileView `json:"files"`
	// Degraded — список построен по индексу метаданных при недоступном
	// хранилище объектов и не является авторитетным
	Degraded bool `json:"degraded"`
}

// Release освобождает все ссылки списка.
func (l *Listing) Release() {
	for _, f := range l.Files {
		f.Handle.Release()
	}
}

// Patch — изменение метаданных. nil-поля не меняются.
type Patch struct {
	Name *string   `json:"name,omitempty"`
	Tags *[]string `json:"tags,omitempty"`
}

// invalidator — оценщик с кэшем, сбрасываемым после изменений.
type invalidator interface {
	Invalidate()
}

// Option — параметр фасада.
type Option func(*Vault)

// WithMaxFileSize ограничивает размер одного файла (0 — без ограничения).
func WithMaxFileSize(n int64) Option {
	return func(v *Vault) { v.maxFileSize = n }
}

// Vault — фасад хранилища.
type Vault struct {
	store     *objectstore.Store
	index     *metaindex.Index
	gate      *quota.Gate
	estimator quota.Estimator
	handles   *handle.Registry
	logger    *slog.Logger

	maxFileSize int64
	now         func() time.Time

	// syncMu: RLock — изменение, Lock — сверка индекса
	syncMu sync.RWMutex
}

// New создаёт фасад. Экземпляр создаётся один раз в корне композиции
// и передаётся контроллеру и HTTP-обработчикам.
func New(
	store *objectstore.Store,
	index *metaindex.Index,
	gate *quota.Gate,
	estimator quota.Estimator,
	handles *handle.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Vault {
	v := &Vault{
		store:     store,
		index:     index,
		gate:      gate,
		estimator: estimator,
		handles:   handles,
		logger:    logger.With(slog.String("component", "vault")),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SaveFile сохраняет файл. Пустой meta.ID заменяется новым идентификатором,
// нулевой SizeBytes — размером payload, нулевой UploadedAt — текущим временем.
// При отказе проверки допуска возвращает model.ErrQuotaExceeded до любой записи.
func (v *Vault) SaveFile(ctx context.Context, payload []byte, meta model.MetadataRecord) (fv *FileView, err error) {
	defer func() { observe("save", err) }()

	meta = meta.Clone()
	if meta.ID == "" {
		meta.ID = model.NewID()
	}
	if meta.SizeBytes == 0 {
		meta.SizeBytes = int64(len(payload))
	}
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = v.now()
	}
	meta.Name = strings.TrimSpace(meta.Name)
	meta.Tags = normalizeTags(meta.Tags)
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if meta.SizeBytes != int64(len(payload)) {
		return nil, fmt.Errorf("%w: размер %d не совпадает с содержимым %d",
			model.ErrInvalidRecord, meta.SizeBytes, len(payload))
	}
	if v.maxFileSize > 0 && meta.SizeBytes > v.maxFileSize {
		return nil, fmt.Errorf("%w: размер файла %s превышает максимум %s", model.ErrInvalidRecord,
			humanize.IBytes(uint64(meta.SizeBytes)), humanize.IBytes(uint64(v.maxFileSize)))
	}

	if err := v.gate.Admit(ctx, meta.SizeBytes); err != nil {
		v.logger.Info("Запись отклонена проверкой квоты",
			slog.String("file_id", meta.ID),
			slog.String("size", humanize.IBytes(uint64(meta.SizeBytes))),
		)
		return nil, err
	}

	f := &model.StoredFile{
		ID:         meta.ID,
		Name:       meta.Name,
		MimeType:   meta.MimeType,
		SizeBytes:  meta.SizeBytes,
		UploadedAt: meta.UploadedAt,
		Tags:       meta.Tags,
		Payload:    payload,
	}
	v.syncMu.RLock()
	if err := v.store.Put(ctx, f); err != nil {
		v.syncMu.RUnlock()
		return nil, err
	}
	v.invalidate()

	rec := f.Metadata()
	if err := v.index.Put(rec); err != nil {
		v.indexFailure("save", rec.ID, err)
	}
	v.syncMu.RUnlock()
	v.updateGauges()

	v.logger.Debug("Файл сохранён",
		slog.String("file_id", rec.ID),
		slog.String("name", rec.Name),
		slog.String("size", humanize.IBytes(uint64(rec.SizeBytes))),
	)
	return v.view(rec), nil
}

// GetFile возвращает файл по ID со свежей ссылкой на содержимое.
func (v *Vault) GetFile(ctx context.Context, id string) (fv *FileView, err error) {
	defer func() { observe("get", ignoreNotFound(err)) }()

	v.syncMu.RLock()
	defer v.syncMu.RUnlock()

	f, err := v.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Запись в индексе без содержимого: устраняем расхождение
			if _, ok := v.index.Get(id); ok {
				driftTotal.WithLabelValues("orphaned").Inc()
				if err := v.index.Remove(id); err != nil {
					v.indexFailure("get", id, err)
				}
			}
		}
		return nil, err
	}
	return v.view(f.Metadata()), nil
}

// GetAllFiles возвращает все файлы (новые первыми), каждый со свежей
// ссылкой. Вызывающий обязан освободить ссылки, когда они не нужны.
// Расхождение индекса с хранилищем устраняется в пользу хранилища.
// При недоступном хранилище возвращает деградированный список из индекса;
// если индекс пуст, возвращает ошибку хранилища.
func (v *Vault) GetAllFiles(ctx context.Context) (listing *Listing, err error) {
	defer func() { observe("list", err) }()

	records, _, err := v.sync(ctx)
	if err != nil {
		cached := v.index.ListAll()
		if len(cached) == 0 {
			return nil, err
		}
		v.logger.Warn("Хранилище недоступно, список построен по индексу метаданных",
			slog.Int("files", len(cached)),
			slog.String("error", err.Error()),
		)
		degraded := &Listing{Files: make([]*FileView, 0, len(cached)), Degraded: true}
		for _, rec := range cached {
			degraded.Files = append(degraded.Files, &FileView{MetadataRecord: rec})
		}
		return degraded, nil
	}

	listing = &Listing{Files: make([]*FileView, 0, len(records))}
	for _, rec := range records {
		listing.Files = append(listing.Files, v.view(rec))
	}
	return listing, nil
}

// Reconcile сверяет индекс метаданных с хранилищем объектов и возвращает
// найденные расхождения. Ссылки не создаются.
func (v *Vault) Reconcile(ctx context.Context) (report metaindex.DriftReport, err error) {
	defer func() { observe("reconcile", err) }()
	_, report, err = v.sync(ctx)
	return report, err
}

// sync читает метаданные из хранилища объектов и перестраивает по ним индекс.
func (v *Vault) sync(ctx context.Context) ([]model.MetadataRecord, metaindex.DriftReport, error) {
	v.syncMu.Lock()
	records, err := v.store.List(ctx)
	if err != nil {
		v.syncMu.Unlock()
		return nil, metaindex.DriftReport{}, err
	}
	metaindex.SortNewestFirst(records)

	report, err := v.index.Reconcile(records)
	v.syncMu.Unlock()
	if err != nil {
		v.indexFailure("reconcile", "", err)
	}
	if report.HasDrift() {
		driftTotal.WithLabelValues("missing").Add(float64(len(report.Missing)))
		driftTotal.WithLabelValues("orphaned").Add(float64(len(report.Orphaned)))
		v.logger.Warn("Индекс метаданных восстановлен по хранилищу",
			slog.String("error", model.ErrMetadataIndexDrift.Error()),
			slog.Any("missing", report.Missing),
			slog.Any("orphaned", report.Orphaned),
		)
	}
	v.updateGauges()
	return records, report, nil
}

// UpdateFile изменяет имя и/или теги файла. Содержимое не меняется.
func (v *Vault) UpdateFile(ctx context.Context, id string, patch Patch) (rec model.MetadataRecord, err error) {
	defer func() { observe("update", ignoreNotFound(err)) }()

	f, err := v.store.Get(ctx, id)
	if err != nil {
		return model.MetadataRecord{}, err
	}
	rec = f.Metadata()
	if patch.Name != nil {
		rec.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Tags != nil {
		rec.Tags = normalizeTags(*patch.Tags)
	}
	if err := rec.Validate(); err != nil {
		return model.MetadataRecord{}, err
	}

	v.syncMu.RLock()
	defer v.syncMu.RUnlock()
	if err := v.store.UpdateMetadata(ctx, rec); err != nil {
		return model.MetadataRecord{}, err
	}
	if err := v.index.Put(rec); err != nil {
		v.indexFailure("update", id, err)
	}
	return rec.Clone(), nil
}

// DeleteFile удаляет содержимое, затем метаданные.
// Удаление несуществующего файла не является ошибкой.
func (v *Vault) DeleteFile(ctx context.Context, id string) (err error) {
	defer func() { observe("delete", err) }()

	v.syncMu.RLock()
	if err := v.store.Delete(ctx, id); err != nil {
		v.syncMu.RUnlock()
		return err
	}
	v.invalidate()
	if err := v.index.Remove(id); err != nil {
		v.indexFailure("delete", id, err)
	}
	v.syncMu.RUnlock()
	v.updateGauges()
	return nil
}

// DeleteMultipleFiles удаляет файлы независимо друг от друга.
// Возвращает ID удалённых (включая отсутствовавшие) и объединённую
// ошибку по остальным.
func (v *Vault) DeleteMultipleFiles(ctx context.Context, ids []string) (deleted []string, err error) {
	defer func() { observe("delete_many", err) }()

	v.syncMu.RLock()
	deleted, err = v.store.DeleteMany(ctx, ids)
	if len(deleted) > 0 {
		v.invalidate()
		if ierr := v.index.RemoveMany(deleted); ierr != nil {
			v.indexFailure("delete_many", "", ierr)
		}
	}
	v.syncMu.RUnlock()
	if len(deleted) > 0 {
		v.updateGauges()
	}
	return deleted, err
}

// ClearAllFiles удаляет все файлы. Индекс очищается даже при ошибке
// хранилища; оставшиеся записи вернутся в индекс при следующей сверке.
func (v *Vault) ClearAllFiles(ctx context.Context) (err error) {
	defer func() { observe("clear", err) }()

	v.syncMu.RLock()
	err = v.store.Clear(ctx)
	v.invalidate()
	if ierr := v.index.Clear(); ierr != nil {
		v.indexFailure("clear", "", ierr)
	}
	v.syncMu.RUnlock()
	v.updateGauges()
	return err
}

// GetStorageStats возвращает агрегаты по индексу метаданных
// и свежую оценку ёмкости.
func (v *Vault) GetStorageStats(ctx context.Context) (model.StorageStats, error) {
	est := v.estimator.Estimate(ctx)
	return model.StorageStats{
		TotalFiles:   v.index.Count(),
		TotalSize:    v.index.TotalSize(),
		StorageUsed:  est.Used,
		StorageQuota: est.Quota,
	}, nil
}

// CanStore — предварительная проверка допуска записи size байт.
func (v *Vault) CanStore(ctx context.Context, size int64) bool {
	return v.gate.CanStore(ctx, size)
}

// Available возвращает false, если хранилище объектов не инициализировалось.
func (v *Vault) Available() bool {
	return v.store.Available()
}

// view создаёт представление записи со свежей ссылкой на содержимое.
// Содержимое читается из хранилища только при обращении по ссылке.
func (v *Vault) view(rec model.MetadataRecord) *FileView {
	id := rec.ID
	h := v.handles.Mint(id, rec.MimeType, func(ctx context.Context) (*model.StoredFile, error) {
		return v.store.Get(ctx, id)
	})
	return &FileView{MetadataRecord: rec, Handle: h}
}

func (v *Vault) invalidate() {
	if inv, ok := v.estimator.(invalidator); ok {
		inv.Invalidate()
	}
}

func (v *Vault) indexFailure(op, id string, err error) {
	indexFailuresTotal.Inc()
	v.logger.Warn("Ошибка обновления индекса метаданных, будет устранена сверкой",
		slog.String("operation", op),
		slog.String("file_id", id),
		slog.String("error", err.Error()),
	)
}

func (v *Vault) updateGauges() {
	filesTotal.Set(float64(v.index.Count()))
	filesBytes.Set(float64(v.index.TotalSize()))
}

// normalizeTags убирает пустые теги и дубликаты, сохраняя порядок.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	result := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		result = append(result, tag)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func ignoreNotFound(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return nil
	}
	return err
}
