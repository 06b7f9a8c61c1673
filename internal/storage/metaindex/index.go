// Пакет metaindex — потокобезопасный индекс метаданных файлов.
//
// Индекс хранит MetadataRecord без содержимого и зеркалируется
// в scratch-хранилище под ключом StorageKey (JSON-массив), поэтому
// доступен синхронно и переживает перезапуск даже при недоступном
// хранилище объектов. Индекс производный: источник истины —
// хранилище объектов, расхождения устраняет Reconcile.
package metaindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// StorageKey — ключ индекса в scratch-хранилище.
const StorageKey = "mediaVaultFiles"

// Scratch — синхронное key-value хранилище для зеркала индекса.
type Scratch interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// DriftReport — результат сверки индекса с хранилищем объектов.
type DriftReport struct {
	// Missing — ID, которые есть в хранилище, но отсутствовали в индексе
	Missing []string
	// Orphaned — ID, которые были в индексе, но отсутствуют в хранилище
	Orphaned []string
}

// HasDrift возвращает true, если найдено хотя бы одно расхождение.
func (r DriftReport) HasDrift() bool {
	return len(r.Missing) > 0 || len(r.Orphaned) > 0
}

// Index — in-memory индекс с зеркалом в scratch.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной записи.
type Index struct {
	mu      sync.RWMutex
	files   map[string]model.MetadataRecord
	ready   bool
	scratch Scratch
	// persisted — последнее записанное значение, для обнаружения
	// изменений из другого процесса
	persisted []byte
	logger    *slog.Logger
}

// New создаёт пустой индекс. scratch может быть nil — тогда индекс
// не персистентный. Для заполнения вызовите Load.
func New(scratch Scratch, logger *slog.Logger) *Index {
	return &Index{
		files:   make(map[string]model.MetadataRecord),
		scratch: scratch,
		logger:  logger.With(slog.String("component", "metaindex")),
	}
}

// Load заменяет содержимое индекса зеркалом из scratch.
// Повреждённое зеркало даёт пустой индекс и ошибку;
// индекс при этом помечается готовым.
func (idx *Index) Load() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.files = make(map[string]model.MetadataRecord)
	idx.ready = true
	if idx.scratch == nil {
		return nil
	}

	data, ok, err := idx.scratch.Get(StorageKey)
	if err != nil {
		return fmt.Errorf("ошибка чтения индекса: %w", err)
	}
	if !ok {
		return nil
	}
	idx.persisted = data

	var records []model.MetadataRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("повреждённый индекс метаданных: %w", err)
	}
	for _, rec := range records {
		if rec.Validate() != nil {
			continue
		}
		idx.files[rec.ID] = rec.Clone()
	}

	idx.logger.Info("Индекс метаданных загружен", slog.Int("files", len(idx.files)))
	return nil
}

// IsReady возвращает true, если индекс загружен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Changed сообщает, отличается ли зеркало в scratch от последнего
// записанного этим индексом (изменение другим процессом).
func (idx *Index) Changed() bool {
	if idx.scratch == nil {
		return false
	}
	data, _, err := idx.scratch.Get(StorageKey)
	if err != nil {
		return false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return !bytes.Equal(data, idx.persisted)
}

// Put добавляет или перезаписывает запись. Ошибка сохранения зеркала
// возвращается, но in-memory состояние остаётся обновлённым.
func (idx *Index) Put(rec model.MetadataRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.files[rec.ID] = rec.Clone()
	return idx.persistLocked()
}

// Get возвращает копию записи по ID.
func (idx *Index) Get(id string) (model.MetadataRecord, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rec, ok := idx.files[id]
	if !ok {
		return model.MetadataRecord{}, false
	}
	return rec.Clone(), true
}

// Remove удаляет запись. Отсутствие записи не является ошибкой.
func (idx *Index) Remove(id string) error {
	return idx.RemoveMany([]string{id})
}

// RemoveMany удаляет записи одним сохранением зеркала.
func (idx *Index) RemoveMany(ids []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	changed := false
	for _, id := range ids {
		if _, ok := idx.files[id]; ok {
			delete(idx.files, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return idx.persistLocked()
}

// Clear удаляет все записи.
func (idx *Index) Clear() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.files = make(map[string]model.MetadataRecord)
	return idx.persistLocked()
}

// ListAll возвращает копии всех записей, новые первыми
// (при равном UploadedAt — по ID).
func (idx *Index) ListAll() []model.MetadataRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.sortedLocked()
}

// Count возвращает количество записей.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.files)
}

// TotalSize возвращает суммарный размер содержимого по индексу.
func (idx *Index) TotalSize() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var total int64
	for _, rec := range idx.files {
		total += rec.SizeBytes
	}
	return total
}

// Reconcile заменяет индекс авторитетным набором записей из хранилища
// объектов и возвращает найденные расхождения. Зеркало перезаписывается
// только при изменениях.
func (idx *Index) Reconcile(authoritative []model.MetadataRecord) (DriftReport, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var report DriftReport
	next := make(map[string]model.MetadataRecord, len(authoritative))
	changed := false
	for _, rec := range authoritative {
		next[rec.ID] = rec.Clone()
		old, ok := idx.files[rec.ID]
		if !ok {
			report.Missing = append(report.Missing, rec.ID)
			changed = true
			continue
		}
		if !sameRecord(old, rec) {
			changed = true
		}
	}
	for id := range idx.files {
		if _, ok := next[id]; !ok {
			report.Orphaned = append(report.Orphaned, id)
			changed = true
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Orphaned)

	idx.files = next
	idx.ready = true
	if !changed {
		return report, nil
	}
	return report, idx.persistLocked()
}

func (idx *Index) sortedLocked() []model.MetadataRecord {
	result := make([]model.MetadataRecord, 0, len(idx.files))
	for _, rec := range idx.files {
		result = append(result, rec.Clone())
	}
	SortNewestFirst(result)
	return result
}

// persistLocked сохраняет зеркало в scratch. Вызывается под mu.
func (idx *Index) persistLocked() error {
	if idx.scratch == nil {
		return nil
	}
	data, err := json.Marshal(idx.sortedLocked())
	if err != nil {
		return fmt.Errorf("ошибка сериализации индекса: %w", err)
	}
	if err := idx.scratch.Set(StorageKey, data); err != nil {
		return fmt.Errorf("ошибка сохранения индекса: %w", err)
	}
	idx.persisted = data
	return nil
}

// SortNewestFirst сортирует записи по UploadedAt (новые первыми), затем по ID.
func SortNewestFirst(records []model.MetadataRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].UploadedAt.Equal(records[j].UploadedAt) {
			return records[i].UploadedAt.After(records[j].UploadedAt)
		}
		return records[i].ID < records[j].ID
	})
}

func sameRecord(a, b model.MetadataRecord) bool {
	return a.ID == b.ID && a.Name == b.Name && a.MimeType == b.MimeType &&
		a.SizeBytes == b.SizeBytes && a.UploadedAt.Equal(b.UploadedAt) &&
		a.Checksum == b.Checksum && slices.Equal(a.Tags, b.Tags)
}
