// Пакет attr — чтение и запись sidecar-файлов метаданных (*.attr.json)
// движка filestore. Каждый файл содержимого сопровождается attr.json,
// который для этого движка является источником истины о метаданных.
// Все операции записи выполняются атомарно: temp → fsync → rename.
package attr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// AttrSuffix — суффикс файла метаданных.
const AttrSuffix = ".attr.json"

// maxAttrFileSize — максимальный допустимый размер attr.json (4 КБ).
// Ограничение гарантирует атомарность записи.
const maxAttrFileSize = 4096

// Record — содержимое attr.json: метаданные записи и имя файла содержимого.
type Record struct {
	model.MetadataRecord
	// StoragePath — имя файла содержимого относительно директории коллекции
	StoragePath string `json:"storage_path"`
}

// AttrFilePath возвращает путь к attr.json для данного файла содержимого.
// Пример: "/data/photo_1a2b.bin" → "/data/photo_1a2b.bin.attr.json"
func AttrFilePath(dataFilePath string) string {
	return dataFilePath + AttrSuffix
}

// DataFilePathFromAttr возвращает путь к файлу содержимого из пути attr.json.
func DataFilePathFromAttr(attrPath string) string {
	return strings.TrimSuffix(attrPath, AttrSuffix)
}

// IsAttrFile проверяет, является ли путь файлом метаданных.
func IsAttrFile(path string) bool {
	return strings.HasSuffix(path, AttrSuffix)
}

// Write атомарно записывает метаданные в attr.json.
// Возвращает ошибку, если сериализованные данные превышают 4 КБ.
func Write(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации метаданных: %w", err)
	}

	if len(data) > maxAttrFileSize {
		return fmt.Errorf("размер attr.json (%d байт) превышает максимум (%d байт)", len(data), maxAttrFileSize)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	return WriteFileAtomic(path, data)
}

// WriteFileAtomic записывает данные через временный файл: temp → fsync → rename.
// Имя temp файла уникально для каждого вызова (path.*.tmp), поэтому
// параллельные записи не смешиваются. При ошибке временный файл удаляется.
func WriteFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает и десериализует attr.json.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения attr.json %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации attr.json %s: %w", path, err)
	}

	return &rec, nil
}

// Delete удаляет attr.json. Возвращает nil, если файла уже нет.
func Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления attr.json %s: %w", path, err)
	}
	return nil
}

// ScanDir возвращает все читаемые attr.json в директории (не рекурсивно).
// Невалидные файлы пропускаются.
func ScanDir(dir string) ([]*Record, error) {
	pattern := filepath.Join(dir, "*"+AttrSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	var result []*Record
	for _, path := range matches {
		rec, err := Read(path)
		if err != nil {
			continue
		}
		result = append(result, rec)
	}

	return result, nil
}
