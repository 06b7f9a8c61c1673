// Пакет filestore — движок хранилища объектов на локальной файловой системе.
// Каждая запись — файл содержимого ({name}_{hash}.bin) и sidecar attr.json.
// Запись содержимого: temp файл → SHA-256 на лету → fsync → atomic rename,
// затем атомарная запись attr.json.
package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/storage/attr"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
)

// dataSuffix — расширение файлов содержимого.
const dataSuffix = ".bin"

// lockStripes — число мьютексов для сериализации записи по ID.
const lockStripes = 64

// Engine — движок filestore. Open создаёт директорию коллекции.
type Engine struct {
	dataDir string
}

// NewEngine создаёт движок для директории dataDir. Директория
// не создаётся до вызова Open.
func NewEngine(dataDir string) *Engine {
	return &Engine{dataDir: dataDir}
}

// Name возвращает имя движка.
func (e *Engine) Name() string { return "filestore" }

// Open выполняет настройку «схемы»: создаёт директорию коллекции,
// проверяет доступность на запись и удаляет временные файлы,
// оставшиеся после аварийного завершения.
func (e *Engine) Open(_ context.Context) (objectstore.Conn, error) {
	return New(e.dataDir)
}

// FileStore — соединение с коллекцией на диске.
type FileStore struct {
	// dataDir — директория коллекции
	dataDir string
	// locks сериализуют Put/Delete/PutMetadata одного ID: содержимое
	// и attr.json одной записи должны принадлежать одному писателю.
	locks [lockStripes]sync.Mutex
}

// New открывает коллекцию в dataDir.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	// Проверяем доступность на запись через тестовый файл
	testFile := filepath.Join(dataDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория %s недоступна для записи: %w", dataDir, err)
	}
	os.Remove(testFile)

	// Незавершённые записи после аварийного останова
	tmps, _ := filepath.Glob(filepath.Join(dataDir, "*.tmp"))
	for _, p := range tmps {
		os.Remove(p)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Put записывает содержимое и метаданные (upsert по ID).
// Сначала содержимое, затем attr.json: запись без attr.json невидима
// для Get и Scan и удаляется сверкой как orphaned.
func (fs *FileStore) Put(_ context.Context, f *model.StoredFile) error {
	mu := fs.lockFor(f.ID)
	mu.Lock()
	defer mu.Unlock()

	storageName := StorageName(f.ID)
	fullPath := filepath.Join(fs.dataDir, storageName)

	size, checksum, err := writeData(fullPath, bytes.NewReader(f.Payload))
	if err != nil {
		return err
	}
	if size != f.SizeBytes {
		os.Remove(fullPath)
		return fmt.Errorf("записано %d байт, ожидалось %d", size, f.SizeBytes)
	}
	f.Checksum = checksum

	rec := &attr.Record{MetadataRecord: f.Metadata(), StoragePath: storageName}
	if err := attr.Write(attr.AttrFilePath(fullPath), rec); err != nil {
		return fmt.Errorf("ошибка записи attr.json: %w", err)
	}
	return nil
}

// Get читает запись по ID. Возвращает model.ErrNotFound, если нет attr.json
// или файла содержимого.
func (fs *FileStore) Get(_ context.Context, id string) (*model.StoredFile, error) {
	fullPath := filepath.Join(fs.dataDir, StorageName(id))

	rec, err := attr.Read(attr.AttrFilePath(fullPath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}

	payload, err := fs.ReadFile(rec.StoragePath)
	if err != nil {
		return nil, err
	}

	return &model.StoredFile{
		ID:         rec.ID,
		Name:       rec.Name,
		MimeType:   rec.MimeType,
		SizeBytes:  rec.SizeBytes,
		UploadedAt: rec.UploadedAt,
		Tags:       rec.Tags,
		Checksum:   rec.Checksum,
		Payload:    payload,
	}, nil
}

// Scan возвращает ID всех записей, имеющих attr.json и файл содержимого.
func (fs *FileStore) Scan(_ context.Context) ([]string, error) {
	recs, err := fs.liveRecords()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(recs))
	for _, rec := range recs {
		ids = append(ids, rec.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete удаляет attr.json, затем файл содержимого.
// Возвращает nil, если записи нет.
func (fs *FileStore) Delete(_ context.Context, id string) error {
	mu := fs.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	fullPath := filepath.Join(fs.dataDir, StorageName(id))
	if err := attr.Delete(attr.AttrFilePath(fullPath)); err != nil {
		return err
	}
	return fs.DeleteFile(StorageName(id))
}

// Clear удаляет все файлы содержимого и attr.json коллекции.
func (fs *FileStore) Clear(_ context.Context) error {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return fmt.Errorf("ошибка чтения директории %s: %w", fs.dataDir, err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, dataSuffix) || attr.IsAttrFile(name)) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.dataDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ошибка удаления %s: %w", name, err)
		}
	}
	return nil
}

// Close ничего не делает: файловый движок не держит дескрипторов.
func (fs *FileStore) Close() error { return nil }

// ReadFile читает содержимое файла. storagePath — путь относительно dataDir.
func (fs *FileStore) ReadFile(storagePath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(fs.dataDir, storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", storagePath, err)
	}
	return data, nil
}

// DeleteFile удаляет файл содержимого. Возвращает nil, если файла нет.
func (fs *FileStore) DeleteFile(storagePath string) error {
	err := os.Remove(filepath.Join(fs.dataDir, storagePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// FileExists проверяет существование файла содержимого.
func (fs *FileStore) FileExists(storagePath string) bool {
	_, err := os.Stat(filepath.Join(fs.dataDir, storagePath))
	return err == nil
}

// ComputeChecksum вычисляет SHA-256 существующего файла содержимого.
func (fs *FileStore) ComputeChecksum(storagePath string) (string, error) {
	f, err := os.Open(filepath.Join(fs.dataDir, storagePath))
	if err != nil {
		return "", fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("ошибка вычисления checksum %s: %w", storagePath, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// DataDir возвращает путь к директории коллекции.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// StorageName возвращает детерминированное имя файла содержимого для ID:
// {безопасный префикс id}_{16 hex SHA-256(id)}.bin
func StorageName(id string) string {
	name := sanitize(id)
	if len(name) > 50 {
		name = name[:50]
	}
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%s_%s%s", name, hex.EncodeToString(sum[:8]), dataSuffix)
}

// lockFor возвращает мьютекс записи id.
func (fs *FileStore) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &fs.locks[h.Sum32()%lockStripes]
}

// liveRecords возвращает attr.json, у которых есть файл содержимого.
func (fs *FileStore) liveRecords() ([]*attr.Record, error) {
	recs, err := attr.ScanDir(fs.dataDir)
	if err != nil {
		return nil, err
	}
	live := recs[:0]
	for _, rec := range recs {
		if fs.FileExists(rec.StoragePath) {
			live = append(live, rec)
		}
	}
	return live, nil
}

// writeData записывает данные из reader с подсчётом SHA-256 на лету.
// Паттерн: уникальный temp файл → запись + SHA-256 → fsync → atomic rename.
func writeData(fullPath string, reader io.Reader) (int64, string, error) {
	f, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return 0, "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, hex.EncodeToString(hasher.Sum(nil)), nil
}

// sanitize оставляет в строке только буквы, цифры, дефис и подчёркивание.
func sanitize(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	if result.Len() == 0 {
		return "file"
	}
	return result.String()
}

// Sweep удаляет файлы содержимого без attr.json (orphaned), оставшиеся
// после прерванной записи или удаления. Возвращает имена удалённых файлов.
func (fs *FileStore) Sweep(_ context.Context) ([]string, error) {
	pattern := filepath.Join(fs.dataDir, "*"+dataSuffix)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", fs.dataDir, err)
	}

	var removed []string
	for _, path := range matches {
		if _, err := os.Stat(attr.AttrFilePath(path)); err == nil {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("ошибка удаления %s: %w", path, err)
		}
		removed = append(removed, filepath.Base(path))
	}
	return removed, nil
}

// ListMetadata возвращает метаданные из attr.json без чтения содержимого.
// Записи без файла содержимого не возвращаются, как и в Get.
func (fs *FileStore) ListMetadata(_ context.Context) ([]model.MetadataRecord, error) {
	recs, err := fs.liveRecords()
	if err != nil {
		return nil, err
	}
	result := make([]model.MetadataRecord, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.MetadataRecord)
	}
	return result, nil
}

// PutMetadata перезаписывает attr.json существующей записи.
// Изменяются только имя и теги; содержимое не трогается.
func (fs *FileStore) PutMetadata(_ context.Context, meta model.MetadataRecord) error {
	mu := fs.lockFor(meta.ID)
	mu.Lock()
	defer mu.Unlock()

	fullPath := filepath.Join(fs.dataDir, StorageName(meta.ID))
	attrPath := attr.AttrFilePath(fullPath)

	rec, err := attr.Read(attrPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.ErrNotFound
		}
		return err
	}
	rec.Name = meta.Name
	rec.Tags = meta.Tags
	return attr.Write(attrPath, rec)
}

// Verify сверяет размер и SHA-256 каждого файла содержимого с attr.json.
// attr.json без файла содержимого отмечается как missing_payload.
func (fs *FileStore) Verify(ctx context.Context) ([]objectstore.Mismatch, error) {
	recs, err := attr.ScanDir(fs.dataDir)
	if err != nil {
		return nil, err
	}

	var result []objectstore.Mismatch
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		info, err := os.Stat(filepath.Join(fs.dataDir, rec.StoragePath))
		if err != nil {
			if os.IsNotExist(err) {
				result = append(result, objectstore.Mismatch{ID: rec.ID, Kind: objectstore.MismatchMissingPayload})
			}
			continue
		}
		if info.Size() != rec.SizeBytes {
			result = append(result, objectstore.Mismatch{ID: rec.ID, Kind: objectstore.MismatchSize})
			continue
		}
		checksum, err := fs.ComputeChecksum(rec.StoragePath)
		if err != nil {
			continue
		}
		if rec.Checksum != "" && checksum != rec.Checksum {
			result = append(result, objectstore.Mismatch{ID: rec.ID, Kind: objectstore.MismatchChecksum})
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
