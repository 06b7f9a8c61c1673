// Пакет scratch — небольшое синхронное key-value хранилище для
// денормализованных метаданных. Каждый ключ — отдельный JSON-файл
// в директории, запись атомарная (temp → fsync → rename).
// Суммарный объём ограничен; содержимое файлов здесь не хранится.
package scratch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/storage/attr"
)

// DefaultLimit — лимит по умолчанию (5 МиБ).
const DefaultLimit int64 = 5 << 20

// valueSuffix — расширение файла значения.
const valueSuffix = ".json"

// Store — key-value хранилище в директории dir.
type Store struct {
	dir   string
	limit int64

	mu sync.Mutex
}

// New создаёт хранилище в dir с лимитом limit байт (0 — DefaultLimit).
func New(dir string, limit int64) (*Store, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию scratch %s: %w", dir, err)
	}
	return &Store{dir: dir, limit: limit}, nil
}

// Dir возвращает директорию хранилища.
func (s *Store) Dir() string { return s.dir }

// Limit возвращает лимит в байтах.
func (s *Store) Limit() int64 { return s.limit }

// Get возвращает значение ключа. ok=false, если ключа нет.
func (s *Store) Get(key string) (value []byte, ok bool, err error) {
	path, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ошибка чтения ключа %s: %w", key, err)
	}
	return data, true, nil
}

// Set записывает значение. Если после записи суммарный объём превысит
// лимит, возвращает model.ErrScratchFull и не меняет хранилище.
func (s *Store) Set(key string, value []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	used, err := s.usage()
	if err != nil {
		return err
	}
	var current int64
	if info, err := os.Stat(path); err == nil {
		current = info.Size()
	}
	if projected := used - current + int64(len(value)); projected > s.limit {
		return fmt.Errorf("%w: ключ %s, %s из %s", model.ErrScratchFull, key,
			humanize.IBytes(uint64(projected)), humanize.IBytes(uint64(s.limit)))
	}

	return attr.WriteFileAtomic(path, value)
}

// Remove удаляет ключ. Отсутствие ключа не является ошибкой.
func (s *Store) Remove(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления ключа %s: %w", key, err)
	}
	return nil
}

// Usage возвращает суммарный объём значений в байтах.
func (s *Store) Usage() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage()
}

func (s *Store) usage() (int64, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+valueSuffix))
	if err != nil {
		return 0, fmt.Errorf("ошибка сканирования scratch: %w", err)
	}
	var total int64
	for _, p := range matches {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total, nil
}

// path возвращает путь файла ключа. Ключ не может содержать разделители пути.
func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("недопустимый ключ scratch: %q", key)
	}
	return filepath.Join(s.dir, key+valueSuffix), nil
}

// IsValueFile сообщает, является ли имя файла значением хранилища.
// Используется наблюдателем изменений директории.
func IsValueFile(name string) bool {
	return strings.HasSuffix(name, valueSuffix)
}
