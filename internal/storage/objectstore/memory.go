package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"sync"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// MemoryEngine — движок в памяти процесса (VAULT_ENGINE=memory и тесты).
// Данные не переживают перезапуск. Поддерживает внедрение ошибок
// для проверки поведения верхних слоёв.
type MemoryEngine struct {
	mu      sync.RWMutex
	files   map[string]*model.StoredFile
	opens   int
	failErr map[string]error
}

// NewMemoryEngine создаёт пустой движок в памяти.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		files:   make(map[string]*model.StoredFile),
		failErr: make(map[string]error),
	}
}

// Name возвращает имя движка.
func (e *MemoryEngine) Name() string { return "memory" }

// Open возвращает соединение. Ошибка внедряется через InjectError("open", ...).
func (e *MemoryEngine) Open(_ context.Context) (Conn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.failErr["open"]; err != nil {
		return nil, err
	}
	e.opens++
	return &memoryConn{e: e}, nil
}

// Opens возвращает количество успешных вызовов Open.
func (e *MemoryEngine) Opens() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opens
}

// InjectError задаёт ошибку для операции (open, put, get, scan, delete, clear).
// nil снимает ошибку.
func (e *MemoryEngine) InjectError(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failErr, op)
		return
	}
	e.failErr[op] = err
}

// Wipe удаляет все записи в обход Store, имитируя внешнюю очистку хранилища.
func (e *MemoryEngine) Wipe() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = make(map[string]*model.StoredFile)
}

type memoryConn struct {
	e *MemoryEngine
}

func (c *memoryConn) Put(_ context.Context, f *model.StoredFile) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if err := c.e.failErr["put"]; err != nil {
		return err
	}
	copied := *f
	copied.Tags = append([]string(nil), f.Tags...)
	copied.Payload = append([]byte(nil), f.Payload...)
	sum := sha256.Sum256(copied.Payload)
	copied.Checksum = hex.EncodeToString(sum[:])
	f.Checksum = copied.Checksum
	c.e.files[f.ID] = &copied
	return nil
}

func (c *memoryConn) Get(_ context.Context, id string) (*model.StoredFile, error) {
	c.e.mu.RLock()
	defer c.e.mu.RUnlock()
	if err := c.e.failErr["get"]; err != nil {
		return nil, err
	}
	f, ok := c.e.files[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	copied := *f
	copied.Tags = append([]string(nil), f.Tags...)
	copied.Payload = append([]byte(nil), f.Payload...)
	return &copied, nil
}

func (c *memoryConn) Scan(_ context.Context) ([]string, error) {
	c.e.mu.RLock()
	defer c.e.mu.RUnlock()
	if err := c.e.failErr["scan"]; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.e.files))
	for id := range c.e.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *memoryConn) Delete(_ context.Context, id string) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if err := c.e.failErr["delete"]; err != nil {
		return err
	}
	delete(c.e.files, id)
	return nil
}

func (c *memoryConn) Clear(_ context.Context) error {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	if err := c.e.failErr["clear"]; err != nil {
		return err
	}
	c.e.files = make(map[string]*model.StoredFile)
	return nil
}

func (c *memoryConn) Close() error { return nil }

// Unsupported — движок хоста без персистентного хранилища.
// Open всегда завершается ошибкой.
type Unsupported struct{}

// errUnsupported — хост не поддерживает персистентное хранение.
var errUnsupported = errors.New("персистентное хранилище не поддерживается")

// Name возвращает имя движка.
func (Unsupported) Name() string { return "unsupported" }

// Open всегда возвращает ошибку.
func (Unsupported) Open(context.Context) (Conn, error) { return nil, errUnsupported }
