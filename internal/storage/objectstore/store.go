// Пакет objectstore — хранилище двоичных объектов (метаданные + содержимое).
//
// Store — единственный компонент, обращающийся к движку персистентности.
// Инициализация ленивая и идемпотентная: первая операция открывает
// соединение (создание коллекции и вторичных индексов), все последующие
// переиспользуют его. Параллельные вызовы ожидают одну и ту же
// инициализацию. Ошибка инициализации кэшируется: все последующие
// операции сразу возвращают ErrStoreUnavailable.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

// storeOperationsTotal — количество операций движка по типу и результату.
var storeOperationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vault_store_operations_total",
		Help: "Общее количество операций хранилища объектов",
	},
	[]string{"operation", "result"},
)

// Engine — движок персистентности хоста.
// Open выполняет настройку схемы и возвращает соединение.
// Если хост не поддерживает персистентное хранение, Open возвращает ошибку.
type Engine interface {
	Name() string
	Open(ctx context.Context) (Conn, error)
}

// Conn — открытое соединение с движком. Семантика операций:
//   - Put — upsert по ID;
//   - Get — model.ErrNotFound, если записи нет;
//   - Scan — снимок всех записей на момент вызова;
//   - Delete — успех, даже если записи нет;
//   - Clear — удаление всех записей.
type Conn interface {
	Put(ctx context.Context, f *model.StoredFile) error
	Get(ctx context.Context, id string) (*model.StoredFile, error)
	Scan(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}

// Store — хранилище двоичных объектов поверх Engine.
type Store struct {
	engine Engine
	logger *slog.Logger

	mu   sync.Mutex
	init *initFuture
}

// initFuture — результат единственной инициализации.
type initFuture struct {
	done chan struct{}
	conn Conn
	err  error
}

// New создаёт хранилище. Движок не открывается до первой операции.
func New(engine Engine, logger *slog.Logger) *Store {
	return &Store{
		engine: engine,
		logger: logger.With(slog.String("component", "objectstore"), slog.String("engine", engine.Name())),
	}
}

// conn возвращает соединение, выполняя инициализацию при первом вызове.
// Все конкурентные вызовы ждут одну и ту же инициализацию.
func (s *Store) conn(ctx context.Context) (Conn, error) {
	s.mu.Lock()
	f := s.init
	if f == nil {
		f = &initFuture{done: make(chan struct{})}
		s.init = f
		s.mu.Unlock()

		// Отмена контекста первого вызывающего не должна прерывать
		// инициализацию, которую ждут остальные.
		f.conn, f.err = s.engine.Open(context.WithoutCancel(ctx))
		if f.err != nil {
			f.err = fmt.Errorf("%w: %s: %v", model.ErrStoreUnavailable, s.engine.Name(), f.err)
			s.logger.Error("Ошибка инициализации хранилища", slog.String("error", f.err.Error()))
		} else {
			s.logger.Info("Хранилище инициализировано")
		}
		close(f.done)
	} else {
		s.mu.Unlock()
	}

	select {
	case <-f.done:
		return f.conn, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Init явно выполняет инициализацию. Повторные вызовы возвращают
// закэшированный результат.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

// Available возвращает false, если инициализация уже завершилась ошибкой.
// До первой операции хранилище считается доступным.
func (s *Store) Available() bool {
	s.mu.Lock()
	f := s.init
	s.mu.Unlock()
	if f == nil {
		return true
	}
	select {
	case <-f.done:
		return f.err == nil
	default:
		return true
	}
}

// Put сохраняет запись (upsert по ID).
func (s *Store) Put(ctx context.Context, f *model.StoredFile) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := c.Put(ctx, f); err != nil {
		observe("put", err)
		return fmt.Errorf("%w: %s: %v", model.ErrWriteFailed, f.ID, err)
	}
	observe("put", nil)
	return nil
}

// Get возвращает запись по ID или model.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*model.StoredFile, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	f, err := c.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			observe("get", err)
		}
		return nil, err
	}
	observe("get", nil)
	return f, nil
}

// GetAll возвращает ленивую последовательность всех записей.
// Каждый вызов перебора делает свежий снимок ключей; записи,
// удалённые во время перебора, пропускаются.
func (s *Store) GetAll(ctx context.Context) iter.Seq2[*model.StoredFile, error] {
	return func(yield func(*model.StoredFile, error) bool) {
		c, err := s.conn(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		ids, err := c.Scan(ctx)
		if err != nil {
			observe("scan", err)
			yield(nil, fmt.Errorf("ошибка чтения списка записей: %w", err))
			return
		}
		observe("scan", nil)
		for _, id := range ids {
			f, err := c.Get(ctx, id)
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

// Delete удаляет запись. Отсутствие записи не является ошибкой.
func (s *Store) Delete(ctx context.Context, id string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, id); err != nil {
		observe("delete", err)
		return fmt.Errorf("%w: %s: %v", model.ErrDeleteFailed, id, err)
	}
	observe("delete", nil)
	return nil
}

// DeleteMany удаляет записи независимо друг от друга: ошибка одной
// не блокирует остальные. Возвращает ID успешно удалённых записей
// и объединённую ошибку по неудачным.
func (s *Store) DeleteMany(ctx context.Context, ids []string) ([]string, error) {
	if _, err := s.conn(ctx); err != nil {
		return nil, err
	}
	var (
		deleted []string
		errs    []error
	)
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, id)
	}
	return deleted, errors.Join(errs...)
}

// Clear удаляет все записи.
func (s *Store) Clear(ctx context.Context) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := c.Clear(ctx); err != nil {
		observe("clear", err)
		return fmt.Errorf("%w: очистка: %v", model.ErrDeleteFailed, err)
	}
	observe("clear", nil)
	return nil
}

// Close закрывает соединение, если оно было открыто.
func (s *Store) Close() error {
	s.mu.Lock()
	f := s.init
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	<-f.done
	if f.err != nil || f.conn == nil {
		return nil
	}
	return f.conn.Close()
}

func observe(op string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	storeOperationsTotal.WithLabelValues(op, result).Inc()
}

// Sweeper — необязательная возможность движка: удаление содержимого
// без метаданных (orphaned payload).
type Sweeper interface {
	Sweep(ctx context.Context) ([]string, error)
}

// Sweep удаляет orphaned содержимое, если движок это поддерживает.
// Для остальных движков возвращает nil, nil.
func (s *Store) Sweep(ctx context.Context) ([]string, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	sw, ok := c.(Sweeper)
	if !ok {
		return nil, nil
	}
	removed, err := sw.Sweep(ctx)
	observe("sweep", err)
	return removed, err
}

// MetaLister — необязательная возможность движка: перечисление
// метаданных без чтения содержимого.
type MetaLister interface {
	ListMetadata(ctx context.Context) ([]model.MetadataRecord, error)
}

// MetaWriter — необязательная возможность движка: изменение
// метаданных без перезаписи содержимого.
type MetaWriter interface {
	PutMetadata(ctx context.Context, rec model.MetadataRecord) error
}

// List возвращает метаданные всех записей. Если движок не умеет
// перечислять метаданные отдельно, содержимое читается и отбрасывается.
func (s *Store) List(ctx context.Context) ([]model.MetadataRecord, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if ml, ok := c.(MetaLister); ok {
		recs, err := ml.ListMetadata(ctx)
		observe("list", err)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения списка записей: %w", err)
		}
		return recs, nil
	}

	var recs []model.MetadataRecord
	for f, err := range s.GetAll(ctx) {
		if err != nil {
			return nil, err
		}
		recs = append(recs, f.Metadata())
	}
	return recs, nil
}

// UpdateMetadata изменяет метаданные существующей записи, не трогая
// содержимое. Возвращает model.ErrNotFound, если записи нет.
func (s *Store) UpdateMetadata(ctx context.Context, rec model.MetadataRecord) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if mw, ok := c.(MetaWriter); ok {
		err := mw.PutMetadata(ctx, rec)
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		observe("put_metadata", err)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", model.ErrWriteFailed, rec.ID, err)
		}
		return nil
	}

	f, err := s.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	f.Name = rec.Name
	f.Tags = rec.Tags
	return s.Put(ctx, f)
}

// Виды нарушений целостности.
const (
	MismatchSize     = "size_mismatch"
	MismatchChecksum = "checksum_mismatch"
	// MismatchMissingPayload — метаданные есть, файла содержимого нет
	MismatchMissingPayload = "missing_payload"
)

// Mismatch — запись, содержимое которой не совпадает с метаданными.
type Mismatch struct {
	ID   string `json:"id"`
	Kind string `json:"type"`
}

// Verifier — необязательная возможность движка: проверка размера
// и контрольной суммы содержимого.
type Verifier interface {
	Verify(ctx context.Context) ([]Mismatch, error)
}

// Verify проверяет целостность содержимого, если движок это поддерживает.
func (s *Store) Verify(ctx context.Context) ([]Mismatch, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := c.(Verifier)
	if !ok {
		return nil, nil
	}
	mismatches, err := v.Verify(ctx)
	observe("verify", err)
	return mismatches, err
}
