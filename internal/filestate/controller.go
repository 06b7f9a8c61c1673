// Пакет filestate — реактивное состояние списка файлов.
//
// Controller загружает состояние фасада хранилища в память, отдаёт
// снимки подписчикам и выполняет изменения через фасад. После каждого
// успешного изменения список в памяти совпадает с тем, что вернула бы
// свежая загрузка. При ошибке список остаётся последним согласованным,
// ошибка сохраняется в Snapshot.Err и возвращается вызывающему.
// Контроллер владеет ссылками на содержимое файлов своего списка
// и освобождает их, когда убирает файл из списка.
package filestate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/vault"
)

// Facade — операции фасада хранилища, используемые контроллером.
type Facade interface {
	SaveFile(ctx context.Context, payload []byte, meta model.MetadataRecord) (*vault.FileView, error)
	GetAllFiles(ctx context.Context) (*vault.Listing, error)
	UpdateFile(ctx context.Context, id string, patch vault.Patch) (model.MetadataRecord, error)
	DeleteFile(ctx context.Context, id string) error
	DeleteMultipleFiles(ctx context.Context, ids []string) ([]string, error)
	ClearAllFiles(ctx context.Context) error
	GetStorageStats(ctx context.Context) (model.StorageStats, error)
}

// Snapshot — наблюдаемое состояние.
type Snapshot struct {
	// Files — файлы, новые первыми
	Files   []*vault.FileView
	Loading bool
	// Err — текущая ошибка последней операции (nil после успешной)
	Err   error
	Stats model.StorageStats
	// Degraded — список построен по индексу метаданных без хранилища объектов
	Degraded bool
}

// Controller — владелец состояния списка файлов.
type Controller struct {
	facade Facade
	logger *slog.Logger

	mu      sync.Mutex
	state   Snapshot
	subs    map[int]chan Snapshot
	nextSub int
}

// New создаёт контроллер с пустым состоянием. Для заполнения вызовите Load.
func New(facade Facade, logger *slog.Logger) *Controller {
	return &Controller{
		facade: facade,
		logger: logger.With(slog.String("component", "filestate")),
		subs:   make(map[int]chan Snapshot),
	}
}

// Snapshot возвращает копию текущего состояния.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyLocked()
}

// Subscribe возвращает канал снимков и функцию отписки. Канал сразу
// получает текущее состояние; медленный подписчик видит только последнее.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	ch := make(chan Snapshot, 1)
	ch <- c.copyLocked()
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			// После Close канал уже закрыт и удалён из subs
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Load заменяет список и статистику данными фасада. При ошибке список
// и статистика сбрасываются, Err содержит model.ErrLoadFailed.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	c.state.Loading = true
	c.notifyLocked()
	c.mu.Unlock()

	listing, err := c.facade.GetAllFiles(ctx)
	if err != nil {
		loadErr := fmt.Errorf("%w: %w", model.ErrLoadFailed, err)
		c.logger.Error("Ошибка загрузки файлов", slog.String("error", err.Error()))

		c.mu.Lock()
		defer c.mu.Unlock()
		releaseAll(c.state.Files)
		c.state = Snapshot{
			Err:      loadErr,
			Degraded: errors.Is(err, model.ErrStoreUnavailable),
		}
		c.notifyLocked()
		return loadErr
	}

	stats, statsErr := c.facade.GetStorageStats(ctx)
	if statsErr != nil {
		c.logger.Warn("Ошибка получения статистики", slog.String("error", statsErr.Error()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	releaseAll(c.state.Files)
	c.state = Snapshot{
		Files:    listing.Files,
		Stats:    stats,
		Degraded: listing.Degraded,
	}
	c.notifyLocked()

	c.logger.Debug("Файлы загружены",
		slog.Int("files", len(listing.Files)),
		slog.Bool("degraded", listing.Degraded),
	)
	return nil
}

// Save сохраняет файл через фасад и добавляет его в начало списка.
// При ошибке (включая model.ErrQuotaExceeded) список не меняется.
func (c *Controller) Save(ctx context.Context, payload []byte, meta model.MetadataRecord) (*vault.FileView, error) {
	fv, err := c.facade.SaveFile(ctx, payload, meta)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.mu.Lock()
	// Повторное сохранение того же ID заменяет запись
	c.state.Files = c.dropLocked(func(f *vault.FileView) bool { return f.ID == fv.ID })
	c.state.Files = append([]*vault.FileView{fv}, c.state.Files...)
	c.state.Err = nil
	c.notifyLocked()
	c.mu.Unlock()

	c.RefreshStats(ctx)
	return fv, nil
}

// Update переименовывает файл и/или меняет теги. Ссылка на содержимое сохраняется.
func (c *Controller) Update(ctx context.Context, id string, patch vault.Patch) (model.MetadataRecord, error) {
	rec, err := c.facade.UpdateFile(ctx, id, patch)
	if err != nil {
		c.fail(err)
		return model.MetadataRecord{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.state.Files {
		if f.ID == id {
			c.state.Files[i] = &vault.FileView{MetadataRecord: rec.Clone(), Handle: f.Handle}
		}
	}
	c.state.Err = nil
	c.notifyLocked()
	return rec, nil
}

// Remove удаляет файл через фасад и убирает его из списка.
func (c *Controller) Remove(ctx context.Context, id string) error {
	if err := c.facade.DeleteFile(ctx, id); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.state.Files = c.dropLocked(func(f *vault.FileView) bool { return f.ID == id })
	c.state.Err = nil
	c.notifyLocked()
	c.mu.Unlock()

	c.RefreshStats(ctx)
	return nil
}

// RemoveMany удаляет файлы через фасад. Из списка убираются только
// файлы, которые фасад действительно удалил; ошибка по остальным
// сохраняется в Err и возвращается.
func (c *Controller) RemoveMany(ctx context.Context, ids []string) error {
	deleted, err := c.facade.DeleteMultipleFiles(ctx, ids)

	if len(deleted) > 0 {
		c.mu.Lock()
		c.state.Files = c.dropLocked(func(f *vault.FileView) bool { return slices.Contains(deleted, f.ID) })
		if err == nil {
			c.state.Err = nil
		}
		c.notifyLocked()
		c.mu.Unlock()
		c.RefreshStats(ctx)
	}

	if err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Clear очищает хранилище. Список и статистика сбрасываются даже при
// ошибке фасада; ошибка сохраняется в Err и возвращается.
func (c *Controller) Clear(ctx context.Context) error {
	err := c.facade.ClearAllFiles(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	releaseAll(c.state.Files)
	c.state.Files = nil
	c.state.Stats = model.StorageStats{}
	c.state.Err = err
	c.notifyLocked()

	if err != nil {
		c.logger.Error("Ошибка очистки хранилища", slog.String("error", err.Error()))
	}
	return err
}

// RefreshStats пересчитывает статистику независимо от списка.
// Ошибки только логируются. При конкурентных вызовах побеждает
// последний завершившийся.
func (c *Controller) RefreshStats(ctx context.Context) {
	stats, err := c.facade.GetStorageStats(ctx)
	if err != nil {
		c.logger.Warn("Ошибка обновления статистики", slog.String("error", err.Error()))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Stats = stats
	c.notifyLocked()
}

// Close освобождает ссылки списка и закрывает каналы подписчиков.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	releaseAll(c.state.Files)
	c.state.Files = nil
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Controller) fail(err error) {
	c.logger.Warn("Операция с файлами завершилась ошибкой", slog.String("error", err.Error()))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Err = err
	c.notifyLocked()
}

// dropLocked возвращает список без файлов, подходящих под match,
// освобождая их ссылки.
func (c *Controller) dropLocked(match func(*vault.FileView) bool) []*vault.FileView {
	kept := make([]*vault.FileView, 0, len(c.state.Files))
	for _, f := range c.state.Files {
		if match(f) {
			f.Handle.Release()
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

func (c *Controller) copyLocked() Snapshot {
	s := c.state
	s.Files = slices.Clone(c.state.Files)
	return s
}

// notifyLocked отправляет текущий снимок всем подписчикам,
// вытесняя непрочитанный.
func (c *Controller) notifyLocked() {
	for _, ch := range c.subs {
		snap := c.copyLocked()
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func releaseAll(files []*vault.FileView) {
	for _, f := range files {
		f.Handle.Release()
	}
}
