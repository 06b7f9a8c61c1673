package filestate

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/handle"
	"github.com/gopi202005/cloud-vault-web/internal/quota"
	"github.com/gopi202005/cloud-vault-web/internal/storage/metaindex"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
	"github.com/gopi202005/cloud-vault-web/internal/storage/scratch"
	"github.com/gopi202005/cloud-vault-web/internal/vault"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// env — контроллер поверх настоящего фасада с движком в памяти.
type env struct {
	ctrl       *Controller
	vault      *vault.Vault
	engine     *objectstore.MemoryEngine
	index      *metaindex.Index
	handles    *handle.Registry
	scratchDir string
}

func newEnvWith(t *testing.T, engine objectstore.Engine, scratchDir string, est quota.Estimator) *env {
	t.Helper()
	sc, err := scratch.New(scratchDir, 0)
	if err != nil {
		t.Fatalf("ошибка создания scratch: %v", err)
	}
	index := metaindex.New(sc, testLogger())
	if err := index.Load(); err != nil {
		t.Fatalf("ошибка загрузки индекса: %v", err)
	}
	handles := handle.NewRegistry("")
	v := vault.New(objectstore.New(engine, testLogger()), index, quota.NewGate(est), est, handles, testLogger())

	e := &env{
		ctrl:       New(v, testLogger()),
		vault:      v,
		index:      index,
		handles:    handles,
		scratchDir: scratchDir,
	}
	if me, ok := engine.(*objectstore.MemoryEngine); ok {
		e.engine = me
	}
	return e
}

func newEnv(t *testing.T, est quota.Estimator) *env {
	return newEnvWith(t, objectstore.NewMemoryEngine(), t.TempDir(), est)
}

func meta(id string) model.MetadataRecord {
	return model.MetadataRecord{ID: id, Name: id + ".jpg", MimeType: "image/jpeg"}
}

func fileIDs(s Snapshot) string {
	out := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		out = append(out, f.ID)
	}
	return strings.Join(out, ",")
}

// TestSave_PrependsAndRefreshesStats проверяет порядок новые-первыми и статистику.
func TestSave_PrependsAndRefreshesStats(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if err := e.ctrl.Load(ctx); err != nil {
		t.Fatalf("ошибка Load: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := e.ctrl.Save(ctx, []byte("1234"), meta(id)); err != nil {
			t.Fatalf("ошибка Save: %v", err)
		}
	}

	snap := e.ctrl.Snapshot()
	if fileIDs(snap) != "b,a" {
		t.Errorf("ожидалось b,a, получено %s", fileIDs(snap))
	}
	if snap.Stats.TotalFiles != 2 || snap.Stats.TotalSize != 8 {
		t.Errorf("статистика не обновлена: %+v", snap.Stats)
	}
	if snap.Err != nil || snap.Loading {
		t.Errorf("неожиданное состояние: err=%v loading=%v", snap.Err, snap.Loading)
	}
}

// TestSave_QuotaExceededKeepsList проверяет неизменность списка после отказа квоты.
func TestSave_QuotaExceededKeepsList(t *testing.T) {
	e := newEnv(t, quota.Fixed{Used: 900, Quota: 1000})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := e.ctrl.Save(ctx, []byte("x"), meta(id)); err != nil {
			t.Fatalf("ошибка Save: %v", err)
		}
	}
	before := fileIDs(e.ctrl.Snapshot())

	_, err := e.ctrl.Save(ctx, make([]byte, 500), meta("big"))
	if !errors.Is(err, model.ErrQuotaExceeded) {
		t.Fatalf("ожидалась ErrQuotaExceeded, получено %v", err)
	}

	snap := e.ctrl.Snapshot()
	if fileIDs(snap) != before {
		t.Errorf("список изменился: было %s, стало %s", before, fileIDs(snap))
	}
	if !errors.Is(snap.Err, model.ErrQuotaExceeded) {
		t.Errorf("ошибка должна быть в состоянии: %v", snap.Err)
	}
}

// TestLoad_Failure проверяет пустой список, нулевую статистику и ErrLoadFailed.
func TestLoad_Failure(t *testing.T) {
	e := newEnvWith(t, objectstore.Unsupported{}, t.TempDir(), quota.Fixed{Used: 1, Quota: 2})

	err := e.ctrl.Load(context.Background())
	if !errors.Is(err, model.ErrLoadFailed) || !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("ожидалась ErrLoadFailed поверх ErrStoreUnavailable, получено %v", err)
	}

	snap := e.ctrl.Snapshot()
	if len(snap.Files) != 0 || snap.Stats != (model.StorageStats{}) || snap.Loading {
		t.Errorf("ожидалось пустое состояние: %+v", snap)
	}
	if !errors.Is(snap.Err, model.ErrLoadFailed) || !snap.Degraded {
		t.Errorf("ожидалась ошибка загрузки в деградированном режиме: %+v", snap)
	}
}

// TestLoad_ReplacesAndReleases проверяет замену списка и освобождение старых ссылок.
func TestLoad_ReplacesAndReleases(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if _, err := e.ctrl.Save(ctx, []byte("x"), meta("a")); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	old := e.ctrl.Snapshot().Files[0].Handle

	if err := e.ctrl.Load(ctx); err != nil {
		t.Fatalf("ошибка Load: %v", err)
	}
	if !old.Released() {
		t.Error("ссылка заменённого списка должна быть освобождена")
	}
	if e.handles.Live() != 1 {
		t.Errorf("ожидалась 1 живая ссылка, получено %d", e.handles.Live())
	}
}

func TestRemove(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, err := e.ctrl.Save(ctx, []byte("xy"), meta(id)); err != nil {
			t.Fatalf("ошибка Save: %v", err)
		}
	}
	removed := e.ctrl.Snapshot().Files[1].Handle

	if err := e.ctrl.Remove(ctx, "a"); err != nil {
		t.Fatalf("ошибка Remove: %v", err)
	}
	snap := e.ctrl.Snapshot()
	if fileIDs(snap) != "b" || snap.Stats.TotalFiles != 1 || snap.Stats.TotalSize != 2 {
		t.Errorf("неожиданное состояние: %s %+v", fileIDs(snap), snap.Stats)
	}
	if !removed.Released() {
		t.Error("ссылка удалённого файла должна быть освобождена")
	}

	// Повторное удаление не ошибка
	if err := e.ctrl.Remove(ctx, "a"); err != nil {
		t.Errorf("повторное удаление: %v", err)
	}
}

// TestRemove_FailureKeepsList проверяет, что при ошибке удаления список не меняется.
func TestRemove_FailureKeepsList(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if _, err := e.ctrl.Save(ctx, []byte("x"), meta("a")); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	e.engine.InjectError("delete", errors.New("отказ хоста"))

	if err := e.ctrl.Remove(ctx, "a"); !errors.Is(err, model.ErrDeleteFailed) {
		t.Fatalf("ожидалась ErrDeleteFailed, получено %v", err)
	}
	snap := e.ctrl.Snapshot()
	if fileIDs(snap) != "a" || snap.Files[0].Handle.Released() {
		t.Errorf("список должен остаться прежним: %s", fileIDs(snap))
	}
	if !errors.Is(snap.Err, model.ErrDeleteFailed) {
		t.Errorf("ошибка должна быть в состоянии: %v", snap.Err)
	}
}

func TestRemoveMany(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	for _, id := range []string{"a", "c", "d"} {
		if _, err := e.ctrl.Save(ctx, []byte("x"), meta(id)); err != nil {
			t.Fatalf("ошибка Save: %v", err)
		}
	}
	if err := e.ctrl.RemoveMany(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("ошибка RemoveMany: %v", err)
	}

	snap := e.ctrl.Snapshot()
	if fileIDs(snap) != "d" || snap.Stats.TotalFiles != 1 {
		t.Errorf("ожидалось d, получено %s (%+v)", fileIDs(snap), snap.Stats)
	}
}

// TestClear_ResetsEvenOnFailure проверяет сброс состояния при ошибке фасада.
func TestClear_ResetsEvenOnFailure(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if _, err := e.ctrl.Save(ctx, []byte("x"), meta("a")); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	e.engine.InjectError("clear", errors.New("отказ хоста"))

	if err := e.ctrl.Clear(ctx); !errors.Is(err, model.ErrDeleteFailed) {
		t.Fatalf("ожидалась ErrDeleteFailed, получено %v", err)
	}
	snap := e.ctrl.Snapshot()
	if len(snap.Files) != 0 || snap.Stats != (model.StorageStats{}) {
		t.Errorf("состояние должно быть сброшено: %+v", snap)
	}
	if e.handles.Live() != 0 {
		t.Errorf("ссылки должны быть освобождены, живых %d", e.handles.Live())
	}
}

func TestUpdate_KeepsHandle(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if _, err := e.ctrl.Save(ctx, []byte("x"), meta("a")); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	h := e.ctrl.Snapshot().Files[0].Handle

	name := "renamed.jpg"
	if _, err := e.ctrl.Update(ctx, "a", vault.Patch{Name: &name}); err != nil {
		t.Fatalf("ошибка Update: %v", err)
	}
	f := e.ctrl.Snapshot().Files[0]
	if f.Name != name || f.Handle != h {
		t.Errorf("ожидалось новое имя с прежней ссылкой: %+v", f)
	}
}

// TestSubscribe_LatestSnapshot проверяет, что подписчик видит последнее состояние.
func TestSubscribe_LatestSnapshot(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	ch, unsubscribe := e.ctrl.Subscribe()
	initial := <-ch
	if len(initial.Files) != 0 {
		t.Fatalf("ожидалось пустое начальное состояние: %s", fileIDs(initial))
	}

	for _, id := range []string{"a", "b", "c"} {
		if _, err := e.ctrl.Save(ctx, []byte("x"), meta(id)); err != nil {
			t.Fatalf("ошибка Save: %v", err)
		}
	}

	latest := <-ch
	if fileIDs(latest) != "c,b,a" || latest.Stats.TotalFiles != 3 {
		t.Errorf("ожидался последний снимок c,b,a: %s %+v", fileIDs(latest), latest.Stats)
	}

	unsubscribe()
	unsubscribe()
	if _, ok := <-ch; ok {
		t.Error("канал должен быть закрыт после отписки")
	}
}

// TestSubscribe_UnsubscribeAfterClose проверяет отписку после закрытия
// контроллера: канал закрыт один раз, повторное закрытие не паникует.
func TestSubscribe_UnsubscribeAfterClose(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})

	ch, unsubscribe := e.ctrl.Subscribe()
	<-ch

	e.ctrl.Close()
	if _, ok := <-ch; ok {
		t.Error("канал должен быть закрыт после Close")
	}

	unsubscribe()
	unsubscribe()
}

// TestRefreshStats_LastWriteWins проверяет независимое обновление статистики.
func TestRefreshStats_Independent(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if _, err := e.vault.SaveFile(ctx, []byte("abc"), meta("direct")); err != nil {
		t.Fatalf("ошибка SaveFile: %v", err)
	}
	e.ctrl.RefreshStats(ctx)

	snap := e.ctrl.Snapshot()
	if snap.Stats.TotalFiles != 1 || len(snap.Files) != 0 {
		t.Errorf("статистика обновляется без изменения списка: %+v / %s", snap.Stats, fileIDs(snap))
	}
}

// TestWatcher_ExternalChange проверяет перезагрузку после записи другим процессом.
func TestWatcher_ExternalChange(t *testing.T) {
	engine := objectstore.NewMemoryEngine()
	dir := t.TempDir()
	a := newEnvWith(t, engine, dir, quota.Unavailable{})
	b := newEnvWith(t, engine, dir, quota.Unavailable{})
	ctx := context.Background()

	if err := a.ctrl.Load(ctx); err != nil {
		t.Fatalf("ошибка Load: %v", err)
	}
	w := NewWatcher(a.ctrl, a.index, dir, time.Hour, testLogger())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("ошибка Start: %v", err)
	}
	defer w.Stop()

	ch, unsubscribe := a.ctrl.Subscribe()
	defer unsubscribe()

	if _, err := b.ctrl.Save(ctx, []byte("x"), meta("from-b")); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if fileIDs(snap) == "from-b" {
				return
			}
		case <-deadline:
			t.Fatalf("список не перезагружен: %s", fileIDs(a.ctrl.Snapshot()))
		}
	}
}

// TestWatcher_OwnWriteIgnored проверяет, что собственная запись не вызывает перезагрузку.
func TestWatcher_OwnWriteIgnored(t *testing.T) {
	e := newEnv(t, quota.Unavailable{})
	ctx := context.Background()

	if _, err := e.ctrl.Save(ctx, []byte("x"), meta("a")); err != nil {
		t.Fatalf("ошибка Save: %v", err)
	}
	w := NewWatcher(e.ctrl, e.index, e.scratchDir, 0, testLogger())
	if w.CheckExternal(ctx) {
		t.Error("собственная запись не должна считаться внешним изменением")
	}
	w.Stop()
}
