package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/handle"
	"github.com/gopi202005/cloud-vault-web/internal/quota"
	"github.com/gopi202005/cloud-vault-web/internal/storage/attr"
	"github.com/gopi202005/cloud-vault-web/internal/storage/filestore"
	"github.com/gopi202005/cloud-vault-web/internal/storage/metaindex"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
	"github.com/gopi202005/cloud-vault-web/internal/vault"
)

// reconcileEnv — фасад поверх filestore в временной директории.
type reconcileEnv struct {
	dir   string
	store *objectstore.Store
	index *metaindex.Index
	vault *vault.Vault
}

// setupReconcileTestEnv создаёт тестовое окружение для reconciliation тестов.
func setupReconcileTestEnv(t *testing.T) *reconcileEnv {
	t.Helper()

	logger := testLogger()
	dir := t.TempDir()
	store := objectstore.New(filestore.NewEngine(dir), logger)
	idx := metaindex.New(nil, logger)
	est := quota.Unavailable{}
	v := vault.New(store, idx, quota.NewGate(est), est, handle.NewRegistry(""), logger)

	return &reconcileEnv{dir: dir, store: store, index: idx, vault: v}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func (e *reconcileEnv) save(t *testing.T, id, content string) {
	t.Helper()
	_, err := e.vault.SaveFile(context.Background(), []byte(content),
		model.MetadataRecord{ID: id, Name: id + ".txt", MimeType: "text/plain"})
	if err != nil {
		t.Fatalf("Ошибка сохранения: %v", err)
	}
}

func TestReconcileRunOnce_NoIssues(t *testing.T) {
	env := setupReconcileTestEnv(t)
	env.save(t, "good-1", "test data")

	rs := NewReconcileService(env.vault, env.store, time.Hour, nil, testLogger())
	result, skipped := rs.RunOnce(context.Background())

	if skipped {
		t.Fatal("Reconciliation пропущена")
	}
	if result.Issues() != 0 || len(result.Errors) != 0 {
		t.Errorf("Ожидалось 0 проблем, получено %+v", result)
	}
	if rs.LastResult() != result {
		t.Error("LastResult должен вернуть последний результат")
	}
}

// TestReconcileRunOnce_AllIssueKinds проверяет все виды проблем за один запуск.
func TestReconcileRunOnce_AllIssueKinds(t *testing.T) {
	env := setupReconcileTestEnv(t)
	for _, id := range []string{"kept", "lost-attr", "corrupt", "unindexed"} {
		env.save(t, id, "data")
	}

	// Файл содержимого без attr.json
	lostPath := filepath.Join(env.dir, filestore.StorageName("lost-attr"))
	if err := attr.Delete(attr.AttrFilePath(lostPath)); err != nil {
		t.Fatalf("Ошибка подготовки: %v", err)
	}
	// Повреждённое содержимое
	if err := os.WriteFile(filepath.Join(env.dir, filestore.StorageName("corrupt")), []byte("DATA"), 0o640); err != nil {
		t.Fatalf("Ошибка подготовки: %v", err)
	}
	// Запись хранилища без записи в индексе
	if err := env.index.Remove("unindexed"); err != nil {
		t.Fatalf("Ошибка подготовки: %v", err)
	}

	var changes atomic.Int32
	rs := NewReconcileService(env.vault, env.store, time.Hour,
		func(context.Context) { changes.Add(1) }, testLogger())
	result, _ := rs.RunOnce(context.Background())

	if len(result.SweptPayloads) != 1 {
		t.Errorf("Ожидался 1 удалённый файл содержимого, получено %v", result.SweptPayloads)
	}
	if strings.Join(result.Missing, ",") != "unindexed" {
		t.Errorf("Missing: %v", result.Missing)
	}
	if strings.Join(result.Orphaned, ",") != "lost-attr" {
		t.Errorf("Orphaned: %v", result.Orphaned)
	}
	if len(result.Mismatches) != 1 || result.Mismatches[0].ID != "corrupt" ||
		result.Mismatches[0].Kind != objectstore.MismatchChecksum {
		t.Errorf("Mismatches: %+v", result.Mismatches)
	}
	if changes.Load() != 1 {
		t.Errorf("onChange должен быть вызван один раз, вызван %d", changes.Load())
	}
	if env.index.Count() != 3 {
		t.Errorf("В индексе ожидалось 3 записи, получено %d", env.index.Count())
	}
}

// slowReconciler блокирует Reconcile до закрытия release.
type slowReconciler struct {
	started chan struct{}
	release chan struct{}
}

func (s *slowReconciler) Reconcile(context.Context) (metaindex.DriftReport, error) {
	close(s.started)
	<-s.release
	return metaindex.DriftReport{}, nil
}

type noopObjects struct{}

func (noopObjects) Sweep(context.Context) ([]string, error)                { return nil, nil }
func (noopObjects) Verify(context.Context) ([]objectstore.Mismatch, error) { return nil, nil }

// TestReconcileRunOnce_SkipWhenInProgress проверяет защиту от параллельного запуска.
func TestReconcileRunOnce_SkipWhenInProgress(t *testing.T) {
	slow := &slowReconciler{started: make(chan struct{}), release: make(chan struct{})}
	rs := NewReconcileService(slow, noopObjects{}, time.Hour, nil, testLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rs.RunOnce(context.Background())
	}()
	<-slow.started

	if !rs.IsInProgress() {
		t.Error("Ожидался флаг выполнения")
	}
	if _, skipped := rs.RunOnce(context.Background()); !skipped {
		t.Error("Параллельный запуск должен быть пропущен")
	}

	close(slow.release)
	wg.Wait()
	if rs.IsInProgress() {
		t.Error("Флаг выполнения должен быть сброшен")
	}
}

// TestReconcileRunOnce_StoreUnavailable проверяет запись ошибок фаз.
func TestReconcileRunOnce_StoreUnavailable(t *testing.T) {
	logger := testLogger()
	store := objectstore.New(objectstore.Unsupported{}, logger)
	idx := metaindex.New(nil, logger)
	est := quota.Unavailable{}
	v := vault.New(store, idx, quota.NewGate(est), est, handle.NewRegistry(""), logger)

	rs := NewReconcileService(v, store, time.Hour, nil, logger)
	result, _ := rs.RunOnce(context.Background())
	if len(result.Errors) != 3 {
		t.Errorf("Ожидалось 3 ошибки фаз, получено %v", result.Errors)
	}
}

func TestReconcileStartStop(t *testing.T) {
	env := setupReconcileTestEnv(t)
	rs := NewReconcileService(env.vault, env.store, 10*time.Millisecond, nil, testLogger())

	rs.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for rs.LastResult() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rs.Stop()

	if rs.LastResult() == nil {
		t.Error("Фоновый запуск не выполнился")
	}
}
