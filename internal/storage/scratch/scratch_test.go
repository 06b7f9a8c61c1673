package scratch

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
)

func TestSetGetRemove(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}
	if s.Limit() != DefaultLimit {
		t.Errorf("ожидался лимит по умолчанию, получено %d", s.Limit())
	}

	if _, ok, err := s.Get("k"); err != nil || ok {
		t.Fatalf("ключа не должно быть: ok=%v err=%v", ok, err)
	}
	if err := s.Set("k", []byte(`[1,2]`)); err != nil {
		t.Fatalf("ошибка Set: %v", err)
	}
	v, ok, err := s.Get("k")
	if err != nil || !ok || !bytes.Equal(v, []byte(`[1,2]`)) {
		t.Fatalf("неожиданное значение: %q ok=%v err=%v", v, ok, err)
	}

	for range 2 {
		if err := s.Remove("k"); err != nil {
			t.Fatalf("ошибка Remove: %v", err)
		}
	}
	if _, ok, _ := s.Get("k"); ok {
		t.Error("ключ должен быть удалён")
	}
}

// TestSet_Limit проверяет ErrScratchFull и неизменность хранилища.
func TestSet_Limit(t *testing.T) {
	s, err := New(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}

	if err := s.Set("a", []byte("12345678")); err != nil {
		t.Fatalf("ошибка Set: %v", err)
	}
	if err := s.Set("b", []byte("123")); !errors.Is(err, model.ErrScratchFull) {
		t.Fatalf("ожидалась ErrScratchFull, получено %v", err)
	}
	if _, ok, _ := s.Get("b"); ok {
		t.Error("отклонённое значение не должно быть записано")
	}

	// Перезапись ключа учитывает освобождаемый объём
	if err := s.Set("a", []byte("0123456789")); err != nil {
		t.Errorf("перезапись в пределах лимита должна пройти: %v", err)
	}
	used, err := s.Usage()
	if err != nil || used != 10 {
		t.Errorf("ожидалось 10 байт, получено %d (%v)", used, err)
	}
}

func TestInvalidKey(t *testing.T) {
	s, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}
	for _, key := range []string{"", "../x", `a\b`} {
		if err := s.Set(key, []byte("x")); err == nil {
			t.Errorf("ключ %q должен быть отклонён", key)
		}
	}
}

func TestSet_NoTmpFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0)
	if err != nil {
		t.Fatalf("ошибка создания: %v", err)
	}
	if err := s.Set("k", []byte("{}")); err != nil {
		t.Fatalf("ошибка Set: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "k.json.tmp")); !os.IsNotExist(err) {
		t.Error("временный файл не должен существовать")
	}
	if !IsValueFile("k.json") || IsValueFile("k.json.tmp") {
		t.Error("IsValueFile работает некорректно")
	}
}
