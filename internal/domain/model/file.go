// Пакет model — доменные модели медиа-хранилища.
// StoredFile — запись хранилища (метаданные + содержимое),
// MetadataRecord — её проекция без содержимого, используется
// индексом метаданных, статистикой и UI-слоем.
package model

import (
	"math"
	"strings"
	"time"
)

// StoredFile — запись в хранилище двоичных объектов.
// Содержимое (Payload) принадлежит исключительно хранилищу объектов
// и никогда не попадает в индекс метаданных.
type StoredFile struct {
	// ID — уникальный идентификатор, задаётся вызывающим кодом, неизменяемый
	ID string
	// Name — отображаемое имя, меняется только через переименование
	Name string
	// MimeType — MIME-тип содержимого (image/..., video/...)
	MimeType string
	// SizeBytes — размер содержимого в байтах, равен len(Payload)
	SizeBytes int64
	// UploadedAt — время загрузки (UTC)
	UploadedAt time.Time
	// Tags — пользовательские теги (опционально)
	Tags []string
	// Checksum — SHA-256 содержимого, вычисляется хранилищем
	Checksum string
	// Payload — двоичное содержимое файла
	Payload []byte
}

// Metadata возвращает проекцию записи без содержимого.
func (f *StoredFile) Metadata() MetadataRecord {
	return MetadataRecord{
		ID:         f.ID,
		Name:       f.Name,
		MimeType:   f.MimeType,
		SizeBytes:  f.SizeBytes,
		UploadedAt: f.UploadedAt,
		Tags:       cloneTags(f.Tags),
		Checksum:   f.Checksum,
	}
}

// MetadataRecord — метаданные файла без содержимого.
// JSON-представление совпадает с форматом scratch-хранилища.
type MetadataRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	MimeType   string    `json:"type"`
	SizeBytes  int64     `json:"size"`
	UploadedAt time.Time `json:"uploadDate"`
	Tags       []string  `json:"tags,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
}

// Clone возвращает глубокую копию записи.
func (m MetadataRecord) Clone() MetadataRecord {
	m.Tags = cloneTags(m.Tags)
	return m
}

// Validate проверяет обязательные поля записи.
func (m MetadataRecord) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalid("пустой id")
	}
	if strings.TrimSpace(m.Name) == "" {
		return invalid("пустое имя файла")
	}
	if m.SizeBytes < 0 {
		return invalid("отрицательный размер")
	}
	return nil
}

// Kind возвращает категорию файла по MIME-типу: image, video, audio или other.
func (m MetadataRecord) Kind() string {
	prefix, _, _ := strings.Cut(m.MimeType, "/")
	switch prefix {
	case "image", "video", "audio":
		return prefix
	default:
		return "other"
	}
}

// StorageStats — производная (не персистентная) статистика хранилища.
// TotalFiles/TotalSize — детерминированные агрегаты по индексу метаданных,
// StorageUsed/StorageQuota — рекомендательные оценки хоста.
type StorageStats struct {
	TotalFiles   int   `json:"totalFiles"`
	TotalSize    int64 `json:"totalSize"`
	StorageUsed  int64 `json:"storageUsed"`
	StorageQuota int64 `json:"storageQuota"`
}

// Уровни заполненности квоты.
const (
	LevelOK       = "ok"
	LevelWarning  = "warning"
	LevelCritical = "critical"
)

// UsagePercent возвращает процент использования квоты с точностью
// до сотых. 0, если квота неизвестна.
func (s StorageStats) UsagePercent() float64 {
	if s.StorageQuota <= 0 {
		return 0
	}
	p := float64(s.StorageUsed) / float64(s.StorageQuota) * 100
	return math.Round(p*100) / 100
}

// Level возвращает уровень заполненности: warning от 75%, critical от 90%.
func (s StorageStats) Level() string {
	p := s.UsagePercent()
	switch {
	case p >= 90:
		return LevelCritical
	case p >= 75:
		return LevelWarning
	default:
		return LevelOK
	}
}

func cloneTags(tags []string) []string {
	if tags == nil {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
