// Пакет sqlitestore — движок хранилища объектов на SQLite (gorm).
// Метаданные и содержимое хранятся в одной строке таблицы files,
// upsert выполняется через ON CONFLICT(id) DO UPDATE.
package sqlitestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/gopi202005/cloud-vault-web/internal/domain/model"
	"github.com/gopi202005/cloud-vault-web/internal/storage/objectstore"
)

// fileRow — строка таблицы files.
type fileRow struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	MimeType   string    `gorm:"index:idx_files_mime_type"`
	SizeBytes  int64     `gorm:"not null"`
	UploadedAt time.Time `gorm:"index:idx_files_uploaded_at"`
	Tags       []string  `gorm:"serializer:json"`
	Checksum   string
	Payload    []byte
}

// TableName задаёт имя таблицы коллекции.
func (fileRow) TableName() string { return "files" }

// Engine — движок SQLite. DSN — путь к файлу базы или ":memory:".
type Engine struct {
	dsn string
}

// NewEngine создаёт движок для базы dsn.
func NewEngine(dsn string) *Engine {
	return &Engine{dsn: dsn}
}

// Name возвращает имя движка.
func (e *Engine) Name() string { return "sqlite" }

// Open открывает базу и выполняет миграцию схемы: таблица files
// и вторичные индексы по uploaded_at и mime_type.
func (e *Engine) Open(ctx context.Context) (objectstore.Conn, error) {
	if e.dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(e.dsn), 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию базы: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(e.dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", e.dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sql.DB: %w", err)
	}
	// Одно соединение: база ":memory:" существует только в рамках соединения,
	// а SQLite всё равно сериализует запись.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).AutoMigrate(&fileRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ошибка миграции схемы: %w", err)
	}

	return &Conn{db: db}, nil
}

// Conn — открытое соединение с базой.
type Conn struct {
	db *gorm.DB
}

// Put сохраняет запись (upsert по ID) и вычисляет SHA-256 содержимого.
func (c *Conn) Put(ctx context.Context, f *model.StoredFile) error {
	if int64(len(f.Payload)) != f.SizeBytes {
		return fmt.Errorf("размер содержимого %d не совпадает с %d", len(f.Payload), f.SizeBytes)
	}
	sum := sha256.Sum256(f.Payload)
	f.Checksum = hex.EncodeToString(sum[:])

	row := fileRow{
		ID:         f.ID,
		Name:       f.Name,
		MimeType:   f.MimeType,
		SizeBytes:  f.SizeBytes,
		UploadedAt: f.UploadedAt.UTC(),
		Tags:       f.Tags,
		Checksum:   f.Checksum,
		Payload:    f.Payload,
	}
	err := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("ошибка записи %s: %w", f.ID, err)
	}
	return nil
}

// Get читает запись по ID или возвращает model.ErrNotFound.
func (c *Conn) Get(ctx context.Context, id string) (*model.StoredFile, error) {
	var row fileRow
	err := c.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения %s: %w", id, err)
	}
	return &model.StoredFile{
		ID:         row.ID,
		Name:       row.Name,
		MimeType:   row.MimeType,
		SizeBytes:  row.SizeBytes,
		UploadedAt: row.UploadedAt.UTC(),
		Tags:       row.Tags,
		Checksum:   row.Checksum,
		Payload:    row.Payload,
	}, nil
}

// Scan возвращает ID всех записей, новые первыми (по индексу uploaded_at).
func (c *Conn) Scan(ctx context.Context) ([]string, error) {
	var ids []string
	err := c.db.WithContext(ctx).Model(&fileRow{}).
		Order("uploaded_at DESC").Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка: %w", err)
	}
	return ids, nil
}

// ListMetadata возвращает метаданные всех записей без столбца payload.
func (c *Conn) ListMetadata(ctx context.Context) ([]model.MetadataRecord, error) {
	var rows []fileRow
	err := c.db.WithContext(ctx).
		Select("id", "name", "mime_type", "size_bytes", "uploaded_at", "tags", "checksum").
		Order("uploaded_at DESC").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения метаданных: %w", err)
	}
	result := make([]model.MetadataRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, model.MetadataRecord{
			ID:         row.ID,
			Name:       row.Name,
			MimeType:   row.MimeType,
			SizeBytes:  row.SizeBytes,
			UploadedAt: row.UploadedAt.UTC(),
			Tags:       row.Tags,
			Checksum:   row.Checksum,
		})
	}
	return result, nil
}

// PutMetadata изменяет имя и теги записи, не трогая содержимое.
func (c *Conn) PutMetadata(ctx context.Context, meta model.MetadataRecord) error {
	res := c.db.WithContext(ctx).Model(&fileRow{}).Where("id = ?", meta.ID).
		Select("name", "tags").
		Updates(&fileRow{Name: meta.Name, Tags: meta.Tags})
	if res.Error != nil {
		return fmt.Errorf("ошибка обновления %s: %w", meta.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

// Delete удаляет запись. Отсутствие записи не является ошибкой.
func (c *Conn) Delete(ctx context.Context, id string) error {
	if err := c.db.WithContext(ctx).Where("id = ?", id).Delete(&fileRow{}).Error; err != nil {
		return fmt.Errorf("ошибка удаления %s: %w", id, err)
	}
	return nil
}

// Clear удаляет все записи.
func (c *Conn) Clear(ctx context.Context) error {
	err := c.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&fileRow{}).Error
	if err != nil {
		return fmt.Errorf("ошибка очистки: %w", err)
	}
	return nil
}

// Close закрывает соединение с базой.
func (c *Conn) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
