// Пакет quota — оценка занятой и доступной ёмкости хранилища
// и предварительная проверка допуска записи (Gate).
//
// Оценка рекомендательная: может быть устаревшей или приблизительной,
// авторитетен только результат самой записи.
package quota

import (
	"context"
	"io/fs"
	"log/slog"
	"path/filepath"
)

// Estimate — результат оценки ёмкости в байтах.
type Estimate struct {
	Used  int64
	Quota int64
	// Known — false, если хост не смог сообщить ёмкость; тогда Used и Quota равны 0
	Known bool
}

// Available возвращает Quota - Used (не меньше 0).
func (e Estimate) Available() int64 {
	if e.Quota <= e.Used {
		return 0
	}
	return e.Quota - e.Used
}

// Estimator — источник оценки ёмкости. Estimate никогда не возвращает ошибку:
// при невозможности оценки возвращается Estimate{Known: false}.
type Estimator interface {
	Estimate(ctx context.Context) Estimate
}

// DirEstimator оценивает ёмкость по директории данных хранилища:
// Used — суммарный размер файлов в директории,
// Quota — min(настроенная квота, Used + свободное место на разделе).
type DirEstimator struct {
	dir    string
	quota  int64
	statfs func(path string) (total, used, available int64, err error)
	logger *slog.Logger
}

// NewDirEstimator создаёт оценщик для dir. quota <= 0 — квота
// ограничена только свободным местом на диске.
func NewDirEstimator(dir string, quota int64, logger *slog.Logger) *DirEstimator {
	return &DirEstimator{
		dir:    dir,
		quota:  quota,
		statfs: diskUsage,
		logger: logger.With(slog.String("component", "quota")),
	}
}

// Estimate выполняет оценку. Без настроенной квоты и без statfs
// возвращает Estimate{Known: false}.
func (d *DirEstimator) Estimate(ctx context.Context) Estimate {
	used := dirSize(ctx, d.dir)

	_, _, available, err := d.statfs(d.dir)
	if err != nil {
		d.logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
		if d.quota <= 0 {
			return Estimate{}
		}
		return Estimate{Used: used, Quota: d.quota, Known: true}
	}

	quota := used + available
	if d.quota > 0 && d.quota < quota {
		quota = d.quota
	}
	return Estimate{Used: used, Quota: quota, Known: true}
}

// dirSize возвращает суммарный размер обычных файлов в dir.
// Недоступные элементы пропускаются.
func dirSize(ctx context.Context, dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return filepath.SkipAll
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// Fixed — оценщик с фиксированным результатом.
type Fixed struct {
	Used  int64
	Quota int64
}

// Estimate возвращает фиксированную оценку.
func (f Fixed) Estimate(context.Context) Estimate {
	return Estimate{Used: f.Used, Quota: f.Quota, Known: true}
}

// Unavailable — хост не умеет оценивать ёмкость.
type Unavailable struct{}

// Estimate всегда возвращает Estimate{Known: false}.
func (Unavailable) Estimate(context.Context) Estimate { return Estimate{} }
