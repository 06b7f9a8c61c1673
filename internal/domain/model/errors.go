// errors.go — таксономия ошибок слоя хранения.
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable — хост не предоставляет персистентное хранилище.
	ErrStoreUnavailable = errors.New("хранилище недоступно")
	// ErrQuotaExceeded — предварительная проверка квоты отклонила запись.
	ErrQuotaExceeded = errors.New("превышена квота хранилища, удалите часть файлов")
	// ErrWriteFailed — хост отклонил запись после проверки квоты.
	ErrWriteFailed = errors.New("ошибка записи в хранилище")
	// ErrDeleteFailed — хост отклонил удаление.
	ErrDeleteFailed = errors.New("ошибка удаления из хранилища")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("файл не найден")
	// ErrInvalidRecord — некорректные метаданные или содержимое.
	ErrInvalidRecord = errors.New("некорректная запись")
	// ErrMetadataIndexDrift — индекс метаданных расходится с хранилищем объектов.
	ErrMetadataIndexDrift = errors.New("расхождение индекса метаданных")
	// ErrLoadFailed — не удалось загрузить состояние из хранилища.
	ErrLoadFailed = errors.New("не удалось загрузить файлы из хранилища")
	// ErrScratchFull — превышен лимит вспомогательного хранилища.
	ErrScratchFull = errors.New("превышен лимит вспомогательного хранилища")
)

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, reason)
}
