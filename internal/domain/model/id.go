package model

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID генерирует уникальный идентификатор файла, сортируемый по времени:
// {unix-миллисекунды}-{uuid}. Вызывающий код может использовать любой
// другой глобально уникальный токен.
func NewID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()
}
