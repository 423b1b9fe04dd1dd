package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigMissing — runtime файл не существует.
	ErrConfigMissing = errors.New("config file does not exist")

	// ErrConfigInvalid — файл не прошёл проверку схемы.
	ErrConfigInvalid = errors.New("bad configuration")

	// ErrUnknownKey — неизвестный параметр.
	ErrUnknownKey = errors.New("unknown parameter")
)

// FieldError — ошибка конкретного параметра файла.
type FieldError struct {
	Group string // группа (dagman, slurm)
	Key   string // имя параметра (может быть пустым для ошибок группы)
	Msg   string
}

// Error реализует интерфейс error.
func (e *FieldError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("bad configuration: %s %s", e.Msg, e.Group)
	}
	return fmt.Sprintf("bad configuration: %s %s in group %s", e.Msg, e.Key, e.Group)
}

// Unwrap возвращает ErrConfigInvalid.
func (e *FieldError) Unwrap() error {
	return ErrConfigInvalid
}
