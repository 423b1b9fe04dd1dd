package slurm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnexpectedOutput — вывод команды не удалось разобрать.
	ErrUnexpectedOutput = errors.New("unexpected scheduler output")

	// ErrSubmitRejected — sbatch не вернул job ID.
	ErrSubmitRejected = errors.New("submission rejected")
)

// CommandError — ошибка запуска команды планировщика.
type CommandError struct {
	Command string   // имя команды (sbatch, sacct, ...)
	Args    []string // аргументы
	Stderr  string   // stderr команды
	Err     error    // базовая ошибка (exit status, таймаут)
}

// Error реализует интерфейс error.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// Unwrap возвращает базовую ошибку.
func (e *CommandError) Unwrap() error {
	return e.Err
}
