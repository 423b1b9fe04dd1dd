package engine

import (
	"errors"
	"fmt"
)

// Ошибки парсинга DAG файла.
var (
	// ErrMalformedLine — строка не соответствует грамматике.
	ErrMalformedLine = errors.New("malformed line")

	// ErrDuplicateNode — узел объявлен дважды.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode — ссылка на узел без строки JOB.
	ErrUnknownNode = errors.New("unknown node")

	// ErrDuplicateVars — вторая строка VARS для узла.
	ErrDuplicateVars = errors.New("duplicate VARS line")

	// ErrDuplicateRetry — вторая строка RETRY для узла или для ALL_NODES.
	ErrDuplicateRetry = errors.New("duplicate RETRY line")

	// ErrCyclicDependency — обнаружен цикл в PARENT/CHILD.
	ErrCyclicDependency = errors.New("cyclic dependency detected")
)

// ErrNoTarget — не указан файл для записи DAG.
var ErrNoTarget = errors.New("dag file not specified")

// Ожидаемые форматы строк, используются в сообщениях об ошибках.
const (
	expectJob    = "JOB <node> <job-submission-file> [DONE]"
	expectVars   = `VARS <node> <macro-1-key>="<macro-1-value>" [<macro-2-key>="<macro-2-value>" ...]`
	expectParent = "PARENT <parent-node-1> [<parent-node-2> ...] CHILD <child-node-1> [<child-node-2> ...]"
	expectRetry  = "RETRY [<node> | ALL_NODES] <max-retries> [UNLESS-EXIT <exit-code1>[,<exit-code2>...]]"
)

// ParseError — ошибка парсинга с контекстом.
type ParseError struct {
	File     string // путь к DAG файлу
	Line     int    // номер строки (с нуля)
	Message  string // описание ошибки
	Expected string // ожидаемый формат строки (может быть пустым)
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ParseError) Error() string {
	msg := fmt.Sprintf("error parsing dag file %s line %d: %s", e.File, e.Line, e.Message)
	if e.Expected != "" {
		msg += "; expected line format: " + e.Expected
	}
	return msg
}

// Unwrap возвращает базовую ошибку.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(file string, line int, err error, expected, format string, args ...any) *ParseError {
	return &ParseError{
		File:     file,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
		Expected: expected,
		Err:      err,
	}
}
