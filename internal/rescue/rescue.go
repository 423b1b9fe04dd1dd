// Package rescue вычисляет имена rescue файлов DAG.
//
// Rescue файл — снимок DAG с пометками DONE, имя <root>.rescueNNN,
// где NNN — трёхзначный номер от 001 до MaxNumber.
package rescue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// MaxNumber — максимальный номер rescue файла.
const MaxNumber = 999

// staleSuffix добавляется к устаревшим rescue файлам.
const staleSuffix = ".old"

var (
	// ErrInvalidNumber — номер rescue файла вне диапазона.
	ErrInvalidNumber = errors.New("invalid rescue number")

	// ErrNotFound — выбранный DAG файл не существует.
	ErrNotFound = errors.New("dag file not found")

	// ErrConflictingOptions — одновременно заданы номер rescue и отказ от rescue.
	ErrConflictingOptions = errors.New("no-rescue can not be combined with a non zero rescue number")
)

var suffixRe = regexp.MustCompile(`\.rescue([0-9]{3})$`)

// Number возвращает номер из суффикса .rescueNNN (0, если суффикса нет).
func Number(path string) int {
	m := suffixRe.FindStringSubmatch(path)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// IsRescue проверяет, является ли path rescue файлом.
func IsRescue(path string) bool {
	return Number(path) > 0
}

// RootName убирает суффикс .rescueNNN (только для номеров > 0).
func RootName(path string) string {
	if !IsRescue(path) {
		return path
	}
	loc := suffixRe.FindStringIndex(path)
	return path[:loc[0]]
}

// FileName строит имя rescue файла с номером n для DAG path.
func FileName(path string, n int) string {
	return fmt.Sprintf("%s.rescue%03d", RootName(path), n)
}

// All возвращает существующие rescue файлы для path, по возрастанию номера.
// Номер 000 и номера больше MaxNumber игнорируются.
func All(path string) ([]string, error) {
	root := RootName(path)
	dir, base := filepath.Split(root)
	if dir == "" {
		dir = "."
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list rescue files: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if len(name) != len(base)+len(".rescue000") || name[:len(base)] != base {
			continue
		}
		n := Number(name)
		if n <= 0 || n > MaxNumber {
			continue
		}
		files = append(files, root[:len(root)-len(base)]+name)
	}

	sort.Strings(files)
	return files, nil
}

// Highest возвращает rescue файл с наибольшим номером
// или сам корневой путь, если rescue файлов нет.
func Highest(path string) (string, error) {
	files, err := All(path)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return RootName(path), nil
	}
	return files[len(files)-1], nil
}

// Next возвращает имя следующего rescue файла. На MaxNumber номер не растёт.
func Next(path string) string {
	n := Number(path)
	if n < MaxNumber {
		n++
	}
	return FileName(path, n)
}

// RenameStale переименовывает в <file>.old все rescue файлы с номером >= from.
func RenameStale(from int, path string) ([]string, error) {
	files, err := All(path)
	if err != nil {
		return nil, err
	}

	var renamed []string
	for _, file := range files {
		if Number(file) < from {
			continue
		}
		if err := os.Rename(file, file+staleSuffix); err != nil {
			return renamed, fmt.Errorf("rename stale rescue file: %w", err)
		}
		renamed = append(renamed, file+staleSuffix)
	}
	return renamed, nil
}

// Selection — результат выбора DAG файла для запуска.
type Selection struct {
	// File — путь к DAG файлу, с которого стартует run.
	File string

	// Root — корневое имя DAG (без .rescueNNN).
	Root string

	// Renamed — rescue файлы, отложенные как .old.
	Renamed []string
}

// Select выбирает DAG файл для запуска:
//   - from > 0   — rescue файл с этим номером, более новые откладываются как .old;
//   - noRescue   — корневой DAG файл;
//   - иначе      — rescue файл с наибольшим номером (или корневой файл).
func Select(path string, from int, noRescue bool) (*Selection, error) {
	if from < 0 || from > MaxNumber {
		return nil, fmt.Errorf("%w: %d (must be between 0 and %d)", ErrInvalidNumber, from, MaxNumber)
	}
	if from > 0 && noRescue {
		return nil, ErrConflictingOptions
	}

	root := RootName(path)
	sel := &Selection{Root: root}

	switch {
	case from > 0:
		sel.File = FileName(root, from)
	case noRescue:
		sel.File = root
	default:
		file, err := Highest(root)
		if err != nil {
			return nil, err
		}
		sel.File = file
	}

	info, err := os.Stat(sel.File)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sel.File)
	}

	if from > 0 {
		renamed, err := RenameStale(from+1, sel.File)
		sel.Renamed = renamed
		if err != nil {
			return sel, err
		}
	}
	return sel, nil
}
