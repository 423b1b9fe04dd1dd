package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"
)

// SubstituteMacros заменяет в line все $(KEY) значениями из vars.
//
// vars — строка привязок вида KEY1="v1" KEY2="v 2". Значение заканчивается
// на первой неэкранированной кавычке, \" внутри значения даёт ".
// Неизвестный ключ или незакрытая кавычка — placeholder удаляется.
// Сканирование продолжается сразу после подставленного текста,
// поэтому значение, содержащее $(...), повторно не раскрывается.
func SubstituteMacros(line, vars string) string {
	var b strings.Builder
	b.Grow(len(line))

	rest := line
	for {
		i := strings.Index(rest, "$(")
		if i == -1 {
			break
		}
		j := strings.IndexByte(rest[i+2:], ')')
		if j == -1 {
			break
		}
		j += i + 2

		b.WriteString(rest[:i])
		if value, ok := lookupMacro(vars, rest[i+2:j]); ok {
			b.WriteString(value)
		}
		rest = rest[j+1:]
	}
	b.WriteString(rest)
	return b.String()
}

// lookupMacro ищет первую привязку key="..." в vars.
// Ключ должен стоять в начале строки или после пробела.
func lookupMacro(vars, key string) (string, bool) {
	if key == "" {
		return "", false
	}
	needle := key + `="`
	offset := 0
	for {
		k := strings.Index(vars[offset:], needle)
		if k == -1 {
			return "", false
		}
		k += offset
		if k == 0 || unicode.IsSpace(rune(vars[k-1])) {
			return readQuoted(vars[k+len(needle):])
		}
		offset = k + 1
	}
}

// readQuoted читает значение до неэкранированной кавычки.
func readQuoted(s string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s) && s[i+1] == '"':
			b.WriteByte('"')
			i++
		case c == '"':
			return b.String(), true
		default:
			b.WriteByte(c)
		}
	}
	return "", false
}

// RenderTemplate копирует r в w построчно с подстановкой макросов.
func RenderTemplate(r io.Reader, w io.Writer, vars string) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if _, werr := bw.WriteString(SubstituteMacros(line, vars)); werr != nil {
				return fmt.Errorf("write template: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

// MaterializeTemplate рендерит submit файл во временный файл рядом
// с исходным и возвращает путь к нему. Удаление — на вызывающем.
func MaterializeTemplate(submitFile, vars string) (string, error) {
	src, err := os.Open(submitFile)
	if err != nil {
		return "", fmt.Errorf("open submit file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(submitFile + ".tmp")
	if err != nil {
		return "", fmt.Errorf("create submit file copy: %w", err)
	}
	path := dst.Name()

	if err := RenderTemplate(src, dst, vars); err != nil {
		dst.Close()
		os.Remove(path)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close submit file copy: %w", err)
	}
	return path, nil
}
