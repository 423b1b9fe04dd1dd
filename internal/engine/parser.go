package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

// Ключевые слова DAG файла.
const (
	keywordJob      = "JOB"
	keywordVars     = "VARS"
	keywordParent   = "PARENT"
	keywordChild    = "CHILD"
	keywordRetry    = "RETRY"
	keywordDone     = "DONE"
	keywordAllNodes = "ALL_NODES"
	keywordUnless   = "UNLESS-EXIT"
)

// ParseFile читает и парсит DAG файл.
func ParseFile(path string) (*DAG, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dag file: %w", err)
	}
	defer f.Close()

	return Parse(f, path)
}

// Parse парсит DAG из r. file используется в сообщениях об ошибках
// и сохраняется в DAG.File.
//
// Парсинг идёт в два прохода: сначала все строки JOB, затем
// VARS, PARENT/CHILD и RETRY. Пустые и нераспознанные строки пропускаются.
// При ошибке DAG не возвращается.
func Parse(r io.Reader, file string) (*DAG, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("read dag file %s: %w", file, err)
	}

	dag := New(file)
	p := &parser{dag: dag, file: dag.File}

	for i, line := range lines {
		if hasKeyword(line, keywordJob) {
			if err := p.parseJob(i, line); err != nil {
				return nil, err
			}
		}
	}

	for i, line := range lines {
		var err error
		switch {
		case hasKeyword(line, keywordVars):
			err = p.parseVars(i, line)
		case hasKeyword(line, keywordParent):
			err = p.parseParent(i, line)
		case hasKeyword(line, keywordRetry):
			err = p.parseRetry(i, line)
		}
		if err != nil {
			return nil, err
		}
	}

	if stuck := dag.DetectCycle(); stuck != nil {
		return nil, &ParseError{
			File:    p.file,
			Line:    p.firstLine(stuck),
			Message: fmt.Sprintf("nodes %s are part of a dependency cycle", strings.Join(stuck, ", ")),
			Err:     ErrCyclicDependency,
		}
	}

	dag.initRetryCounters()
	return dag, nil
}

type parser struct {
	dag  *DAG
	file string

	// per-node объявления, чтобы ловить дубликаты
	vars    map[string]bool
	retries map[string]bool
}

func (p *parser) parseJob(i int, line string) error {
	items := strings.Fields(line)
	if len(items) < 3 || len(items) > 4 || (len(items) == 4 && items[3] != keywordDone) {
		return newParseError(p.file, i, ErrMalformedLine, expectJob, "unexpected line format")
	}

	id := items[1]
	if prev, ok := p.dag.Line(id); ok {
		return newParseError(p.file, i, ErrDuplicateNode, "",
			"node '%s' was already defined in line %d", id, prev)
	}

	p.dag.AddNode(&Node{
		ID:         id,
		SubmitFile: items[2],
		Done:       len(items) == 4,
	}, i)
	return nil
}

func (p *parser) parseVars(i int, line string) error {
	items := strings.Fields(line)
	if len(items) < 3 {
		return newParseError(p.file, i, ErrMalformedLine, expectVars, "unexpected line format")
	}

	id := items[1]
	node := p.dag.Node(id)
	if node == nil {
		return newParseError(p.file, i, ErrUnknownNode, "",
			"found a VARS line for node '%s', but there is no JOB line for this node", id)
	}
	if p.vars == nil {
		p.vars = make(map[string]bool)
	}
	if p.vars[id] {
		return newParseError(p.file, i, ErrDuplicateVars, "",
			"found a second VARS line for node '%s'; only one VARS line can be specified per node", id)
	}
	p.vars[id] = true

	node.Vars = afterFields(line, 2)
	return nil
}

// afterFields возвращает строку после первых n полей без изменений
// внутри, чтобы пробелы в значениях сохранялись.
func afterFields(line string, n int) string {
	rest := strings.TrimLeftFunc(line, unicode.IsSpace)
	for range n {
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	return strings.TrimRightFunc(rest, unicode.IsSpace)
}

func (p *parser) parseParent(i int, line string) error {
	// "CHILD" ищем как отдельный токен
	padded := " " + strings.Join(strings.Fields(line)[1:], " ") + " "
	sep := " " + keywordChild + " "
	j := strings.Index(padded, sep)
	if j == -1 {
		return newParseError(p.file, i, ErrMalformedLine, expectParent, "unexpected line format")
	}
	parents := splitNodeList(padded[:j])
	children := splitNodeList(padded[j+len(sep):])
	if len(parents) == 0 || len(children) == 0 {
		return newParseError(p.file, i, ErrMalformedLine, expectParent, "unexpected line format")
	}

	for _, parent := range parents {
		if !p.dag.Has(parent) {
			return newParseError(p.file, i, ErrUnknownNode, "",
				"there is no JOB line for parent node '%s'", parent)
		}
	}
	for _, child := range children {
		if !p.dag.Has(child) {
			return newParseError(p.file, i, ErrUnknownNode, "",
				"there is no JOB line for child node '%s'", child)
		}
		for _, parent := range parents {
			p.dag.AddEdge(parent, child)
		}
	}
	return nil
}

func (p *parser) parseRetry(i int, line string) error {
	items := strings.Fields(line)
	malformed := func() error {
		return newParseError(p.file, i, ErrMalformedLine, expectRetry,
			"unexpected line format (max-retries must be a non-negative integer and exit codes integers)")
	}

	if len(items) != 3 && len(items) != 5 {
		return malformed()
	}
	maxRetries, err := strconv.Atoi(items[2])
	if err != nil || maxRetries < 0 {
		return malformed()
	}

	var codes []int
	if len(items) == 5 {
		if items[3] != keywordUnless {
			return malformed()
		}
		codes, err = parseExitCodes(items[4])
		if err != nil {
			return malformed()
		}
	}

	if items[1] == keywordAllNodes {
		if p.dag.HasMaxRetries {
			return newParseError(p.file, i, ErrDuplicateRetry, "",
				"found a second RETRY ALL_NODES line; only one RETRY ALL_NODES line can be specified")
		}
		p.dag.MaxRetries = maxRetries
		p.dag.HasMaxRetries = true
		if codes != nil {
			p.dag.NoRetryExitCodes = codes
			p.dag.HasNoRetryExitCodes = true
		}
		return nil
	}

	id := items[1]
	node := p.dag.Node(id)
	if node == nil {
		return newParseError(p.file, i, ErrUnknownNode, "",
			"found a RETRY line for node '%s', but there is no JOB line for this node", id)
	}
	if p.retries == nil {
		p.retries = make(map[string]bool)
	}
	if p.retries[id] {
		return newParseError(p.file, i, ErrDuplicateRetry, "",
			"found a second RETRY line for node '%s'; only one RETRY line can be specified per node", id)
	}
	p.retries[id] = true

	node.MaxRetries = maxRetries
	node.HasMaxRetries = true
	if codes != nil {
		node.NoRetryExitCodes = codes
		node.HasNoRetryExitCodes = true
	}
	return nil
}

// firstLine возвращает минимальный номер строки среди узлов.
func (p *parser) firstLine(ids []string) int {
	first := -1
	for _, id := range ids {
		if line, ok := p.dag.Line(id); ok && (first == -1 || line < first) {
			first = line
		}
	}
	return first
}

// hasKeyword проверяет, начинается ли строка с keyword и пробельного символа.
func hasKeyword(line, keyword string) bool {
	line = strings.TrimSpace(line)
	if len(line) <= len(keyword) || !strings.HasPrefix(line, keyword) {
		return false
	}
	return unicode.IsSpace(rune(line[len(keyword)]))
}

// splitNodeList разбивает список узлов: разделители — запятые и пробелы.
func splitNodeList(s string) []string {
	return strings.Fields(strings.ReplaceAll(s, ",", " "))
}

func parseExitCodes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	codes := make([]int, 0, len(parts))
	for _, part := range parts {
		code, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}
