package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteOptions — параметры сериализации DAG.
type WriteOptions struct {
	// AppearanceOrder — писать узлы в порядке появления в исходном файле,
	// иначе в лексикографическом.
	AppearanceOrder bool

	// DoneLabels — добавлять DONE к строкам JOB выполненных узлов.
	DoneLabels bool
}

// Write сериализует DAG в формате DAG файла.
//
// Порядок: строки JOB (каждая со своими VARS и RETRY), затем по одной
// строке PARENT p CHILD c на каждое ребро, затем RETRY ALL_NODES.
func Write(w io.Writer, dag *DAG, opts WriteOptions) error {
	ids := dag.SortedIDs()
	if opts.AppearanceOrder {
		ids = dag.IDs()
	}

	lines := make([]string, 0, len(ids)*2)
	for _, id := range ids {
		node := dag.Node(id)

		job := fmt.Sprintf("%s %s %s", keywordJob, id, node.SubmitFile)
		if opts.DoneLabels && node.Done {
			job += " " + keywordDone
		}
		lines = append(lines, job)

		if node.Vars != "" {
			lines = append(lines, fmt.Sprintf("%s %s %s", keywordVars, id, node.Vars))
		}
		if node.HasMaxRetries {
			lines = append(lines, retryLine(id, node.MaxRetries, node.NoRetryExitCodes, node.HasNoRetryExitCodes))
		}
	}

	for _, id := range ids {
		for _, parent := range dag.Node(id).Parents {
			lines = append(lines, fmt.Sprintf("%s %s %s %s", keywordParent, parent, keywordChild, id))
		}
	}

	if dag.HasMaxRetries {
		lines = append(lines, retryLine(keywordAllNodes, dag.MaxRetries, dag.NoRetryExitCodes, dag.HasNoRetryExitCodes))
	}

	bw := bufio.NewWriter(w)
	for _, line := range lines {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("write dag: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write dag: %w", err)
	}
	return nil
}

// WriteFile записывает DAG в path. Пустой path означает dag.File.
func WriteFile(path string, dag *DAG, opts WriteOptions) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = dag.File
	}
	if path == "" {
		return ErrNoTarget
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dag file: %w", err)
	}
	if err := Write(f, dag, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close dag file: %w", err)
	}
	return nil
}

func retryLine(target string, maxRetries int, codes []int, hasCodes bool) string {
	line := fmt.Sprintf("%s %s %d", keywordRetry, target, maxRetries)
	if hasCodes && len(codes) > 0 {
		parts := make([]string, len(codes))
		for i, code := range codes {
			parts[i] = strconv.Itoa(code)
		}
		line += " " + keywordUnless + " " + strings.Join(parts, ",")
	}
	return line
}
