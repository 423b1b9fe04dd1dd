package slurm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaiso/slurmdag/internal/domain"
)

// Формат вывода sacct и squeue (разделитель — '|').
const (
	accountingFormat = "JobID,JobName,State,NodeList,ExitCode"
	queueFormat      = "%i|%T|%w|%N"
)

// ParseSubmitOutput извлекает job ID из вывода sbatch
// ("Submitted batch job 12345" или "12345;cluster" с --parsable).
func ParseSubmitOutput(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty sbatch output", ErrUnexpectedOutput)
	}
	id := fields[len(fields)-1]
	if i := strings.IndexByte(id, ';'); i >= 0 {
		id = id[:i]
	}
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedOutput, out)
	}
	return id, nil
}

// ParseAccountingOutput разбирает вывод sacct --noheader -P.
//
// Шаги batch/extern пропускаются. Код выхода — часть ExitCode до ':'.
// Строки с неверным числом полей пропускаются.
func ParseAccountingOutput(out string) []domain.JobRecord {
	var records []domain.JobRecord
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "|")
		if len(fields) != 5 {
			continue
		}
		jobID, name := fields[0], fields[1]
		if name == "batch" || name == "extern" || strings.Contains(jobID, ".") {
			continue
		}

		rec := domain.JobRecord{
			JobID:    jobID,
			Name:     name,
			State:    normalizeState(fields[2]),
			Location: fields[3],
		}
		code, _, _ := strings.Cut(fields[4], ":")
		if n, err := strconv.Atoi(code); err == nil {
			rec.ExitCode = n
			rec.HasExitCode = true
		}
		records = append(records, rec)
	}
	return records
}

// ParseQueueOutput разбирает вывод squeue --noheader --format=%i|%T|%w|%N
// и оставляет только job с wckey == tag.
func ParseQueueOutput(out, tag string) []domain.JobRecord {
	var records []domain.JobRecord
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "|")
		if len(fields) != 4 {
			continue
		}
		if fields[2] != tag {
			continue
		}
		records = append(records, domain.JobRecord{
			JobID:    fields[0],
			State:    normalizeState(fields[1]),
			Location: fields[3],
		})
	}
	return records
}

// normalizeState убирает хвост вида "CANCELLED by 1234".
func normalizeState(state string) string {
	fields := strings.Fields(state)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
