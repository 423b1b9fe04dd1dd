package slurm

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/shaiso/slurmdag/internal/domain"
)

// defaultTimeout — ограничение на одну команду планировщика.
const defaultTimeout = 5 * time.Minute

// accountingTimeLayout — формат --starttime для sacct.
const accountingTimeLayout = "2006-01-02T15:04:05"

// Runner запускает внешнюю команду и возвращает её stdout и stderr.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// ExecRunner — Runner на основе os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Client выполняет операции над Slurm.
type Client struct {
	run     Runner
	timeout time.Duration
	logger  *slog.Logger
}

// Config — конфигурация Client.
type Config struct {
	// Runner — запуск команд (default: ExecRunner).
	Runner Runner

	// Timeout — таймаут одной команды (default: 5m, < 0 — без таймаута).
	Timeout time.Duration

	// Logger
	Logger *slog.Logger
}

// NewClient создаёт новый Client.
func NewClient(cfg Config) *Client {
	run := cfg.Runner
	if run == nil {
		run = ExecRunner
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		run:     run,
		timeout: timeout,
		logger:  logger,
	}
}

// Submit отправляет submit файл через sbatch с именем job = node
// и wckey = runTag. Возвращает job ID.
func (c *Client) Submit(ctx context.Context, templatePath, node, runTag string) (string, error) {
	args := []string{
		"--job-name=" + node,
		"--wckey=" + runTag,
		templatePath,
	}
	stdout, stderr, err := c.exec(ctx, "sbatch", args...)
	if err != nil {
		return "", err
	}

	// Любой текст в stderr считается отказом, даже при нулевом exit status
	out := strings.TrimSpace(string(stdout))
	if out == "" || strings.TrimSpace(string(stderr)) != "" {
		return "", &CommandError{
			Command: "sbatch",
			Args:    args,
			Stderr:  string(stderr),
			Err:     ErrSubmitRejected,
		}
	}

	return ParseSubmitOutput(out)
}

// QueryAccounting запрашивает sacct по jobIDs начиная с since.
func (c *Client) QueryAccounting(ctx context.Context, jobIDs []string, runTag string, since time.Time) ([]domain.JobRecord, error) {
	if len(jobIDs) == 0 {
		return nil, nil
	}

	stdout, _, err := c.exec(ctx, "sacct",
		"--noheader",
		"-P",
		"--wckeys="+runTag,
		"--format="+accountingFormat,
		"--jobs="+strings.Join(jobIDs, ","),
		"--starttime="+since.Format(accountingTimeLayout),
	)
	if err != nil {
		return nil, err
	}
	return ParseAccountingOutput(string(stdout)), nil
}

// QueryQueue возвращает job из squeue, помеченные runTag.
func (c *Client) QueryQueue(ctx context.Context, runTag string) ([]domain.JobRecord, error) {
	stdout, _, err := c.exec(ctx, "squeue", "--noheader", "--format="+queueFormat)
	if err != nil {
		return nil, err
	}
	return ParseQueueOutput(string(stdout), runTag), nil
}

// Cancel отменяет все job с wckey = runTag. Возвращает вывод scancel.
func (c *Client) Cancel(ctx context.Context, runTag string) (string, error) {
	stdout, stderr, err := c.exec(ctx, "scancel", "--wckey="+runTag)
	out := strings.TrimSpace(string(stdout) + "\n" + string(stderr))
	return out, err
}

func (c *Client) exec(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	stdout, stderr, err := c.run(ctx, name, args...)
	c.logger.Debug("scheduler command",
		"command", name,
		"args", args,
		"duration", time.Since(start),
	)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		return stdout, stderr, &CommandError{
			Command: name,
			Args:    args,
			Stderr:  string(stderr),
			Err:     err,
		}
	}
	return stdout, stderr, nil
}
