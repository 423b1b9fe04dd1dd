package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shaiso/slurmdag/internal/domain"
)

// RunRecord — запись о запуске в журнале.
type RunRecord struct {
	Info domain.RunInfo `json:"run"`

	// Summary — итог запуска, nil пока запуск не завершён.
	Summary *domain.RunSummary `json:"summary,omitempty"`
}

// JournalRepo — журнал запусков и переходов узлов в PostgreSQL.
type JournalRepo struct {
	db DB
}

// NewJournalRepo создаёт новый JournalRepo.
func NewJournalRepo(db DB) *JournalRepo {
	return &JournalRepo{db: db}
}

// RunStarted записывает начало запуска.
func (r *JournalRepo) RunStarted(ctx context.Context, info domain.RunInfo) error {
	query := `
		INSERT INTO slurmdag_runs (id, tag, dag_file, total_nodes, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.Exec(ctx, query,
		info.ID,
		info.Tag,
		info.DagFile,
		info.TotalNodes,
		info.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// NodeChanged записывает переход узла.
func (r *JournalRepo) NodeChanged(ctx context.Context, ev domain.NodeEvent) error {
	query := `
		INSERT INTO slurmdag_node_events (run_id, node, from_status, to_status, job_id, attempt, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		ev.RunID,
		ev.Node,
		ev.From.String(),
		ev.To.String(),
		nullString(ev.JobID),
		ev.Attempt,
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("insert node event: %w", err)
	}
	return nil
}

// RunFinished записывает итог запуска.
func (r *JournalRepo) RunFinished(ctx context.Context, info domain.RunInfo, summary domain.RunSummary) error {
	query := `
		UPDATE slurmdag_runs
		SET finished_at = $2, outcome = $3, done_nodes = $4, failed_nodes = $5,
		    rescue_file = $6, error = $7
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		info.ID,
		summary.FinishedAt,
		summary.Outcome.String(),
		summary.Counts.Done,
		summary.Counts.Failed,
		nullString(summary.RescueFile),
		nullString(summary.Error),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns возвращает последние запуски DAG файла (включая запуски
// с его rescue файлов), новые первыми. Пустой dagFile — все запуски.
func (r *JournalRepo) ListRuns(ctx context.Context, dagFile string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, tag, dag_file, total_nodes, started_at, finished_at,
		       outcome, done_nodes, failed_nodes, rescue_file, error
		FROM slurmdag_runs
		WHERE ($1::text IS NULL OR dag_file = $1 OR dag_file LIKE $1 || '.rescue___')
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, nullString(dagFile), limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

// GetRun возвращает запуск по ID или по run tag.
func (r *JournalRepo) GetRun(ctx context.Context, ref string) (*RunRecord, error) {
	query := `
		SELECT id, tag, dag_file, total_nodes, started_at, finished_at,
		       outcome, done_nodes, failed_nodes, rescue_file, error
		FROM slurmdag_runs
		WHERE tag = $1 OR id::text = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	return scanRun(r.db.QueryRow(ctx, query, ref))
}

// NodeEvents возвращает переходы узлов запуска в порядке записи.
func (r *JournalRepo) NodeEvents(ctx context.Context, runID uuid.UUID) ([]domain.NodeEvent, error) {
	query := `
		SELECT node, from_status, to_status, job_id, attempt, at
		FROM slurmdag_node_events
		WHERE run_id = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list node events: %w", err)
	}
	defer rows.Close()

	var events []domain.NodeEvent
	for rows.Next() {
		var (
			ev       domain.NodeEvent
			from, to string
			jobID    *string
		)
		if err := rows.Scan(&ev.Node, &from, &to, &jobID, &ev.Attempt, &ev.At); err != nil {
			return nil, fmt.Errorf("scan node event: %w", err)
		}
		if ev.From, err = domain.ParseNodeStatus(from); err != nil {
			return nil, err
		}
		if ev.To, err = domain.ParseNodeStatus(to); err != nil {
			return nil, err
		}
		if jobID != nil {
			ev.JobID = *jobID
		}
		ev.RunID = runID
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Helpers ---

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		rec         RunRecord
		finishedAt  *time.Time
		outcome     *string
		done        *int
		failed      *int
		rescueFile  *string
		finishError *string
	)
	err := row.Scan(
		&rec.Info.ID,
		&rec.Info.Tag,
		&rec.Info.DagFile,
		&rec.Info.TotalNodes,
		&rec.Info.StartedAt,
		&finishedAt,
		&outcome,
		&done,
		&failed,
		&rescueFile,
		&finishError,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if finishedAt == nil || outcome == nil {
		return &rec, nil
	}

	summary := &domain.RunSummary{FinishedAt: *finishedAt}
	if summary.Outcome, err = domain.ParseOutcome(*outcome); err != nil {
		return nil, err
	}
	summary.Counts.Total = rec.Info.TotalNodes
	if done != nil {
		summary.Counts.Done = *done
	}
	if failed != nil {
		summary.Counts.Failed = *failed
	}
	if rescueFile != nil {
		summary.RescueFile = *rescueFile
	}
	if finishError != nil {
		summary.Error = *finishError
	}
	rec.Summary = summary
	return &rec, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
