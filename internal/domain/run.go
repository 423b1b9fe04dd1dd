package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunInfo — описание одного запуска контроллера DAG.
//
// Каждый запуск имеет свой run tag: все jobs, отправленные этим
// запуском, помечаются им, и по нему же выполняются мониторинг и cancel.
type RunInfo struct {
	// ID — уникальный идентификатор запуска.
	ID uuid.UUID `json:"id"`

	// Tag — run tag (wckey) для jobs этого запуска.
	Tag string `json:"tag"`

	// DagFile — путь к DAG файлу (или rescue файлу), с которого стартовали.
	DagFile string `json:"dag_file"`

	// TotalNodes — количество узлов в DAG.
	TotalNodes int `json:"total_nodes"`

	// StartedAt — время старта.
	StartedAt time.Time `json:"started_at"`
}

// NodeCounts — количество узлов в каждом статусе.
type NodeCounts struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Queued  int `json:"queued"`
	Ready   int `json:"ready"`
	Unready int `json:"unready"`
	Failed  int `json:"failed"`
}

// RunSummary — итог запуска.
type RunSummary struct {
	// Outcome — итог выполнения.
	Outcome Outcome `json:"outcome"`

	// Counts — статистика узлов на момент завершения.
	Counts NodeCounts `json:"counts"`

	// RescueFile — путь к записанному rescue файлу (пусто, если не писался).
	RescueFile string `json:"rescue_file,omitempty"`

	// Error — текст ошибки завершения (cancel или запись rescue файла).
	Error string `json:"error,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt time.Time `json:"finished_at"`
}

// Duration возвращает продолжительность запуска.
func (s RunSummary) Duration(info RunInfo) time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(info.StartedAt)
}

// NodeEvent — переход узла из одного статуса в другой.
type NodeEvent struct {
	// RunID — ID запуска.
	RunID uuid.UUID `json:"run_id"`

	// Node — ID узла.
	Node string `json:"node"`

	// From, To — статусы до и после перехода.
	From NodeStatus `json:"from"`
	To   NodeStatus `json:"to"`

	// JobID — job, к которому относится переход (если есть).
	JobID string `json:"job_id,omitempty"`

	// Attempt — номер попытки (retry_num), -1 если retry не включены.
	Attempt int `json:"attempt"`

	// At — время перехода.
	At time.Time `json:"at"`
}
