package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/domain"
	"github.com/shaiso/slurmdag/internal/orchestrator"
)

// Run DTOs

// RunResponse — ответ с состоянием запуска.
type RunResponse struct {
	ID         uuid.UUID         `json:"id"`
	Tag        string            `json:"tag"`
	DagFile    string            `json:"dag_file"`
	StartedAt  time.Time         `json:"started_at"`
	Finished   bool              `json:"finished"`
	Outcome    string            `json:"outcome,omitempty"`
	RescueFile string            `json:"rescue_file,omitempty"`
	Error      string            `json:"error,omitempty"`
	Counts     domain.NodeCounts `json:"counts"`
	Params     config.Params     `json:"params"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RunFromSnapshot конвертирует orchestrator.Snapshot в RunResponse.
func RunFromSnapshot(s orchestrator.Snapshot) RunResponse {
	resp := RunResponse{
		ID:        s.Run.ID,
		Tag:       s.Run.Tag,
		DagFile:   s.Run.DagFile,
		StartedAt: s.Run.StartedAt,
		Counts:    s.Counts,
		Params:    s.Params,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Summary != nil {
		resp.Finished = true
		resp.Outcome = s.Summary.Outcome.String()
		resp.RescueFile = s.Summary.RescueFile
		resp.Error = s.Summary.Error
	}
	return resp
}

// Node DTOs

// NodeResponse — ответ с узлом DAG.
type NodeResponse struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Finished   bool     `json:"finished"`
	JobID      string   `json:"job_id,omitempty"`
	Parents    []string `json:"parents"`
	Waiting    []string `json:"waiting"`
	Attempt    *int     `json:"attempt,omitempty"`
	MaxRetries int      `json:"max_retries"`
}

// NodeFromView конвертирует orchestrator.NodeView в NodeResponse.
func NodeFromView(n orchestrator.NodeView) NodeResponse {
	resp := NodeResponse{
		ID:         n.ID,
		Status:     n.Status.String(),
		Finished:   n.Status.IsTerminal(),
		JobID:      n.JobID,
		Parents:    n.Parents,
		Waiting:    n.Waiting,
		MaxRetries: n.MaxRetries,
	}
	if resp.Parents == nil {
		resp.Parents = []string{}
	}
	if resp.Waiting == nil {
		resp.Waiting = []string{}
	}
	if n.Attempt >= 0 {
		attempt := n.Attempt
		resp.Attempt = &attempt
	}
	return resp
}

// Params DTOs

// UpdateParamsRequest — запрос на изменение runtime параметров.
// Значения — числа, логические значения или строки в формате runtime файла.
type UpdateParamsRequest map[string]any

// ParamsResponse — ответ с параметрами.
type ParamsResponse struct {
	Params config.Params `json:"params"`

	// Pending — параметры записаны в runtime файл, контроллер применит
	// их на следующей итерации.
	Pending bool `json:"pending"`
}
