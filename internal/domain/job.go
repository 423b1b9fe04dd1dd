package domain

import "strings"

// JobRecord — запись о job, полученная от планировщика кластера
// (accounting или живая очередь).
type JobRecord struct {
	// JobID — идентификатор job в планировщике.
	JobID string `json:"job_id"`

	// Name — имя job (совпадает с ID узла DAG).
	Name string `json:"name,omitempty"`

	// State — состояние job, как его сообщил планировщик ("RUNNING", "COMPLETED", ...).
	State string `json:"state"`

	// Location — вычислительный узел (или список узлов).
	Location string `json:"location,omitempty"`

	// ExitCode — код выхода job. Имеет смысл только если HasExitCode.
	ExitCode int `json:"exit_code"`

	// HasExitCode — false, если код выхода не определён.
	HasExitCode bool `json:"has_exit_code"`
}

// JobClass — класс состояния job с точки зрения движка.
type JobClass int

const (
	// JobFailed — всё, что не распознано как нормальное состояние, считается падением.
	JobFailed JobClass = iota

	// JobPending — job ждёт ресурсов.
	JobPending

	// JobRunning — job выполняется или завершается.
	JobRunning

	// JobCompleted — job успешно завершён.
	JobCompleted

	// JobUnknown — переходное состояние, переход узла не выполняется.
	JobUnknown
)

// String возвращает строковое представление JobClass.
func (c JobClass) String() string {
	switch c {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobCompleted:
		return "completed"
	case JobUnknown:
		return "unknown"
	default:
		return "failed"
	}
}

// ClassifyState относит состояние планировщика к одному из классов.
func ClassifyState(state string) JobClass {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "PENDING":
		return JobPending
	case "RUNNING", "COMPLETING":
		return JobRunning
	case "COMPLETED":
		return JobCompleted
	case "RESIZING", "REQUEUED", "REVOKED", "SUSPENDED":
		return JobUnknown
	default:
		return JobFailed
	}
}
