package orchestrator

import "errors"

// Ошибки движка.
var (
	// ErrUnknownNode — узел не найден в DAG.
	ErrUnknownNode = errors.New("unknown node")

	// ErrInvalidTransition — недопустимый переход статуса узла.
	ErrInvalidTransition = errors.New("invalid node status transition")

	// ErrCancelIncomplete — после всех попыток cancel в очереди остались job.
	ErrCancelIncomplete = errors.New("jobs still queued after cancel")

	// ErrRescueWrite — не удалось записать rescue файл.
	ErrRescueWrite = errors.New("write rescue file")
)
