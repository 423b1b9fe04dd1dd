package domain

import "fmt"

// NodeStatus — статус узла DAG во время выполнения.
//
// Жизненный цикл:
//
//	UNREADY → READY → QUEUED → DONE
//	                         ↘ FAILED
//	          READY ← QUEUED (retry)
type NodeStatus int

const (
	// NodeUnready — не все родители узла завершены.
	NodeUnready NodeStatus = iota

	// NodeReady — зависимости удовлетворены, узел можно отправлять в очередь.
	NodeReady

	// NodeQueued — job отправлен планировщику кластера.
	NodeQueued

	// NodeDone — job завершился успешно.
	NodeDone

	// NodeFailed — job упал, retry исчерпаны.
	NodeFailed
)

// String возвращает строковое представление NodeStatus.
func (s NodeStatus) String() string {
	switch s {
	case NodeUnready:
		return "UNREADY"
	case NodeReady:
		return "READY"
	case NodeQueued:
		return "QUEUED"
	case NodeDone:
		return "DONE"
	case NodeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal возвращает true, если статус финальный.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeDone || s == NodeFailed
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to NodeStatus) bool {
	switch from {
	case NodeUnready:
		return to == NodeReady
	case NodeReady:
		return to == NodeQueued
	case NodeQueued:
		return to == NodeDone || to == NodeFailed || to == NodeReady
	default:
		return false
	}
}

// Outcome — итог выполнения DAG, он же код выхода процесса.
type Outcome int

const (
	// OutcomeSuccess — все узлы завершены.
	OutcomeSuccess Outcome = 0

	// OutcomeFailure — очередь пуста, есть упавшие узлы.
	OutcomeFailure Outcome = 1

	// OutcomeStopped — очередь пуста без упавших узлов (drain или cancel).
	OutcomeStopped Outcome = 2

	// OutcomeCancelled — запрошен cancel и DAG не завершился успешно.
	OutcomeCancelled Outcome = -1
)

// String возвращает строковое представление Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCEEDED"
	case OutcomeFailure:
		return "FAILED"
	case OutcomeStopped:
		return "STOPPED"
	case OutcomeCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ExitCode возвращает код выхода процесса.
func (o Outcome) ExitCode() int {
	return int(o)
}

// ParseOutcome разбирает строковое представление Outcome.
func ParseOutcome(s string) (Outcome, error) {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeFailure, OutcomeStopped, OutcomeCancelled} {
		if o.String() == s {
			return o, nil
		}
	}
	return OutcomeFailure, fmt.Errorf("unknown outcome %q", s)
}

// ParseNodeStatus разбирает строковое представление NodeStatus.
func ParseNodeStatus(s string) (NodeStatus, error) {
	for st := NodeUnready; st <= NodeFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return NodeUnready, fmt.Errorf("unknown node status %q", s)
}

// MarshalText реализует encoding.TextMarshaler.
func (s NodeStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (s *NodeStatus) UnmarshalText(text []byte) error {
	st, err := ParseNodeStatus(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// MarshalText реализует encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	out, err := ParseOutcome(string(text))
	if err != nil {
		return err
	}
	*o = out
	return nil
}
