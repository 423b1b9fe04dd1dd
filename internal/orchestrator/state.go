package orchestrator

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/slurmdag/internal/domain"
	"github.com/shaiso/slurmdag/internal/engine"
)

// RunState — состояние выполнения DAG в памяти.
//
// Объявленные родители узла не меняются; неудовлетворённые зависимости
// хранятся отдельно в waiting. Узлы с меткой DONE считаются выполненными
// с самого начала и удовлетворяют зависимости своих детей.
//
// RunState не потокобезопасен: его меняет только цикл Orchestrator.
type RunState struct {
	dag   *engine.DAG
	runID uuid.UUID
	now   func() time.Time

	// waiting — неудовлетворённые родители (nodeID → set).
	waiting map[string]map[string]struct{}

	// children — индекс parent → дети.
	children map[string][]string

	// jobs — job в очереди (jobID → nodeID).
	jobs map[string]string

	counts domain.NodeCounts

	// events — переходы, ещё не отданные через Events.
	events []domain.NodeEvent
}

// NewRunState создаёт RunState и выставляет начальные статусы:
// DONE для выполненных узлов, READY для узлов без неудовлетворённых
// родителей, UNREADY для остальных.
func NewRunState(dag *engine.DAG, runID uuid.UUID, now func() time.Time) *RunState {
	if now == nil {
		now = time.Now
	}

	s := &RunState{
		dag:      dag,
		runID:    runID,
		now:      now,
		waiting:  make(map[string]map[string]struct{}),
		children: dag.Children(),
		jobs:     make(map[string]string),
	}
	s.counts.Total = dag.Size()

	for _, node := range dag.Nodes() {
		node.JobID = ""
		if node.Done {
			node.Status = domain.NodeDone
			s.counts.Done++
			continue
		}
		node.Status = domain.NodeUnready
		s.counts.Unready++
	}

	for _, node := range dag.Nodes() {
		if node.Done {
			continue
		}
		pending := make(map[string]struct{})
		for _, parent := range node.Parents {
			if p := dag.Node(parent); p != nil && !p.Done {
				pending[parent] = struct{}{}
			}
		}
		if len(pending) == 0 {
			_ = s.MarkReady(node.ID)
			continue
		}
		s.waiting[node.ID] = pending
	}

	return s
}

// DAG возвращает DAG, которым управляет RunState.
func (s *RunState) DAG() *engine.DAG {
	return s.dag
}

// Status возвращает статус узла.
func (s *RunState) Status(id string) (domain.NodeStatus, bool) {
	node := s.dag.Node(id)
	if node == nil {
		return domain.NodeUnready, false
	}
	return node.Status, true
}

// Waiting возвращает неудовлетворённых родителей узла в порядке объявления.
func (s *RunState) Waiting(id string) []string {
	node := s.dag.Node(id)
	if node == nil {
		return nil
	}
	var parents []string
	for _, parent := range node.Parents {
		if _, ok := s.waiting[id][parent]; ok {
			parents = append(parents, parent)
		}
	}
	return parents
}

// MarkReady переводит узел в READY (из UNREADY или, при retry, из QUEUED)
// и увеличивает счётчик попыток, если retry включены.
func (s *RunState) MarkReady(id string) error {
	node, from, err := s.transition(id, domain.NodeReady)
	if err != nil {
		return err
	}
	if node.HasRetryNum {
		node.RetryNum++
	}
	s.forget(node)
	node.JobID = ""
	s.record(node, from, "")
	return nil
}

// MarkQueued переводит узел READY → QUEUED. Пустой jobID — неудачная
// отправка: узел проходит через QUEUED без job в очереди.
func (s *RunState) MarkQueued(id, jobID string) error {
	node, from, err := s.transition(id, domain.NodeQueued)
	if err != nil {
		return err
	}
	node.JobID = jobID
	if jobID != "" {
		s.jobs[jobID] = id
	}
	s.record(node, from, jobID)
	return nil
}

// MarkDone переводит узел QUEUED → DONE и освобождает детей.
// Возвращает детей, ставших READY.
func (s *RunState) MarkDone(id string) ([]string, error) {
	node, from, err := s.transition(id, domain.NodeDone)
	if err != nil {
		return nil, err
	}
	node.Done = true
	s.forget(node)
	s.record(node, from, node.JobID)

	var ready []string
	for _, child := range s.children[id] {
		pending, ok := s.waiting[child]
		if !ok {
			continue
		}
		delete(pending, id)
		if len(pending) > 0 {
			continue
		}
		delete(s.waiting, child)
		if c := s.dag.Node(child); c != nil && c.Status == domain.NodeUnready {
			if err := s.MarkReady(child); err != nil {
				return ready, err
			}
			ready = append(ready, child)
		}
	}
	return ready, nil
}

// MarkFailed переводит узел QUEUED → FAILED. Дети упавшего узла
// остаются UNREADY.
func (s *RunState) MarkFailed(id string) error {
	node, from, err := s.transition(id, domain.NodeFailed)
	if err != nil {
		return err
	}
	s.forget(node)
	s.record(node, from, node.JobID)
	return nil
}

// CanRetry проверяет, можно ли повторить упавший узел: бюджет не исчерпан
// и код выхода (если известен) не входит в коды без retry.
func (s *RunState) CanRetry(id string, exitCode int, hasExitCode bool) bool {
	node := s.dag.Node(id)
	if node == nil || !node.HasRetryNum {
		return false
	}
	limit, ok := s.dag.MaxRetriesFor(id)
	if !ok || node.RetryNum >= limit {
		return false
	}
	if hasExitCode && slices.Contains(s.dag.NoRetryExitCodesFor(id), exitCode) {
		return false
	}
	return true
}

// ReadyNodes возвращает READY узлы в порядке появления в DAG файле.
func (s *RunState) ReadyNodes() []*engine.Node {
	var ready []*engine.Node
	for _, node := range s.dag.Nodes() {
		if node.Status == domain.NodeReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Stats возвращает количество узлов по статусам.
func (s *RunState) Stats() domain.NodeCounts {
	return s.counts
}

// Outstanding возвращает ID job в очереди, по возрастанию.
func (s *RunState) Outstanding() []string {
	ids := make([]string, 0, len(s.jobs))
	for jobID := range s.jobs {
		ids = append(ids, jobID)
	}
	slices.Sort(ids)
	return ids
}

// QueuedJobs возвращает количество job в очереди.
func (s *RunState) QueuedJobs() int {
	return len(s.jobs)
}

// NodeForJob возвращает узел, которому принадлежит job в очереди.
func (s *RunState) NodeForJob(jobID string) (string, bool) {
	id, ok := s.jobs[jobID]
	return id, ok
}

// Events возвращает накопленные переходы и очищает буфер.
func (s *RunState) Events() []domain.NodeEvent {
	events := s.events
	s.events = nil
	return events
}

// RescueDAG возвращает копию DAG для rescue файла: выполненные узлы
// помечены Done, у остальных сброшены статус и job.
func (s *RunState) RescueDAG() *engine.DAG {
	rescue := s.dag.Clone()
	for _, node := range rescue.Nodes() {
		node.JobID = ""
		if node.Done {
			node.Status = domain.NodeDone
			continue
		}
		node.Status = domain.NodeUnready
	}
	return rescue
}

func (s *RunState) transition(id string, to domain.NodeStatus) (*engine.Node, domain.NodeStatus, error) {
	node := s.dag.Node(id)
	if node == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	from := node.Status
	if !domain.CanTransition(from, to) {
		return nil, from, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, id, from, to)
	}
	s.adjust(from, -1)
	s.adjust(to, 1)
	node.Status = to
	return node, from, nil
}

func (s *RunState) adjust(status domain.NodeStatus, delta int) {
	switch status {
	case domain.NodeUnready:
		s.counts.Unready += delta
	case domain.NodeReady:
		s.counts.Ready += delta
	case domain.NodeQueued:
		s.counts.Queued += delta
	case domain.NodeDone:
		s.counts.Done += delta
	case domain.NodeFailed:
		s.counts.Failed += delta
	}
}

// forget убирает job узла из очереди.
func (s *RunState) forget(node *engine.Node) {
	if node.JobID != "" {
		delete(s.jobs, node.JobID)
	}
}

func (s *RunState) record(node *engine.Node, from domain.NodeStatus, jobID string) {
	attempt := -1
	if node.HasRetryNum {
		attempt = node.RetryNum
	}
	s.events = append(s.events, domain.NodeEvent{
		RunID:   s.runID,
		Node:    node.ID,
		From:    from,
		To:      node.Status,
		JobID:   jobID,
		Attempt: attempt,
		At:      s.now(),
	})
}
