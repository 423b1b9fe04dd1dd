package orchestrator

import (
	"sync"
	"time"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/domain"
)

// NodeView — состояние одного узла в снимке.
type NodeView struct {
	ID         string            `json:"id"`
	Status     domain.NodeStatus `json:"status"`
	JobID      string            `json:"job_id,omitempty"`
	Parents    []string          `json:"parents,omitempty"`
	Waiting    []string          `json:"waiting,omitempty"`
	Attempt    int               `json:"attempt"`
	MaxRetries int               `json:"max_retries"`
}

// Snapshot — согласованное состояние запуска на конец итерации.
type Snapshot struct {
	Run       domain.RunInfo     `json:"run"`
	Params    config.Params      `json:"params"`
	Counts    domain.NodeCounts  `json:"counts"`
	Nodes     []NodeView         `json:"nodes"`
	Summary   *domain.RunSummary `json:"summary,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Node возвращает узел снимка по ID.
func (s Snapshot) Node(id string) (NodeView, bool) {
	for _, n := range s.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeView{}, false
}

// snapshotHolder хранит последний снимок для чтения из других горутин.
type snapshotHolder struct {
	mu   sync.RWMutex
	snap Snapshot
}

func (h *snapshotHolder) load() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

func (h *snapshotHolder) store(s Snapshot) {
	h.mu.Lock()
	h.snap = s
	h.mu.Unlock()
}

// Snapshot возвращает последний опубликованный снимок.
// Безопасен для вызова параллельно с Run.
func (o *Orchestrator) Snapshot() Snapshot {
	return o.snapshot.load()
}

// publish собирает снимок из состояния. Вызывается только из цикла Run.
func (o *Orchestrator) publish(summary *domain.RunSummary) {
	nodes := o.dag.Nodes()
	views := make([]NodeView, len(nodes))
	for i, node := range nodes {
		attempt := -1
		if node.HasRetryNum {
			attempt = node.RetryNum
		}
		limit, _ := o.dag.MaxRetriesFor(node.ID)
		views[i] = NodeView{
			ID:         node.ID,
			Status:     node.Status,
			JobID:      node.JobID,
			Parents:    append([]string(nil), node.Parents...),
			Waiting:    o.state.Waiting(node.ID),
			Attempt:    attempt,
			MaxRetries: limit,
		}
	}

	o.snapshot.store(Snapshot{
		Run:       o.Info(),
		Params:    o.params,
		Counts:    o.state.Stats(),
		Nodes:     views,
		Summary:   summary,
		UpdatedAt: o.now(),
	})
}
