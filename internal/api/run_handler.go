package api

import (
	"net/http"

	"github.com/shaiso/slurmdag/internal/domain"
)

// GetRun возвращает состояние запуска.
// GET /api/v1/run
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	Success(w, RunFromSnapshot(h.source.Snapshot()))
}

// ListNodes возвращает узлы DAG в порядке объявления.
// GET /api/v1/nodes?status=...
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	var filter *domain.NodeStatus
	if s := r.URL.Query().Get("status"); s != "" {
		status, err := domain.ParseNodeStatus(s)
		if err != nil {
			BadRequest(w, "invalid status")
			return
		}
		filter = &status
	}

	snap := h.source.Snapshot()
	result := make([]NodeResponse, 0, len(snap.Nodes))
	for _, node := range snap.Nodes {
		if filter != nil && node.Status != *filter {
			continue
		}
		result = append(result, NodeFromView(node))
	}

	List(w, result, len(result))
}

// GetNode возвращает узел по ID.
// GET /api/v1/nodes/{id}
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, ok := h.source.Snapshot().Node(r.PathValue("id"))
	if !ok {
		NotFound(w, "node not found")
		return
	}

	Success(w, NodeFromView(node))
}
