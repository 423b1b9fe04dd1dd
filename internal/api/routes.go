package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		RequestID(h.logger),
		Recovery(h.logger),
		Logging(),
	)

	// Run
	mux.Handle("GET /api/v1/run", chain(http.HandlerFunc(h.GetRun)))

	// Nodes
	mux.Handle("GET /api/v1/nodes", chain(http.HandlerFunc(h.ListNodes)))
	mux.Handle("GET /api/v1/nodes/{id}", chain(http.HandlerFunc(h.GetNode)))

	// Params
	mux.Handle("GET /api/v1/params", chain(http.HandlerFunc(h.GetParams)))
	mux.Handle("PATCH /api/v1/params", chain(http.HandlerFunc(h.UpdateParams)))
	mux.Handle("POST /api/v1/drain", chain(http.HandlerFunc(h.Drain)))
	mux.Handle("POST /api/v1/cancel", chain(http.HandlerFunc(h.Cancel)))
}
