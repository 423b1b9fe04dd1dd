package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/shaiso/slurmdag/internal/config"
	"github.com/shaiso/slurmdag/internal/telemetry"
)

// GetParams возвращает параметры, с которыми работает контроллер.
// GET /api/v1/params
func (h *Handler) GetParams(w http.ResponseWriter, r *http.Request) {
	Success(w, ParamsResponse{Params: h.source.Snapshot().Params})
}

// UpdateParams меняет runtime параметры.
// PATCH /api/v1/params
func (h *Handler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var req UpdateParamsRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if len(req) == 0 {
		BadRequest(w, "no parameters given")
		return
	}

	values, err := paramValues(req)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	h.update(w, r, func(p *config.Params) {
		for _, key := range config.Keys {
			if v, ok := values[key]; ok {
				*p, _ = p.Set(key, v)
			}
		}
	})
}

// Drain включает drain.
// POST /api/v1/drain
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(p *config.Params) { p.Drain = true })
}

// Cancel запрашивает cancel.
// POST /api/v1/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, func(p *config.Params) { p.Cancel = true })
}

// update записывает изменённые параметры в runtime файл поверх текущих.
func (h *Handler) update(w http.ResponseWriter, r *http.Request, fn func(*config.Params)) {
	if h.params == nil {
		NotAvailable(w, "runtime config is not available")
		return
	}

	snap := h.source.Snapshot()
	if snap.Summary != nil {
		InvalidState(w, "run already finished")
		return
	}

	p, err := h.params.Update(snap.Params, fn)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	telemetry.FromContext(r.Context()).Info("runtime config updated via api", "params", p)
	Accepted(w, ParamsResponse{Params: p, Pending: true})
}

// paramValues приводит значения запроса к строкам runtime файла
// и проверяет их.
func paramValues(req UpdateParamsRequest) (map[string]string, error) {
	values := make(map[string]string, len(req))
	for key, raw := range req {
		if !slices.Contains(config.Keys, key) {
			return nil, fmt.Errorf("%w: %s", config.ErrUnknownKey, key)
		}

		var v string
		switch x := raw.(type) {
		case string:
			v = x
		case bool:
			v = strconv.FormatBool(x)
		case json.Number:
			v = x.String()
		default:
			var buf bytes.Buffer
			_ = json.NewEncoder(&buf).Encode(raw)
			return nil, fmt.Errorf("%s: unsupported value %s", key, bytes.TrimSpace(buf.Bytes()))
		}

		if _, err := (config.Params{}).Set(key, v); err != nil {
			return nil, err
		}
		values[key] = v
	}
	return values, nil
}
