package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goodtune/accesstime/internal/access"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	engine *access.Engine
	logger zerolog.Logger
}

// SimulateRequest is the body of POST /v1/simulate.
type SimulateRequest struct {
	Invocation access.Invocation `json:"invocation"`
}

// SubmitRequest is the body of POST /v1/submit.
type SubmitRequest struct {
	Invocation     access.Invocation `json:"invocation"`
	Authorizations []string          `json:"authorizations"`
}

// RemainingResponse is the projected balance of an owner.
type RemainingResponse struct {
	Owner         string `json:"owner"`
	Now           uint64 `json:"now"`
	RemainingSecs uint32 `json:"remaining_secs"`
	Active        bool   `json:"active"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (h *handlers) simulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sim, err := h.engine.Simulate(r.Context(), req.Invocation)
	if err != nil {
		h.logFailure(err, "Simulation failed", req.Invocation.Op)
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sim)
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Authorizations) == 0 {
		writeError(w, http.StatusBadRequest, "At least one authorization is required")
		return
	}

	res, err := h.engine.Submit(r.Context(), req.Invocation, req.Authorizations)
	if err != nil {
		h.logFailure(err, "Submission failed", req.Invocation.Op)
		writeEngineError(w, err)
		return
	}

	h.logger.Info().Str("operation", res.Operation).Uint64("order_id", res.OrderID).Msg("Invocation submitted")
	writeJSON(w, http.StatusOK, res)
}

// logFailure logs unclassified errors loudly and domain rejections quietly.
func (h *handlers) logFailure(err error, msg, op string) {
	if _, ok := access.Kind(err); ok {
		h.logger.Debug().Err(err).Str("operation", op).Msg(msg)
		return
	}
	h.logger.Error().Err(err).Str("operation", op).Msg(msg)
}

func (h *handlers) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := h.engine.Instance(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (h *handlers) listPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.engine.ListPackages(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list packages")
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"packages": pkgs,
		"count":    len(pkgs),
	})
}

func (h *handlers) getPackage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid package id")
		return
	}

	pkg, err := h.engine.GetPackage(r.Context(), uint32(id))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.engine.GetSession(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handlers) getRemaining(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	now := h.engine.Now()
	if raw := r.URL.Query().Get("now"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid now parameter")
			return
		}
		now = parsed
	}

	remaining, err := h.engine.Remaining(r.Context(), owner, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	active, err := h.engine.IsActive(r.Context(), owner, now)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RemainingResponse{
		Owner:         owner,
		Now:           now,
		RemainingSecs: remaining,
		Active:        active,
	})
}

func (h *handlers) getAccess(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.GetAccess(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	order, err := h.engine.GetOrder(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.engine.ListOrders(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list orders")
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}
