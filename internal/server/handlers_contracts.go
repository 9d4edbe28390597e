package server

import (
	"net/http"
	"strconv"

	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/storage"
)

// HandleCreateContract handles POST /v1/contracts. The initiating side comes
// from the verified token role; a coordinator-opened contract starts pending,
// a factory-opened one starts as an invite.
func (h *Handlers) HandleCreateContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req model.CreateContractRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	c, err := h.contractSvc.Open(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	projected, err := h.contractSvc.Project(r.Context(), []model.NegotiationContract{c})
	if err != nil {
		h.writeInternalError(w, r, "failed to project contract", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, projected[0])
}

// HandleListContracts handles GET /v1/contracts. Non-admin callers only see
// contracts they are bound to.
func (h *Handlers) HandleListContracts(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var f storage.ContractFilters
	if v := q.Get("status"); v != "" {
		st := model.ContractStatus(v)
		if !model.ValidContractStatus(st) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid status: "+v)
			return
		}
		f.Status = &st
	}
	if v := q.Get("priority_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid priority_min")
			return
		}
		f.PriorityMin = &n
	}

	limit := queryInt(q.Get("limit"), 50)
	offset := queryInt(q.Get("offset"), 0)

	list, total, err := h.contractSvc.List(r.Context(), actor, f, limit, offset)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	projected, err := h.contractSvc.Project(r.Context(), list)
	if err != nil {
		h.writeInternalError(w, r, "failed to project contracts", err)
		return
	}
	writeList(w, r, projected, total, limit, offset)
}

// HandleGetContract handles GET /v1/contracts/{contract_id}. A stale record
// is persisted as expired before it is returned.
func (h *Handlers) HandleGetContract(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(w, r, "contract_id")
	if err != nil {
		return
	}

	c, err := h.contractSvc.Get(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	projected, err := h.contractSvc.Project(r.Context(), []model.NegotiationContract{c})
	if err != nil {
		h.writeInternalError(w, r, "failed to project contract", err)
		return
	}
	writeJSON(w, r, http.StatusOK, projected[0])
}

// HandleContractAction handles POST /v1/contracts/{contract_id}/actions:
// counter, accept, reject, cancel, complete, extend.
func (h *Handlers) HandleContractAction(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(w, r, "contract_id")
	if err != nil {
		return
	}

	var req model.ContractActionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	c, err := h.contractSvc.Act(r.Context(), actor, id, req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	projected, err := h.contractSvc.Project(r.Context(), []model.NegotiationContract{c})
	if err != nil {
		h.writeInternalError(w, r, "failed to project contract", err)
		return
	}
	writeJSON(w, r, http.StatusOK, projected[0])
}

// HandleContractStats handles GET /v1/stats/contracts: committed-state
// aggregates scoped to the caller's contracts.
func (h *Handlers) HandleContractStats(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	stats, err := h.contractSvc.Stats(r.Context(), actor)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
