package server

import (
	"net/http"

	"github.com/agrilink-io/agrilink/internal/model"
)

// HandleCreateEngagement handles POST /v1/engagements (farm operators only).
func (h *Handlers) HandleCreateEngagement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req model.CreateEngagementRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	e, err := h.engagementSvc.Create(r.Context(), actor, req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, e)
}

// HandleListEngagements handles GET /v1/engagements: farm operators see their
// own requests, coordinators see requests addressed to them.
func (h *Handlers) HandleListEngagements(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	list, err := h.engagementSvc.List(r.Context(), actor)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list)
}

// HandleAcceptEngagement handles POST /v1/engagements/{engagement_id}/accept
// (coordinators only). Accepting one request atomically retires the
// requester's other pending requests.
func (h *Handlers) HandleAcceptEngagement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(w, r, "engagement_id")
	if err != nil {
		return
	}

	e, err := h.engagementSvc.Accept(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}

// HandleRejectEngagement handles POST /v1/engagements/{engagement_id}/reject
// (coordinators only).
func (h *Handlers) HandleRejectEngagement(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id, err := parsePathID(w, r, "engagement_id")
	if err != nil {
		return
	}

	e, err := h.engagementSvc.Reject(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, e)
}
