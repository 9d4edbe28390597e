package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink-io/agrilink/internal/auth"
	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/negotiation"
	"github.com/agrilink-io/agrilink/internal/service/contracts"
	"github.com/agrilink-io/agrilink/internal/service/engagements"
	"github.com/agrilink-io/agrilink/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	jwtMgr              *auth.JWTManager
	contractSvc         *contracts.Service
	engagementSvc       *engagements.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	JWTMgr              *auth.JWTManager
	ContractSvc         *contracts.Service
	EngagementSvc       *engagements.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		jwtMgr:              d.JWTMgr,
		contractSvc:         d.ContractSvc,
		engagementSvc:       d.EngagementSvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges a party ID and API key
// for a signed JWT. Failure paths run a dummy hash so response timing does
// not reveal whether the party exists.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.PartyID == uuid.Nil || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "party_id and api_key are required")
		return
	}

	party, err := h.db.GetParty(r.Context(), req.PartyID)
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if party.APIKeyHash == nil || !party.Active {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyAPIKey(req.APIKey, *party.APIKeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(party)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	h.logger.Info("token issued",
		"party_id", party.ID,
		"role", party.Role,
		"request_id", RequestIDFromContext(r.Context()),
	)

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleCreateParty handles POST /v1/parties (admin only).
func (h *Handlers) HandleCreateParty(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePartyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidatePartyName(req.Name); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if !model.ValidRole(req.Role) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid role: "+string(req.Role))
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	hash, err := auth.HashAPIKey(req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash api key", err)
		return
	}

	party, err := h.db.CreateParty(r.Context(), model.Party{
		Name:       req.Name,
		Role:       req.Role,
		APIKeyHash: &hash,
		Active:     true,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("party created", "party_id", party.ID, "role", party.Role)
	writeJSON(w, r, http.StatusCreated, party)
}

// HandleListParties handles GET /v1/parties (admin only).
func (h *Handlers) HandleListParties(w http.ResponseWriter, r *http.Request) {
	var role *model.PartyRole
	if v := r.URL.Query().Get("role"); v != "" {
		pr := model.PartyRole(v)
		if !model.ValidRole(pr) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid role: "+v)
			return
		}
		role = &pr
	}

	parties, err := h.db.ListParties(r.Context(), role)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, r, http.StatusOK, parties)
}

// HandleDeactivateParty handles DELETE /v1/parties/{party_id} (admin only).
// Parties are deactivated, never hard-deleted, so terminal contracts keep
// their references.
func (h *Handlers) HandleDeactivateParty(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("party_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid party_id")
		return
	}

	if err := h.db.DeactivateParty(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	h.logger.Info("party deactivated", "party_id", id)
	writeJSON(w, r, http.StatusOK, map[string]any{"id": id, "active": false})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "ok"
	status := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "unavailable"
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// SeedAdmin creates the initial admin party if the parties table is empty.
// The generated party ID is logged; it is the party_id for /auth/token.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	count, err := h.db.CountParties(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: count parties: %w", err)
	}
	if adminAPIKey == "" {
		if count == 0 {
			return fmt.Errorf("seed admin: AGRILINK_ADMIN_API_KEY is empty and no parties exist; set AGRILINK_ADMIN_API_KEY to bootstrap initial admin access")
		}
		h.logger.Info("no admin API key configured, skipping admin seed", "existing_parties", count)
		return nil
	}
	if count > 0 {
		h.logger.Info("parties table not empty, skipping admin seed")
		return nil
	}

	hash, err := auth.HashAPIKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	admin, err := h.db.CreateParty(ctx, model.Party{
		Name:       "System Admin",
		Role:       model.RoleAdmin,
		APIKeyHash: &hash,
		Active:     true,
	})
	if err != nil {
		return fmt.Errorf("seed admin: create party: %w", err)
	}

	h.logger.Info("seeded initial admin party", "party_id", admin.ID)
	return nil
}

// writeInternalError logs the underlying error and writes an opaque 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}

// requireActor extracts the verified actor or writes a 401. Handlers behind
// authMiddleware always have claims; this guards direct handler invocation.
func (h *Handlers) requireActor(w http.ResponseWriter, r *http.Request) (negotiation.Actor, bool) {
	actor, ok := actorFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
	}
	return actor, ok
}

var errBadID = errors.New("invalid id")

// parsePathID parses a UUID path value or writes a 400.
func parsePathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid "+name)
		return uuid.Nil, errBadID
	}
	return id, nil
}
