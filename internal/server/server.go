package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/agrilink-io/agrilink/internal/auth"
	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/ratelimit"
	"github.com/agrilink-io/agrilink/internal/service/contracts"
	"github.com/agrilink-io/agrilink/internal/service/engagements"
	"github.com/agrilink-io/agrilink/internal/storage"
)

// Server is the AgriLink HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional (nil = no rate limiting).
type ServerConfig struct {
	DB            *storage.DB
	JWTMgr        *auth.JWTManager
	ContractSvc   *contracts.Service
	EngagementSvc *engagements.Service
	Logger        *slog.Logger

	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		ContractSvc:         cfg.ContractSvc,
		EngagementSvc:       cfg.EngagementSvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Authenticated traffic is limited per party; token issuance by IP since
	// there are no claims yet. Admin is exempt.
	partyRL := ratelimit.Middleware(cfg.Limiter, cfg.Logger, partyKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, cfg.Logger, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Party management (admin-only, no rate limit — admin is exempt).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/parties", adminOnly(http.HandlerFunc(h.HandleCreateParty)))
	mux.Handle("GET /v1/parties", adminOnly(http.HandlerFunc(h.HandleListParties)))
	mux.Handle("DELETE /v1/parties/{party_id}", adminOnly(http.HandlerFunc(h.HandleDeactivateParty)))

	// Dual-party negotiation contracts (coordinator and factory open and act;
	// admin can read everything).
	negotiators := requireRole(model.RoleCoordinator, model.RoleFactory)
	readers := requireRole(model.RoleAdmin, model.RoleCoordinator, model.RoleFactory)
	mux.Handle("POST /v1/contracts", partyRL(negotiators(http.HandlerFunc(h.HandleCreateContract))))
	mux.Handle("GET /v1/contracts", partyRL(readers(http.HandlerFunc(h.HandleListContracts))))
	mux.Handle("GET /v1/contracts/{contract_id}", partyRL(readers(http.HandlerFunc(h.HandleGetContract))))
	mux.Handle("POST /v1/contracts/{contract_id}/actions", partyRL(negotiators(http.HandlerFunc(h.HandleContractAction))))

	// Single-direction engagement requests (farm submits, coordinator decides).
	engagementParties := requireRole(model.RoleFarm, model.RoleCoordinator)
	coordinatorOnly := requireRole(model.RoleCoordinator)
	mux.Handle("POST /v1/engagements", partyRL(requireRole(model.RoleFarm)(http.HandlerFunc(h.HandleCreateEngagement))))
	mux.Handle("GET /v1/engagements", partyRL(engagementParties(http.HandlerFunc(h.HandleListEngagements))))
	mux.Handle("POST /v1/engagements/{engagement_id}/accept", partyRL(coordinatorOnly(http.HandlerFunc(h.HandleAcceptEngagement))))
	mux.Handle("POST /v1/engagements/{engagement_id}/reject", partyRL(coordinatorOnly(http.HandlerFunc(h.HandleRejectEngagement))))

	// Dashboard aggregates.
	mux.Handle("GET /v1/stats/contracts", partyRL(readers(http.HandlerFunc(h.HandleContractStats))))

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// partyKeyFunc extracts the party ID from the request context for rate
// limiting. Returns empty string for admin (exempt).
func partyKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if claims.Role == model.RoleAdmin {
		return ""
	}
	return "party:" + claims.PartyID.String()
}

// Handlers returns the underlying Handlers for access in tests.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
