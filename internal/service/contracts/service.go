// Package contracts provides the business logic for dual-party negotiation
// contracts. The HTTP handlers delegate here; the package in turn delegates
// every transition decision to the pure engine in internal/negotiation and
// every atomicity concern to the storage layer's conditional updates.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/negotiation"
	"github.com/agrilink-io/agrilink/internal/storage"
	"github.com/agrilink-io/agrilink/internal/telemetry"
)

// Service encapsulates contract negotiation logic.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	transitions metric.Int64Counter
}

// New creates a contract Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	meter := telemetry.Meter("agrilink/contracts")
	transitions, _ := meter.Int64Counter("agrilink.contract.transitions",
		metric.WithDescription("Contract status transitions applied"),
	)
	return &Service{db: db, logger: logger, transitions: transitions}
}

// Open creates a new negotiation contract. The initial status depends on who
// opens it: pending for a coordinator, invite for a factory. The counterparty
// must be an active party holding the opposite negotiating role.
func (s *Service) Open(ctx context.Context, actor negotiation.Actor, req model.CreateContractRequest) (model.NegotiationContract, error) {
	if err := model.ValidateCreateContract(req); err != nil {
		return model.NegotiationContract{}, fmt.Errorf("%w: %s", negotiation.ErrValidation, err)
	}

	initial, err := negotiation.InitialStatus(actor.Role)
	if err != nil {
		return model.NegotiationContract{}, err
	}

	counterparty, err := s.db.GetParty(ctx, req.CounterpartyID)
	if err != nil {
		if errors.Is(err, negotiation.ErrNotFound) {
			return model.NegotiationContract{}, fmt.Errorf("%w: counterparty %s", negotiation.ErrExternalDependency, req.CounterpartyID)
		}
		return model.NegotiationContract{}, err
	}
	if !counterparty.Active {
		return model.NegotiationContract{}, fmt.Errorf("%w: counterparty %s is deactivated", negotiation.ErrExternalDependency, req.CounterpartyID)
	}

	c := model.NegotiationContract{
		Initiator:      actor.Role,
		Status:         initial,
		Title:          req.Title,
		Priority:       req.Priority,
		ContractValue:  req.ContractValue,
		DurationDays:   req.DurationDays,
		RequestPayload: req.RequestPayload,
		LastModifiedBy: actor.Role,
	}

	switch {
	case actor.Role == model.RoleCoordinator && counterparty.Role == model.RoleFactory:
		c.CoordinatorID, c.FactoryID = actor.PartyID, counterparty.ID
	case actor.Role == model.RoleFactory && counterparty.Role == model.RoleCoordinator:
		c.CoordinatorID, c.FactoryID = counterparty.ID, actor.PartyID
	default:
		return model.NegotiationContract{}, fmt.Errorf("%w: %s cannot open a negotiation with a %s", negotiation.ErrValidation, actor.Role, counterparty.Role)
	}

	expiresIn := req.ExpiresInDays
	if expiresIn == 0 {
		expiresIn = model.DefaultExpiryDays
	}
	c.ExpiresAt = time.Now().UTC().AddDate(0, 0, expiresIn)

	created, err := s.db.CreateContract(ctx, c)
	if err != nil {
		return model.NegotiationContract{}, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(initial)),
		attribute.String("action", "open"),
	))
	s.logger.Info("contract opened",
		"contract_id", created.ID,
		"initiator", actor.Role,
		"status", created.Status,
	)
	return created, nil
}

// Get fetches a contract the actor is bound to, lazily materializing expiry:
// a stale record is persisted as expired before it is returned, so a read
// never reports stale pending.
func (s *Service) Get(ctx context.Context, actor negotiation.Actor, id uuid.UUID) (model.NegotiationContract, error) {
	c, err := s.db.GetContract(ctx, id)
	if err != nil {
		return model.NegotiationContract{}, err
	}
	if !c.Binds(actor.PartyID, actor.Role) && actor.Role != model.RoleAdmin {
		return model.NegotiationContract{}, fmt.Errorf("%w: party %s on contract %s", negotiation.ErrAuthorization, actor.PartyID, id)
	}
	return s.materializeExpiry(ctx, c)
}

// materializeExpiry persists the expired state for a stale contract via the
// same conditional update actor transitions use, so it can never race an
// in-flight transition: whichever write wins, the other's status guard misses.
func (s *Service) materializeExpiry(ctx context.Context, c model.NegotiationContract) (model.NegotiationContract, error) {
	now := time.Now().UTC()
	if !c.Status.IsExpirable() || !c.PastExpiry(now) {
		return c, nil
	}

	d := negotiation.ExpiryDecision()
	expired, err := s.db.ApplyContractTransition(ctx, c.ID, storage.TransitionUpdate{
		Expected:       c.Status,
		Next:           d.Next,
		SetFinalizedAt: d.SetFinalizedAt,
	})
	if err != nil {
		if errors.Is(err, negotiation.ErrInvalidTransition) {
			// Lost the race to a concurrent transition or sweep; the
			// re-read is the authoritative state.
			return s.db.GetContract(ctx, c.ID)
		}
		return model.NegotiationContract{}, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(model.StatusExpired)),
		attribute.String("action", "expire_lazy"),
	))
	s.logger.Info("contract expired on read", "contract_id", c.ID, "was", c.Status)
	return expired, nil
}

// Act applies an actor-requested action to a contract. The engine decides;
// this method persists the decision with a compare-and-swap guarded by the
// status the engine evaluated, so two racing transitions cannot both apply.
func (s *Service) Act(ctx context.Context, actor negotiation.Actor, id uuid.UUID, req model.ContractActionRequest) (model.NegotiationContract, error) {
	action := negotiation.Action(req.Action)
	now := time.Now().UTC()

	c, err := s.db.GetContract(ctx, id)
	if err != nil {
		return model.NegotiationContract{}, err
	}

	d, err := negotiation.Decide(c, actor, action, now)
	if err != nil {
		if errors.Is(err, negotiation.ErrExpired) {
			// The guard forces expired and rejects the actor's intent.
			if _, mErr := s.materializeExpiry(ctx, c); mErr != nil {
				s.logger.Warn("expiry materialization failed", "contract_id", id, "error", mErr)
			}
		}
		return model.NegotiationContract{}, err
	}

	u := storage.TransitionUpdate{
		Expected:       c.Status,
		Next:           d.Next,
		SetRespondedAt: d.SetRespondedAt,
		SetFinalizedAt: d.SetFinalizedAt,
		BumpRevision:   d.BumpRevision,
		ActorRole:      actor.Role,
	}

	switch action {
	case negotiation.ActionCounter:
		if len(req.Payload) == 0 {
			return model.NegotiationContract{}, fmt.Errorf("%w: counter requires a payload", negotiation.ErrValidation)
		}
		u.CounterPayload = req.Payload
	case negotiation.ActionExtend:
		days := req.ExtendDays
		if days <= 0 {
			days = model.DefaultExpiryDays
		}
		newExpiry := now.AddDate(0, 0, days)
		u.NewExpiresAt = &newExpiry
		u.ContractValue = req.ContractValue
		u.DurationDays = req.DurationDays
		if len(req.Payload) > 0 {
			u.RequestPayload = req.Payload
		}
	}

	updated, err := s.db.ApplyContractTransition(ctx, id, u)
	if err != nil {
		return model.NegotiationContract{}, err
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(d.Next)),
		attribute.String("action", string(action)),
	))
	s.logger.Info("contract transition applied",
		"contract_id", id,
		"action", action,
		"from", c.Status,
		"to", updated.Status,
		"actor_role", actor.Role,
	)
	return updated, nil
}

// List returns contracts visible to the actor. Non-admin actors only see
// contracts they are bound to, regardless of the requested filter.
func (s *Service) List(ctx context.Context, actor negotiation.Actor, f storage.ContractFilters, limit, offset int) ([]model.NegotiationContract, int, error) {
	if actor.Role != model.RoleAdmin {
		f.PartyID = &actor.PartyID
	}
	return s.db.ListContracts(ctx, f, limit, offset)
}

// Project builds outbound projections for a set of contracts, resolving the
// bound parties' public profiles in one batch.
func (s *Service) Project(ctx context.Context, contracts []model.NegotiationContract) ([]model.ContractProjection, error) {
	ids := make([]uuid.UUID, 0, len(contracts)*2)
	for _, c := range contracts {
		ids = append(ids, c.CoordinatorID, c.FactoryID)
	}
	profiles, err := s.db.GetPartyProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	out := make([]model.ContractProjection, len(contracts))
	for i, c := range contracts {
		out[i] = c.Project(profiles[c.CoordinatorID], profiles[c.FactoryID], now)
	}
	return out, nil
}

// Stats returns committed-state dashboard aggregates for the actor's contracts.
func (s *Service) Stats(ctx context.Context, actor negotiation.Actor) (model.ContractStats, error) {
	return s.db.GetContractStats(ctx, actor.PartyID)
}
