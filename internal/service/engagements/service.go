// Package engagements coordinates single-direction engagement requests from
// farm operators to coordinators, including the exclusivity rule: accepting
// one request atomically retires the requester's other pending requests.
package engagements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/negotiation"
	"github.com/agrilink-io/agrilink/internal/storage"
	"github.com/agrilink-io/agrilink/internal/telemetry"
)

// Service encapsulates engagement request logic.
type Service struct {
	db     *storage.DB
	logger *slog.Logger

	autoCancelled metric.Int64Counter
}

// New creates an engagement Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	meter := telemetry.Meter("agrilink/engagements")
	autoCancelled, _ := meter.Int64Counter("agrilink.engagement.auto_cancelled",
		metric.WithDescription("Pending engagements retired by an accept"),
	)
	return &Service{db: db, logger: logger, autoCancelled: autoCancelled}
}

// Create submits a new engagement request from a farm operator to a
// coordinator. The target must be an active coordinator.
func (s *Service) Create(ctx context.Context, actor negotiation.Actor, req model.CreateEngagementRequest) (model.EngagementRequest, error) {
	if actor.Role != model.RoleFarm {
		return model.EngagementRequest{}, fmt.Errorf("%w: only farm operators submit engagement requests", negotiation.ErrAuthorization)
	}
	if err := model.ValidateCreateEngagement(req); err != nil {
		return model.EngagementRequest{}, fmt.Errorf("%w: %s", negotiation.ErrValidation, err)
	}
	if req.TargetID == actor.PartyID {
		return model.EngagementRequest{}, fmt.Errorf("%w: requester and target must differ", negotiation.ErrValidation)
	}

	target, err := s.db.GetParty(ctx, req.TargetID)
	if err != nil {
		if errors.Is(err, negotiation.ErrNotFound) {
			return model.EngagementRequest{}, fmt.Errorf("%w: target %s", negotiation.ErrExternalDependency, req.TargetID)
		}
		return model.EngagementRequest{}, err
	}
	if target.Role != model.RoleCoordinator || !target.Active {
		return model.EngagementRequest{}, fmt.Errorf("%w: target %s is not an active coordinator", negotiation.ErrExternalDependency, req.TargetID)
	}

	e := model.EngagementRequest{
		RequesterID:     actor.PartyID,
		TargetID:        req.TargetID,
		ContractDetails: req.ContractDetails,
		DurationDays:    req.DurationDays,
		GracePeriodDays: req.GracePeriodDays,
		Status:          model.EngagementPending,
	}

	created, err := s.db.CreateEngagement(ctx, e)
	if err != nil {
		return model.EngagementRequest{}, err
	}

	s.logger.Info("engagement request created",
		"engagement_id", created.ID,
		"requester_id", created.RequesterID,
		"target_id", created.TargetID,
	)
	return created, nil
}

// Accept commits the coordinator's acceptance and retires the requester's
// other pending requests in the same transaction. Serialization conflicts
// from two coordinators racing on the same requester's set are retried; a
// true exclusivity loss surfaces as ErrConflict from the commit-time guard.
func (s *Service) Accept(ctx context.Context, actor negotiation.Actor, id uuid.UUID) (model.EngagementRequest, error) {
	if actor.Role != model.RoleCoordinator {
		return model.EngagementRequest{}, fmt.Errorf("%w: only coordinators accept engagement requests", negotiation.ErrAuthorization)
	}

	var accepted model.EngagementRequest
	var retired int64
	err := storage.WithRetry(ctx, 3, 25*time.Millisecond, func() error {
		var err error
		accepted, retired, err = s.db.AcceptEngagement(ctx, id, actor.PartyID)
		return err
	})
	if err != nil {
		return model.EngagementRequest{}, err
	}

	s.autoCancelled.Add(ctx, retired)
	s.logger.Info("engagement accepted",
		"engagement_id", accepted.ID,
		"requester_id", accepted.RequesterID,
		"auto_cancelled", retired,
	)
	return accepted, nil
}

// Reject declines a pending engagement request.
func (s *Service) Reject(ctx context.Context, actor negotiation.Actor, id uuid.UUID) (model.EngagementRequest, error) {
	if actor.Role != model.RoleCoordinator {
		return model.EngagementRequest{}, fmt.Errorf("%w: only coordinators reject engagement requests", negotiation.ErrAuthorization)
	}

	rejected, err := s.db.RejectEngagement(ctx, id, actor.PartyID)
	if err != nil {
		return model.EngagementRequest{}, err
	}

	s.logger.Info("engagement rejected", "engagement_id", rejected.ID)
	return rejected, nil
}

// List returns the engagements visible to the actor: a farm operator sees
// its own requests, a coordinator sees requests addressed to it.
//
// The requester view doubles as the invariant check: if an accepted record
// coexists with pending siblings (which the accept transaction makes
// impossible, barring writes from an older version), the set is repaired with
// one idempotent conditional update before being returned.
func (s *Service) List(ctx context.Context, actor negotiation.Actor) ([]model.EngagementRequest, error) {
	switch actor.Role {
	case model.RoleFarm:
		list, err := s.db.ListEngagementsByRequester(ctx, actor.PartyID)
		if err != nil {
			return nil, err
		}
		if exclusivityViolated(list) {
			n, err := s.db.RepairExclusivity(ctx, actor.PartyID)
			if err != nil {
				return nil, err
			}
			s.logger.Warn("exclusivity invariant repaired on read",
				"requester_id", actor.PartyID, "retired", n)
			return s.db.ListEngagementsByRequester(ctx, actor.PartyID)
		}
		return list, nil
	case model.RoleCoordinator:
		return s.db.ListEngagementsByTarget(ctx, actor.PartyID)
	default:
		return nil, fmt.Errorf("%w: role %s has no engagement view", negotiation.ErrAuthorization, actor.Role)
	}
}

// exclusivityViolated reports whether an accepted engagement coexists with a
// pending one in a single requester's set.
func exclusivityViolated(list []model.EngagementRequest) bool {
	var hasAccepted, hasPending bool
	for _, e := range list {
		switch e.Status {
		case model.EngagementAccepted:
			hasAccepted = true
		case model.EngagementPending:
			hasPending = true
		}
	}
	return hasAccepted && hasPending
}
