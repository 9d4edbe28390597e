package negotiation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agrilink-io/agrilink/internal/model"
)

// Action is an actor-requested negotiation action.
type Action string

const (
	ActionCounter  Action = "counter"
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
	ActionExtend   Action = "extend"
)

// ValidAction reports whether a is a member of the closed action set.
func ValidAction(a Action) bool {
	switch a {
	case ActionCounter, ActionAccept, ActionReject, ActionCancel, ActionComplete, ActionExtend:
		return true
	}
	return false
}

// Actor is the verified identity performing an action. It is produced once
// by the authorization gate from a validated credential; the engine never
// re-trusts a role claim embedded in request payloads.
type Actor struct {
	PartyID uuid.UUID
	Role    model.PartyRole
}

// Decision is the outcome of applying an action: the next status plus the
// side effects the caller must persist atomically with the status change.
// Timestamp flags mean "set if currently unset" — once written, responded_at
// and finalized_at are immutable history.
type Decision struct {
	Next           model.ContractStatus
	SetRespondedAt bool
	SetFinalizedAt bool
	BumpRevision   bool
}

// InitialStatus returns the opening status for a contract: pending when the
// coordinator opens the negotiation, invite when the factory does.
func InitialStatus(initiator model.PartyRole) (model.ContractStatus, error) {
	switch initiator {
	case model.RoleCoordinator:
		return model.StatusPending, nil
	case model.RoleFactory:
		return model.StatusInvite, nil
	}
	return "", fmt.Errorf("%w: initiator must be coordinator or factory, got %q", ErrValidation, initiator)
}

// ExpiryDecision is the forced transition applied when a contract's expiry
// window closes. Used by both the lazy read path and the periodic sweep so
// the two strategies converge to the same observable state.
func ExpiryDecision() Decision {
	return Decision{Next: model.StatusExpired, SetFinalizedAt: true}
}

// Decide maps (current status, actor, requested action) to the next status
// or a rejection. Guards run in order: the actor must be one of the
// contract's two bound parties, expiry is re-checked before honoring any
// intent, and the current status must be in the action's allowed source set.
//
// When the contract is past expiry, Decide returns ExpiryDecision alongside
// ErrExpired: the caller persists the expired state and rejects the actor's
// intent rather than applying it.
func Decide(c model.NegotiationContract, actor Actor, action Action, now time.Time) (Decision, error) {
	if !ValidAction(action) {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}

	if !c.Binds(actor.PartyID, actor.Role) {
		return Decision{}, fmt.Errorf("%w: party %s (%s) on contract %s", ErrAuthorization, actor.PartyID, actor.Role, c.ID)
	}

	if c.Status.IsTerminal() {
		return Decision{}, fmt.Errorf("%w: %s from terminal status %s", ErrInvalidTransition, action, c.Status)
	}

	// Expiry guard runs before the transition table: a stale contract forces
	// expired and the actor's intent is rejected, never applied.
	if c.Status.IsExpirable() && c.PastExpiry(now) {
		return ExpiryDecision(), fmt.Errorf("%w: contract %s expired at %s", ErrExpired, c.ID, c.ExpiresAt.Format(time.RFC3339))
	}

	// Unreachable for stored rows (the schema constrains initiator), but a
	// corrupted initiator must not silently degrade the responded-at rule.
	initial, err := InitialStatus(c.Initiator)
	if err != nil {
		return Decision{}, err
	}
	isInitiator := actor.Role == c.Initiator
	isTarget := actor.Role == c.TargetRole()

	var d Decision
	switch action {
	case ActionCounter:
		// Only the target counters, and only an opening offer.
		if c.Status != model.StatusPending || !isTarget {
			return Decision{}, transitionErr(c.Status, action)
		}
		d = Decision{Next: model.StatusCounterOffer, BumpRevision: true}

	case ActionAccept:
		switch {
		case c.Status == model.StatusCounterOffer && isInitiator:
			d = Decision{Next: model.StatusAccepted, SetFinalizedAt: true}
		case c.Status == model.StatusInvite && isTarget:
			d = Decision{Next: model.StatusAccepted, SetFinalizedAt: true}
		default:
			return Decision{}, transitionErr(c.Status, action)
		}

	case ActionReject:
		switch {
		case c.Status == model.StatusPending && isTarget:
			d = Decision{Next: model.StatusRejectedByTarget, SetFinalizedAt: true}
		case c.Status == model.StatusCounterOffer && isInitiator:
			d = Decision{Next: model.StatusRejected, SetFinalizedAt: true}
		case c.Status == model.StatusInvite && isTarget:
			d = Decision{Next: model.StatusRejected, SetFinalizedAt: true}
		default:
			return Decision{}, transitionErr(c.Status, action)
		}

	case ActionCancel:
		// Either bound party may cancel any non-terminal contract.
		d = Decision{Next: model.StatusCancelled, SetFinalizedAt: true}

	case ActionComplete:
		if c.Status != model.StatusAccepted {
			return Decision{}, transitionErr(c.Status, action)
		}
		d = Decision{Next: model.StatusCompleted, SetFinalizedAt: true}

	case ActionExtend:
		// Revises terms and the expiry window in place; only expirable
		// statuses still have a window to extend.
		if !c.Status.IsExpirable() {
			return Decision{}, transitionErr(c.Status, action)
		}
		d = Decision{Next: c.Status, BumpRevision: true}
	}

	// First actor-initiated exit from the initial status records the
	// response time. Finalizing a counter offer backfills it if the earlier
	// counter somehow left it unset.
	if c.RespondedAt == nil && d.Next != c.Status && (c.Status == initial || c.Status == model.StatusCounterOffer) {
		d.SetRespondedAt = true
	}

	return d, nil
}

func transitionErr(s model.ContractStatus, a Action) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, a, s)
}
