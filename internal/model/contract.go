package model

import (
	"time"

	"github.com/google/uuid"
)

// ContractStatus is the closed status enum for dual-party negotiation
// contracts between a coordinator and a factory.
type ContractStatus string

const (
	StatusInvite           ContractStatus = "invite"
	StatusPending          ContractStatus = "pending"
	StatusCounterOffer     ContractStatus = "counter_offer"
	StatusRejectedByTarget ContractStatus = "rejected_by_target"
	StatusAccepted         ContractStatus = "accepted"
	StatusRejected         ContractStatus = "rejected"
	StatusExpired          ContractStatus = "expired"
	StatusCancelled        ContractStatus = "cancelled"
	StatusCompleted        ContractStatus = "completed"
)

// DefaultExpiryDays is the canonical default for missing temporal fields:
// contract expiry windows and the analytics payment-delay assumption both
// use 30 days.
const DefaultExpiryDays = 30

// ActiveStatuses is the set of statuses still occupying the one-active-
// contract-per-pair slot. An accepted contract holds the slot until it
// completes, so a pair cannot open a second negotiation mid-engagement.
var ActiveStatuses = []ContractStatus{StatusInvite, StatusPending, StatusCounterOffer, StatusAccepted}

// ExpirableStatuses is the subset of statuses subject to clock decay.
// An accepted contract is finalized and no longer expires.
var ExpirableStatuses = []ContractStatus{StatusInvite, StatusPending, StatusCounterOffer}

// ValidContractStatus reports whether s is a member of the closed enum.
func ValidContractStatus(s ContractStatus) bool {
	switch s {
	case StatusInvite, StatusPending, StatusCounterOffer, StatusRejectedByTarget,
		StatusAccepted, StatusRejected, StatusExpired, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsTerminal reports whether no further actor-initiated transition is
// permitted from s. Accepted is finalized but not terminal: complete and
// cancel are still allowed.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case StatusRejectedByTarget, StatusRejected, StatusExpired, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// IsFinalized reports whether s is a status that freezes the contract's
// negotiated terms (finalized_at is set on entry).
func (s ContractStatus) IsFinalized() bool {
	return s == StatusAccepted || s.IsTerminal()
}

// IsExpirable reports whether a contract in s decays once expires_at passes.
func (s ContractStatus) IsExpirable() bool {
	switch s {
	case StatusInvite, StatusPending, StatusCounterOffer:
		return true
	}
	return false
}

// NegotiationContract is a dual-party work agreement under negotiation
// between a coordinator (intermediary) and a factory.
type NegotiationContract struct {
	ID            uuid.UUID `json:"id"`
	CoordinatorID uuid.UUID `json:"coordinator_id"`
	FactoryID     uuid.UUID `json:"factory_id"`

	// Initiator records which role opened the negotiation and therefore
	// which side must finalize a counter offer.
	Initiator PartyRole      `json:"initiator"`
	Status    ContractStatus `json:"status"`

	Title         string  `json:"title"`
	Priority      int     `json:"priority"`
	ContractValue float64 `json:"contract_value"`
	DurationDays  int     `json:"duration_days"`

	// Opaque offer terms. RequestPayload is the opening offer,
	// CounterPayload the target's revision.
	RequestPayload map[string]any `json:"request_payload"`
	CounterPayload map[string]any `json:"counter_payload,omitempty"`

	RevisionCount  int       `json:"revision_count"`
	LastModifiedBy PartyRole `json:"last_modified_by"`

	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Party returns the ID of the party holding the given negotiating role,
// or uuid.Nil for roles not bound to the contract.
func (c NegotiationContract) Party(role PartyRole) uuid.UUID {
	switch role {
	case RoleCoordinator:
		return c.CoordinatorID
	case RoleFactory:
		return c.FactoryID
	}
	return uuid.Nil
}

// Binds reports whether the given party, acting under the given role, is one
// of the contract's two bound parties.
func (c NegotiationContract) Binds(partyID uuid.UUID, role PartyRole) bool {
	return c.Party(role) == partyID && partyID != uuid.Nil
}

// TargetRole returns the role opposite the initiator: the side that responds
// to the opening offer.
func (c NegotiationContract) TargetRole() PartyRole {
	if c.Initiator == RoleCoordinator {
		return RoleFactory
	}
	return RoleCoordinator
}

// PastExpiry reports whether the contract's expiry window has closed at now.
// Only meaningful for expirable statuses; callers guard on IsExpirable.
func (c NegotiationContract) PastExpiry(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ContractProjection is the outbound read model for a contract. Every derived
// flag is computed from the canonical status at projection time; nothing here
// is a second source of truth.
type ContractProjection struct {
	ID          uuid.UUID      `json:"id"`
	Coordinator PartyProfile   `json:"coordinator"`
	Factory     PartyProfile   `json:"factory"`
	Initiator   PartyRole      `json:"initiator"`
	Status      ContractStatus `json:"status"`

	Title         string  `json:"title"`
	Priority      int     `json:"priority"`
	ContractValue float64 `json:"contract_value"`
	DurationDays  int     `json:"duration_days"`

	RequestPayload map[string]any `json:"request_payload"`
	CounterPayload map[string]any `json:"counter_payload,omitempty"`
	RevisionCount  int            `json:"revision_count"`
	LastModifiedBy PartyRole      `json:"last_modified_by"`

	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	IsExpired           bool     `json:"is_expired"`
	IsActive            bool     `json:"is_active"`
	IsFinalized         bool     `json:"is_finalized"`
	DaysUntilExpiration int      `json:"days_until_expiration"`
	ResponseTimeHours   *float64 `json:"response_time_hours,omitempty"`
}

// Project builds the outbound projection for c at the given instant.
func (c NegotiationContract) Project(coordinator, factory PartyProfile, now time.Time) ContractProjection {
	p := ContractProjection{
		ID:             c.ID,
		Coordinator:    coordinator,
		Factory:        factory,
		Initiator:      c.Initiator,
		Status:         c.Status,
		Title:          c.Title,
		Priority:       c.Priority,
		ContractValue:  c.ContractValue,
		DurationDays:   c.DurationDays,
		RequestPayload: c.RequestPayload,
		CounterPayload: c.CounterPayload,
		RevisionCount:  c.RevisionCount,
		LastModifiedBy: c.LastModifiedBy,
		ExpiresAt:      c.ExpiresAt,
		RespondedAt:    c.RespondedAt,
		FinalizedAt:    c.FinalizedAt,
		CreatedAt:      c.CreatedAt,
	}

	p.IsExpired = c.Status == StatusExpired || (c.Status.IsExpirable() && c.PastExpiry(now))
	p.IsActive = !c.Status.IsTerminal() && !p.IsExpired
	p.IsFinalized = c.Status.IsFinalized()

	if days := int(c.ExpiresAt.Sub(now).Hours() / 24); c.Status.IsExpirable() && days > 0 {
		p.DaysUntilExpiration = days
	}

	if c.RespondedAt != nil {
		hours := c.RespondedAt.Sub(c.CreatedAt).Hours()
		p.ResponseTimeHours = &hours
	}

	return p
}
