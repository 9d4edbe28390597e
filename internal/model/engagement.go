package model

import (
	"time"

	"github.com/google/uuid"
)

// EngagementStatus is the closed status enum for single-direction engagement
// requests from a farm operator to a coordinator.
type EngagementStatus string

const (
	EngagementPending       EngagementStatus = "pending"
	EngagementAccepted      EngagementStatus = "accepted"
	EngagementRejected      EngagementStatus = "rejected"
	EngagementAutoCancelled EngagementStatus = "auto_cancelled"
)

// ValidEngagementStatus reports whether s is a member of the closed enum.
func ValidEngagementStatus(s EngagementStatus) bool {
	switch s {
	case EngagementPending, EngagementAccepted, EngagementRejected, EngagementAutoCancelled:
		return true
	}
	return false
}

// EngagementRequest is a single-direction work request: a farm operator asks
// one coordinator to take on its labor coordination. A requester holds at
// most one accepted engagement; accepting one auto-cancels the requester's
// other pending requests in the same transaction.
type EngagementRequest struct {
	ID          uuid.UUID `json:"id"`
	RequesterID uuid.UUID `json:"requester_id"` // farm operator
	TargetID    uuid.UUID `json:"target_id"`    // coordinator

	ContractDetails map[string]any `json:"contract_details"`
	DurationDays    int            `json:"duration_days"`
	GracePeriodDays int            `json:"grace_period_days"`

	Status      EngagementStatus `json:"status"`
	RespondedAt *time.Time       `json:"responded_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
