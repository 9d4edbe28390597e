package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Field length limits for caller-supplied contract fields. These keep opaque
// offer payloads from filling Postgres TEXT/JSONB columns with unbounded
// caller-controlled data.
const (
	MaxTitleLen      = 200
	MaxPayloadFields = 100
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   int          `json:"total"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeExpired           = "EXPIRED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	PartyID uuid.UUID `json:"party_id"`
	APIKey  string    `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreatePartyRequest is the request body for POST /v1/parties (admin only).
type CreatePartyRequest struct {
	Name     string         `json:"name"`
	Role     PartyRole      `json:"role"`
	APIKey   string         `json:"api_key"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CreateContractRequest is the request body for POST /v1/contracts.
// The acting party comes from the verified token, never from the body:
// a coordinator-opened contract starts pending, a factory-opened one starts
// as an invite.
type CreateContractRequest struct {
	CounterpartyID uuid.UUID      `json:"counterparty_id"`
	Title          string         `json:"title"`
	Priority       int            `json:"priority"`
	ContractValue  float64        `json:"contract_value"`
	DurationDays   int            `json:"duration_days"`
	ExpiresInDays  int            `json:"expires_in_days,omitempty"` // defaults to DefaultExpiryDays
	RequestPayload map[string]any `json:"request_payload"`
}

// ContractActionRequest is the request body for POST /v1/contracts/{id}/actions.
type ContractActionRequest struct {
	Action  string         `json:"action"` // counter, accept, reject, cancel, complete, extend
	Payload map[string]any `json:"payload,omitempty"`

	// Extend-only fields: revised window and terms.
	ExtendDays    int      `json:"extend_days,omitempty"`
	ContractValue *float64 `json:"contract_value,omitempty"`
	DurationDays  *int     `json:"duration_days,omitempty"`
}

// CreateEngagementRequest is the request body for POST /v1/engagements.
type CreateEngagementRequest struct {
	TargetID        uuid.UUID      `json:"target_id"`
	ContractDetails map[string]any `json:"contract_details"`
	DurationDays    int            `json:"duration_days"`
	GracePeriodDays int            `json:"grace_period_days"`
}

// ContractStats is the response for GET /v1/stats/contracts: committed-state
// aggregates for dashboards.
type ContractStats struct {
	ByStatus             map[ContractStatus]int `json:"by_status"`
	TotalValueAccepted   float64                `json:"total_value_accepted"`
	AvgResponseTimeHours *float64               `json:"avg_response_time_hours,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// ValidateCreateContract checks per-field limits before any mutation.
func ValidateCreateContract(req CreateContractRequest) error {
	if req.CounterpartyID == uuid.Nil {
		return fmt.Errorf("counterparty_id is required")
	}
	if len(req.Title) > MaxTitleLen {
		return fmt.Errorf("title exceeds maximum length of %d characters", MaxTitleLen)
	}
	if req.ContractValue < 0 {
		return fmt.Errorf("contract_value must not be negative")
	}
	if req.DurationDays <= 0 {
		return fmt.Errorf("duration_days must be positive")
	}
	if req.ExpiresInDays < 0 {
		return fmt.Errorf("expires_in_days must not be negative")
	}
	if len(req.RequestPayload) > MaxPayloadFields {
		return fmt.Errorf("request_payload exceeds %d fields", MaxPayloadFields)
	}
	return nil
}

// ValidateCreateEngagement checks per-field limits before any mutation.
func ValidateCreateEngagement(req CreateEngagementRequest) error {
	if req.TargetID == uuid.Nil {
		return fmt.Errorf("target_id is required")
	}
	if req.DurationDays <= 0 {
		return fmt.Errorf("duration_days must be positive")
	}
	if req.GracePeriodDays < 0 {
		return fmt.Errorf("grace_period_days must not be negative")
	}
	if len(req.ContractDetails) > MaxPayloadFields {
		return fmt.Errorf("contract_details exceeds %d fields", MaxPayloadFields)
	}
	return nil
}
