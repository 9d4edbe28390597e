// Package negotiation implements the pure transition logic for dual-party
// negotiation contracts. It is decoupled from storage so the transition table
// is independently unit-testable; persistence and atomicity live in the
// storage layer.
package negotiation

import "errors"

// Domain error taxonomy. Guard failures are detected before any write and
// surfaced with zero partial effect; storage translates commit-time
// uniqueness violations to ErrConflict.
var (
	// ErrValidation indicates malformed input; no mutation was attempted.
	ErrValidation = errors.New("negotiation: invalid input")

	// ErrNotFound indicates an unknown contract or party.
	ErrNotFound = errors.New("negotiation: not found")

	// ErrAuthorization indicates the actor is not bound to the contract.
	ErrAuthorization = errors.New("negotiation: actor not bound to contract")

	// ErrInvalidTransition indicates the requested action is not permitted
	// from the contract's current status.
	ErrInvalidTransition = errors.New("negotiation: invalid transition")

	// ErrExpired indicates the contract's expiry window has closed; the
	// actor's intent is rejected and the contract is forced to expired.
	ErrExpired = errors.New("negotiation: contract expired")

	// ErrConflict indicates a uniqueness or exclusivity violation detected
	// at commit time.
	ErrConflict = errors.New("negotiation: conflicting active contract")

	// ErrExternalDependency indicates a referenced party could not be resolved.
	ErrExternalDependency = errors.New("negotiation: referenced party unavailable")
)
