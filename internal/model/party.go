package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PartyRole identifies which side of the marketplace a party acts on.
type PartyRole string

const (
	RoleAdmin       PartyRole = "admin"
	RoleCoordinator PartyRole = "coordinator" // labor-coordination intermediary
	RoleFactory     PartyRole = "factory"     // processing-plant operator
	RoleFarm        PartyRole = "farm"        // farm operator
)

// ValidRole reports whether r is a member of the closed role enum.
func ValidRole(r PartyRole) bool {
	switch r {
	case RoleAdmin, RoleCoordinator, RoleFactory, RoleFarm:
		return true
	}
	return false
}

// Party is a registered marketplace identity with a role assignment.
type Party struct {
	ID         uuid.UUID      `json:"id"`
	Name       string         `json:"name"`
	Role       PartyRole      `json:"role"`
	APIKeyHash *string        `json:"-"`
	Active     bool           `json:"active"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// PartyProfile is the public subset of a party exposed in contract
// projections and directory listings. Credentials and metadata stay private.
type PartyProfile struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role PartyRole `json:"role"`
}

// Profile reduces a party to its public projection.
func (p Party) Profile() PartyProfile {
	return PartyProfile{ID: p.ID, Name: p.Name, Role: p.Role}
}

// ValidatePartyName checks that a party name is present and bounded.
func ValidatePartyName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("name is required")
	}
	if len(name) > 255 {
		return fmt.Errorf("name must be at most 255 characters")
	}
	return nil
}
