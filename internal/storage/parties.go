package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/negotiation"
)

// CreateParty inserts a party and returns it.
func (db *DB) CreateParty(ctx context.Context, p model.Party) (model.Party, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO parties (id, name, role, api_key_hash, active, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, string(p.Role), p.APIKeyHash, p.Active, p.Metadata, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Party{}, fmt.Errorf("storage: party name %q already registered: %w", p.Name, negotiation.ErrConflict)
		}
		return model.Party{}, fmt.Errorf("storage: create party: %w", err)
	}
	return p, nil
}

// GetParty retrieves a party by ID.
func (db *DB) GetParty(ctx context.Context, id uuid.UUID) (model.Party, error) {
	var p model.Party
	var role string
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, role, api_key_hash, active, metadata, created_at, updated_at
		 FROM parties WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &role, &p.APIKeyHash, &p.Active, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Party{}, fmt.Errorf("storage: party %s: %w", id, negotiation.ErrNotFound)
		}
		return model.Party{}, fmt.Errorf("storage: get party: %w", err)
	}
	p.Role = model.PartyRole(role)
	return p, nil
}

// GetPartyProfiles resolves the public profiles for a set of party IDs.
// Missing IDs are simply absent from the result map.
func (db *DB) GetPartyProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.PartyProfile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, role FROM parties WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: get party profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[uuid.UUID]model.PartyProfile, len(ids))
	for rows.Next() {
		var p model.PartyProfile
		var role string
		if err := rows.Scan(&p.ID, &p.Name, &role); err != nil {
			return nil, fmt.Errorf("storage: scan party profile: %w", err)
		}
		p.Role = model.PartyRole(role)
		profiles[p.ID] = p
	}
	return profiles, rows.Err()
}

// ListParties returns parties, optionally filtered by role, ordered by name.
func (db *DB) ListParties(ctx context.Context, role *model.PartyRole) ([]model.Party, error) {
	query := `SELECT id, name, role, api_key_hash, active, metadata, created_at, updated_at FROM parties`
	var args []any
	if role != nil {
		query += ` WHERE role = $1`
		args = append(args, string(*role))
	}
	query += ` ORDER BY name`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list parties: %w", err)
	}
	defer rows.Close()

	var parties []model.Party
	for rows.Next() {
		var p model.Party
		var r string
		if err := rows.Scan(&p.ID, &p.Name, &r, &p.APIKeyHash, &p.Active, &p.Metadata, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan party: %w", err)
		}
		p.Role = model.PartyRole(r)
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// CountParties returns the total number of registered parties.
func (db *DB) CountParties(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM parties`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count parties: %w", err)
	}
	return n, nil
}

// DeactivateParty marks a party inactive. Parties are never hard-deleted:
// terminal contracts keep referencing them for audit.
func (db *DB) DeactivateParty(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE parties SET active = false, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: deactivate party: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: party %s: %w", id, negotiation.ErrNotFound)
	}
	return nil
}
