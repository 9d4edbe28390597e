package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agrilink-io/agrilink/internal/model"
	"github.com/agrilink-io/agrilink/internal/negotiation"
)

const contractColumns = `id, coordinator_id, factory_id, initiator, status, title, priority,
	 contract_value, duration_days, request_payload, counter_payload, revision_count,
	 last_modified_by, expires_at, responded_at, finalized_at, created_at, updated_at`

// CreateContract inserts a dual-party negotiation contract and returns it.
// The partial unique index on (coordinator_id, factory_id) over active
// statuses rejects a second concurrent negotiation for the same pair; the
// violation is translated to ErrConflict, never surfaced as a raw storage fault.
func (db *DB) CreateContract(ctx context.Context, c model.NegotiationContract) (model.NegotiationContract, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.ExpiresAt.IsZero() {
		c.ExpiresAt = now.AddDate(0, 0, model.DefaultExpiryDays)
	}
	if c.RequestPayload == nil {
		c.RequestPayload = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO contracts (id, coordinator_id, factory_id, initiator, status, title, priority,
		 contract_value, duration_days, request_payload, counter_payload, revision_count,
		 last_modified_by, expires_at, responded_at, finalized_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		c.ID, c.CoordinatorID, c.FactoryID, string(c.Initiator), string(c.Status), c.Title, c.Priority,
		c.ContractValue, c.DurationDays, c.RequestPayload, c.CounterPayload, c.RevisionCount,
		string(c.LastModifiedBy), c.ExpiresAt, c.RespondedAt, c.FinalizedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NegotiationContract{}, fmt.Errorf("storage: active contract already exists for pair: %w", negotiation.ErrConflict)
		}
		return model.NegotiationContract{}, fmt.Errorf("storage: create contract: %w", err)
	}
	return c, nil
}

// GetContract retrieves a contract by ID.
func (db *DB) GetContract(ctx context.Context, id uuid.UUID) (model.NegotiationContract, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)
	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.NegotiationContract{}, fmt.Errorf("storage: contract %s: %w", id, negotiation.ErrNotFound)
		}
		return model.NegotiationContract{}, fmt.Errorf("storage: get contract: %w", err)
	}
	return c, nil
}

// TransitionUpdate describes one atomic contract transition: the status
// compare-and-swap plus the side effects that must land in the same write.
// Optional fields are applied only when non-nil/non-zero.
type TransitionUpdate struct {
	Expected model.ContractStatus // CAS guard: current status the caller observed
	Next     model.ContractStatus

	SetRespondedAt bool // set responded_at = now() if currently NULL
	SetFinalizedAt bool // set finalized_at = now() if currently NULL
	BumpRevision   bool

	ActorRole model.PartyRole // last_modified_by; empty leaves it unchanged

	CounterPayload map[string]any
	RequestPayload map[string]any
	NewExpiresAt   *time.Time
	ContractValue  *float64
	DurationDays   *int
}

// ApplyContractTransition performs a conditional single-row update guarded by
// the expected status. Two racing transitions cannot both apply: the loser's
// guard matches zero rows and it observes ErrInvalidTransition, never a
// silently overwritten result.
func (db *DB) ApplyContractTransition(ctx context.Context, id uuid.UUID, u TransitionUpdate) (model.NegotiationContract, error) {
	set := []string{"status = $3", "updated_at = now()"}
	args := []any{id, string(u.Expected), string(u.Next)}

	if u.SetRespondedAt {
		set = append(set, "responded_at = COALESCE(responded_at, now())")
	}
	if u.SetFinalizedAt {
		set = append(set, "finalized_at = COALESCE(finalized_at, now())")
	}
	if u.BumpRevision {
		set = append(set, "revision_count = revision_count + 1")
	}
	if u.ActorRole != "" {
		args = append(args, string(u.ActorRole))
		set = append(set, fmt.Sprintf("last_modified_by = $%d", len(args)))
	}
	if u.CounterPayload != nil {
		args = append(args, u.CounterPayload)
		set = append(set, fmt.Sprintf("counter_payload = $%d", len(args)))
	}
	if u.RequestPayload != nil {
		args = append(args, u.RequestPayload)
		set = append(set, fmt.Sprintf("request_payload = $%d", len(args)))
	}
	if u.NewExpiresAt != nil {
		args = append(args, *u.NewExpiresAt)
		set = append(set, fmt.Sprintf("expires_at = $%d", len(args)))
	}
	if u.ContractValue != nil {
		args = append(args, *u.ContractValue)
		set = append(set, fmt.Sprintf("contract_value = $%d", len(args)))
	}
	if u.DurationDays != nil {
		args = append(args, *u.DurationDays)
		set = append(set, fmt.Sprintf("duration_days = $%d", len(args)))
	}

	query := fmt.Sprintf(
		`UPDATE contracts SET %s WHERE id = $1 AND status = $2 RETURNING `+contractColumns,
		strings.Join(set, ", "),
	)

	row := db.pool.QueryRow(ctx, query, args...)
	c, err := scanContract(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Distinguish a missing contract from a lost CAS race.
			if _, getErr := db.GetContract(ctx, id); errors.Is(getErr, negotiation.ErrNotFound) {
				return model.NegotiationContract{}, getErr
			}
			return model.NegotiationContract{}, fmt.Errorf("storage: contract %s no longer %s: %w", id, u.Expected, negotiation.ErrInvalidTransition)
		}
		if isUniqueViolation(err) {
			return model.NegotiationContract{}, fmt.Errorf("storage: active contract already exists for pair: %w", negotiation.ErrConflict)
		}
		return model.NegotiationContract{}, fmt.Errorf("storage: apply transition: %w", err)
	}
	return c, nil
}

// ContractFilters narrows contract listings.
type ContractFilters struct {
	PartyID       *uuid.UUID // matches either side of the pair
	Status        *model.ContractStatus
	PriorityMin   *int
	ExpiresBefore *time.Time
}

// buildContractWhereClause builds the WHERE clause for contract listings.
// startArgIdx is the first positional parameter number to use.
func buildContractWhereClause(f ContractFilters, startArgIdx int) (string, []any) {
	var conds []string
	var args []any
	idx := startArgIdx

	if f.PartyID != nil {
		conds = append(conds, fmt.Sprintf("(coordinator_id = $%d OR factory_id = $%d)", idx, idx))
		args = append(args, *f.PartyID)
		idx++
	}
	if f.Status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(*f.Status))
		idx++
	}
	if f.PriorityMin != nil {
		conds = append(conds, fmt.Sprintf("priority >= $%d", idx))
		args = append(args, *f.PriorityMin)
		idx++
	}
	if f.ExpiresBefore != nil {
		conds = append(conds, fmt.Sprintf("expires_at < $%d", idx))
		args = append(args, *f.ExpiresBefore)
		idx++
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListContracts returns contracts matching the filters, ordered by priority
// then recency, with the total count for pagination.
func (db *DB) ListContracts(ctx context.Context, f ContractFilters, limit, offset int) ([]model.NegotiationContract, int, error) {
	where, args := buildContractWhereClause(f, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM contracts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count contracts: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		`SELECT `+contractColumns+` FROM contracts%s ORDER BY priority DESC, created_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset,
	)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list contracts: %w", err)
	}
	defer rows.Close()

	var contracts []model.NegotiationContract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan contract: %w", err)
		}
		contracts = append(contracts, c)
	}
	return contracts, total, rows.Err()
}

func scanContract(row pgx.Row) (model.NegotiationContract, error) {
	var c model.NegotiationContract
	var initiator, status, lastModifiedBy string
	err := row.Scan(
		&c.ID, &c.CoordinatorID, &c.FactoryID, &initiator, &status, &c.Title, &c.Priority,
		&c.ContractValue, &c.DurationDays, &c.RequestPayload, &c.CounterPayload, &c.RevisionCount,
		&lastModifiedBy, &c.ExpiresAt, &c.RespondedAt, &c.FinalizedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return model.NegotiationContract{}, err
	}
	c.Initiator = model.PartyRole(initiator)
	c.Status = model.ContractStatus(status)
	c.LastModifiedBy = model.PartyRole(lastModifiedBy)
	return c, nil
}
