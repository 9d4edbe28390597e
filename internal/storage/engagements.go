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

const engagementColumns = `id, requester_id, target_id, contract_details, duration_days,
	 grace_period_days, status, responded_at, created_at`

// CreateEngagement inserts a single-direction engagement request.
func (db *DB) CreateEngagement(ctx context.Context, e model.EngagementRequest) (model.EngagementRequest, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ContractDetails == nil {
		e.ContractDetails = map[string]any{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO engagements (id, requester_id, target_id, contract_details, duration_days,
		 grace_period_days, status, responded_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.RequesterID, e.TargetID, e.ContractDetails, e.DurationDays,
		e.GracePeriodDays, string(e.Status), e.RespondedAt, e.CreatedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return model.EngagementRequest{}, fmt.Errorf("%w: requester and target must differ", negotiation.ErrValidation)
		}
		return model.EngagementRequest{}, fmt.Errorf("storage: create engagement: %w", err)
	}
	return e, nil
}

// GetEngagement retrieves an engagement request by ID.
func (db *DB) GetEngagement(ctx context.Context, id uuid.UUID) (model.EngagementRequest, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+engagementColumns+` FROM engagements WHERE id = $1`, id)
	e, err := scanEngagement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EngagementRequest{}, fmt.Errorf("storage: engagement %s: %w", id, negotiation.ErrNotFound)
		}
		return model.EngagementRequest{}, fmt.Errorf("storage: get engagement: %w", err)
	}
	return e, nil
}

// AcceptEngagement commits the accept and retires the requester's competing
// pending requests as one transaction:
//
//  1. CAS the target record from pending to accepted. The partial unique
//     index on (requester_id) WHERE status = 'accepted' is the commit-time
//     guard: if a racing accept already won for this requester, the update
//     fails with a unique violation regardless of what a stale precondition
//     read showed, and the caller observes ErrConflict.
//  2. Bulk-transition the requester's remaining pending records to
//     auto_cancelled with a single set-based conditional update.
//
// A reader can never observe accepted coexisting with a sibling still
// pending: both writes commit together or not at all.
func (db *DB) AcceptEngagement(ctx context.Context, id, targetID uuid.UUID) (model.EngagementRequest, int64, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.EngagementRequest{}, 0, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx,
		`UPDATE engagements SET status = 'accepted', responded_at = now()
		 WHERE id = $1 AND target_id = $2 AND status = 'pending'
		 RETURNING `+engagementColumns,
		id, targetID,
	)
	e, err := scanEngagement(row)
	if err != nil {
		if isUniqueViolation(err) {
			return model.EngagementRequest{}, 0, fmt.Errorf("storage: requester already holds an accepted engagement: %w", negotiation.ErrConflict)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EngagementRequest{}, 0, db.classifyEngagementMiss(ctx, id, targetID)
		}
		return model.EngagementRequest{}, 0, fmt.Errorf("storage: accept engagement: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE engagements SET status = 'auto_cancelled', responded_at = now()
		 WHERE requester_id = $1 AND status = 'pending' AND id <> $2`,
		e.RequesterID, e.ID,
	)
	if err != nil {
		return model.EngagementRequest{}, 0, fmt.Errorf("storage: auto-cancel siblings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return model.EngagementRequest{}, 0, fmt.Errorf("storage: requester already holds an accepted engagement: %w", negotiation.ErrConflict)
		}
		return model.EngagementRequest{}, 0, fmt.Errorf("storage: commit accept: %w", err)
	}
	return e, tag.RowsAffected(), nil
}

// classifyEngagementMiss explains a zero-row accept or reject: unknown
// record, wrong target, or a record no longer pending. An auto_cancelled
// record means a sibling accept already won for this requester, which is the
// exclusivity conflict, not a plain bad transition.
func (db *DB) classifyEngagementMiss(ctx context.Context, id, targetID uuid.UUID) error {
	e, err := db.GetEngagement(ctx, id)
	if err != nil {
		return err
	}
	if e.TargetID != targetID {
		return fmt.Errorf("storage: engagement %s targets another coordinator: %w", id, negotiation.ErrAuthorization)
	}
	if e.Status == model.EngagementAutoCancelled {
		return fmt.Errorf("storage: requester already committed to another engagement: %w", negotiation.ErrConflict)
	}
	return fmt.Errorf("storage: engagement %s is %s, not pending: %w", id, e.Status, negotiation.ErrInvalidTransition)
}

// RejectEngagement transitions a pending engagement to rejected.
func (db *DB) RejectEngagement(ctx context.Context, id, targetID uuid.UUID) (model.EngagementRequest, error) {
	row := db.pool.QueryRow(ctx,
		`UPDATE engagements SET status = 'rejected', responded_at = now()
		 WHERE id = $1 AND target_id = $2 AND status = 'pending'
		 RETURNING `+engagementColumns,
		id, targetID,
	)
	e, err := scanEngagement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EngagementRequest{}, db.classifyEngagementMiss(ctx, id, targetID)
		}
		return model.EngagementRequest{}, fmt.Errorf("storage: reject engagement: %w", err)
	}
	return e, nil
}

// ListEngagementsByRequester returns all of a requester's engagement
// requests, newest first.
func (db *DB) ListEngagementsByRequester(ctx context.Context, requesterID uuid.UUID) ([]model.EngagementRequest, error) {
	return db.listEngagements(ctx,
		`SELECT `+engagementColumns+` FROM engagements WHERE requester_id = $1 ORDER BY created_at DESC`,
		requesterID)
}

// ListEngagementsByTarget returns all engagement requests addressed to a
// coordinator, newest first.
func (db *DB) ListEngagementsByTarget(ctx context.Context, targetID uuid.UUID) ([]model.EngagementRequest, error) {
	return db.listEngagements(ctx,
		`SELECT `+engagementColumns+` FROM engagements WHERE target_id = $1 ORDER BY created_at DESC`,
		targetID)
}

func (db *DB) listEngagements(ctx context.Context, query string, arg any) ([]model.EngagementRequest, error) {
	rows, err := db.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("storage: list engagements: %w", err)
	}
	defer rows.Close()

	var engagements []model.EngagementRequest
	for rows.Next() {
		e, err := scanEngagement(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan engagement: %w", err)
		}
		engagements = append(engagements, e)
	}
	return engagements, rows.Err()
}

// RepairExclusivity retires pending engagements for any requester that also
// holds an accepted one. The accept path makes the two writes atomic, so this
// matches zero rows in normal operation; it exists so a read path that spots
// the invariant violated (e.g. after a partial write from an older version)
// can repair it with one idempotent set-based update.
func (db *DB) RepairExclusivity(ctx context.Context, requesterID uuid.UUID) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE engagements SET status = 'auto_cancelled', responded_at = now()
		 WHERE requester_id = $1 AND status = 'pending'
		   AND EXISTS (SELECT 1 FROM engagements a
		               WHERE a.requester_id = $1 AND a.status = 'accepted')`,
		requesterID,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: repair exclusivity: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEngagement(row pgx.Row) (model.EngagementRequest, error) {
	var e model.EngagementRequest
	var status string
	err := row.Scan(
		&e.ID, &e.RequesterID, &e.TargetID, &e.ContractDetails, &e.DurationDays,
		&e.GracePeriodDays, &status, &e.RespondedAt, &e.CreatedAt,
	)
	if err != nil {
		return model.EngagementRequest{}, err
	}
	e.Status = model.EngagementStatus(status)
	return e, nil
}
