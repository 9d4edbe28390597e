package storage

import (
	"context"
	"fmt"
)

// SweepExpiredContracts materializes the expired state for every expirable
// contract whose window has closed, as a single set-based conditional update.
// The sweep is idempotent and needs no cross-instance coordination: a row
// matches at most once, and a concurrent actor transition either wins the row
// first (the sweep no longer matches it) or loses its own status guard.
func (db *DB) SweepExpiredContracts(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE contracts
		 SET status = 'expired',
		     finalized_at = COALESCE(finalized_at, now()),
		     updated_at = now()
		 WHERE status IN ('invite', 'pending', 'counter_offer')
		   AND expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep expired contracts: %w", err)
	}
	return tag.RowsAffected(), nil
}
