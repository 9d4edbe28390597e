package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agrilink-io/agrilink/internal/model"
)

// GetContractStats computes committed-state aggregates for a party's
// dashboard: counts by status, total accepted value, and average response
// time. Reads only committed rows, so a partially applied exclusivity or
// expiration operation can never leak into the numbers.
func (db *DB) GetContractStats(ctx context.Context, partyID uuid.UUID) (model.ContractStats, error) {
	stats := model.ContractStats{ByStatus: make(map[model.ContractStatus]int)}

	rows, err := db.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM contracts
		 WHERE coordinator_id = $1 OR factory_id = $1
		 GROUP BY status`, partyID)
	if err != nil {
		return model.ContractStats{}, fmt.Errorf("storage: contract stats by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.ContractStats{}, fmt.Errorf("storage: scan status count: %w", err)
		}
		stats.ByStatus[model.ContractStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return model.ContractStats{}, err
	}

	err = db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(contract_value), 0),
		        AVG(EXTRACT(EPOCH FROM (responded_at - created_at)) / 3600)
		 FROM contracts
		 WHERE (coordinator_id = $1 OR factory_id = $1)
		   AND status IN ('accepted', 'completed')`, partyID,
	).Scan(&stats.TotalValueAccepted, &stats.AvgResponseTimeHours)
	if err != nil {
		return model.ContractStats{}, fmt.Errorf("storage: contract stats aggregates: %w", err)
	}

	return stats, nil
}
