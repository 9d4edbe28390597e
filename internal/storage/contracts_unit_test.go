package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrilink-io/agrilink/internal/model"
)

func TestBuildContractWhereClause_Empty(t *testing.T) {
	where, args := buildContractWhereClause(ContractFilters{}, 1)
	assert.Empty(t, where)
	assert.Empty(t, args)
}

func TestBuildContractWhereClause_PartyMatchesEitherSide(t *testing.T) {
	partyID := uuid.New()
	where, args := buildContractWhereClause(ContractFilters{PartyID: &partyID}, 1)

	assert.Contains(t, where, "(coordinator_id = $1 OR factory_id = $1)")
	require.Len(t, args, 1)
	assert.Equal(t, partyID, args[0])
}

func TestBuildContractWhereClause_AllFilters(t *testing.T) {
	partyID := uuid.New()
	status := model.StatusPending
	prio := 3
	cutoff := time.Now()

	where, args := buildContractWhereClause(ContractFilters{
		PartyID:       &partyID,
		Status:        &status,
		PriorityMin:   &prio,
		ExpiresBefore: &cutoff,
	}, 1)

	require.Len(t, args, 4)
	assert.Contains(t, where, "(coordinator_id = $1 OR factory_id = $1)")
	assert.Contains(t, where, "status = $2")
	assert.Contains(t, where, "priority >= $3")
	assert.Contains(t, where, "expires_at < $4")
	assert.Equal(t, "pending", args[1])
}

func TestBuildContractWhereClause_ArgIndexing(t *testing.T) {
	// startArgIdx=3 shifts all parameter indices.
	status := model.StatusAccepted
	where, args := buildContractWhereClause(ContractFilters{Status: &status}, 3)

	assert.Contains(t, where, "status = $3")
	require.Len(t, args, 1)
}
