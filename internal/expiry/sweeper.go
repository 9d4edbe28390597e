// Package expiry runs the periodic expiration sweep for negotiation
// contracts. The sweep and the lazy read-path materialization converge to the
// same observable state: both apply the engine's expiry decision through the
// storage layer's conditional updates, so neither can race an in-flight actor
// transition.
package expiry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/agrilink-io/agrilink/internal/storage"
	"github.com/agrilink-io/agrilink/internal/telemetry"
)

// Sweeper periodically materializes the expired state for stale contracts.
type Sweeper struct {
	db       *storage.DB
	logger   *slog.Logger
	interval time.Duration

	expired metric.Int64Counter
}

// New creates a Sweeper. interval controls how often the sweep runs; the
// sweep itself is a single idempotent set-based update, so overlapping runs
// across service instances need no coordination.
func New(db *storage.DB, logger *slog.Logger, interval time.Duration) *Sweeper {
	meter := telemetry.Meter("agrilink/expiry")
	expired, _ := meter.Int64Counter("agrilink.contract.swept_expired",
		metric.WithDescription("Contracts materialized as expired by the sweep"),
	)
	return &Sweeper{db: db, logger: logger, interval: interval, expired: expired}
}

// Run sweeps on a ticker until ctx is cancelled. Errors are logged and the
// loop continues; the next tick retries.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.db.SweepExpiredContracts(ctx)
			if err != nil {
				s.logger.Warn("expiration sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.expired.Add(ctx, n)
				s.logger.Info("expiration sweep complete", "expired", n)
			}
		}
	}
}
