package cron

import (
	"context"
	"time"

	"agentcore/pkg/logger"
)

// PruneJobName is the name serve registers the tombstone sweep under.
const PruneJobName = "prune-checkpoints"

// Pruner deletes tombstoned checkpoints. *storage.DB implements it.
type Pruner interface {
	PruneTombstones(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PruneJob sweeps checkpoints tombstoned more than olderThan ago.
func PruneJob(p Pruner, olderThan time.Duration) JobFunc {
	return func(ctx context.Context) error {
		n, err := p.PruneTombstones(ctx, olderThan)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("Pruned checkpoints")
		}
		return nil
	}
}
