package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotPruner drops cached snapshots older than a cutoff.
type SnapshotPruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// SnapshotPruneJob keeps the snapshot cache within its retention window.
type SnapshotPruneJob struct {
	pruner    SnapshotPruner
	retention time.Duration
	log       zerolog.Logger
}

// NewSnapshotPruneJob creates the prune job.
func NewSnapshotPruneJob(pruner SnapshotPruner, retention time.Duration, log zerolog.Logger) *SnapshotPruneJob {
	return &SnapshotPruneJob{
		pruner:    pruner,
		retention: retention,
		log:       log.With().Str("job", "snapshot_prune").Logger(),
	}
}

// Name implements Job.
func (j *SnapshotPruneJob) Name() string { return "snapshot_prune" }

// Run implements Job.
func (j *SnapshotPruneJob) Run(ctx context.Context) error {
	pruned, err := j.pruner.Prune(ctx, time.Now().Add(-j.retention))
	if err != nil {
		return err
	}
	if pruned > 0 {
		j.log.Info().Int64("pruned", pruned).Msg("Snapshot cache pruned")
	}
	return nil
}
