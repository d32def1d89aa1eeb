package scheduler

import (
	"context"

	"github.com/rs/zerolog"
)

// BackupRunner produces and uploads one backup archive.
type BackupRunner interface {
	RunBackup(ctx context.Context) error
}

// BackupJob uploads a nightly archive of the databases to object storage.
type BackupJob struct {
	runner BackupRunner
	log    zerolog.Logger
}

// NewBackupJob creates the backup job.
func NewBackupJob(runner BackupRunner, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		runner: runner,
		log:    log.With().Str("job", "backup").Logger(),
	}
}

// Name implements Job.
func (j *BackupJob) Name() string { return "backup" }

// Run implements Job.
func (j *BackupJob) Run(ctx context.Context) error {
	return j.runner.RunBackup(ctx)
}
