package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/rs/zerolog"
)

// walFrameThreshold is the WAL size, in frames, above which the log is truncated
const walFrameThreshold = 1000

// DatabaseMaintenanceJob checks integrity of every database and truncates large WAL files
type DatabaseMaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewDatabaseMaintenanceJob creates a new DatabaseMaintenanceJob. Nil databases are skipped.
func NewDatabaseMaintenanceJob(log zerolog.Logger, databases ...*database.DB) *DatabaseMaintenanceJob {
	return &DatabaseMaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *DatabaseMaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run executes the database maintenance job.
// A failed integrity check fails the job; WAL problems are only logged.
func (j *DatabaseMaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var errs []error
	checked := 0
	for _, db := range j.databases {
		if db == nil {
			continue
		}

		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			errs = append(errs, err)
			continue
		}

		// PRAGMA wal_checkpoint returns: busy, log, checkpointed
		var busy, frames, checkpointed int
		err := db.Conn().QueryRowContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)").Scan(&busy, &frames, &checkpointed)
		if err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to check WAL checkpoint")
		} else if frames > walFrameThreshold {
			j.log.Warn().
				Str("database", db.Name()).
				Int("wal_frames", frames).
				Int("checkpointed", checkpointed).
				Msg("WAL file is large, truncating")
			if err := db.WALCheckpoint("TRUNCATE"); err != nil {
				j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL truncate failed")
			}
		}

		checked++
	}

	j.log.Info().Int("checked", checked).Int("failed", len(errs)).Msg("Database maintenance completed")
	return errors.Join(errs...)
}
