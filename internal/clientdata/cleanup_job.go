package clientdata

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob removes cache entries that are too old to serve even as a stale fallback.
// It should be scheduled to run daily.
type CleanupJob struct {
	repo     *Repository
	maxStale time.Duration
	log      zerolog.Logger
}

// NewCleanupJob creates a new price cache cleanup job.
func NewCleanupJob(repo *Repository, maxStale time.Duration, log zerolog.Logger) *CleanupJob {
	if maxStale < 0 {
		maxStale = 0
	}
	return &CleanupJob{
		repo:     repo,
		maxStale: maxStale,
		log:      log.With().Str("job", "price_cache_cleanup").Logger(),
	}
}

// Run removes every row past expires_at + max stale.
func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	deleted, err := j.repo.DeleteExpired(ctx, j.maxStale)
	if err != nil {
		j.log.Error().Err(err).Msg("Failed to delete expired price cache entries")
		return err
	}

	if deleted > 0 {
		j.log.Info().
			Str("table", TablePriceHistory).
			Int64("deleted", deleted).
			Msg("Cleaned up expired cache entries")
	}

	return nil
}

// Name returns the job name for scheduling and logging.
func (j *CleanupJob) Name() string {
	return "price_cache_cleanup"
}
