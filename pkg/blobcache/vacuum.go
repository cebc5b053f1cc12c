package blobcache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunVacuum calls store.Vacuum every interval until ctx is done. Failures are
// logged and the loop carries on.
func RunVacuum(ctx context.Context, store BlobStore, interval time.Duration, logger zerolog.Logger) {
	logger = logger.With().Str("component", "Vacuum").Logger()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Vacuum loop started.")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Vacuum loop stopped.")
			return
		case <-ticker.C:
			if err := store.Vacuum(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("Vacuum failed.")
			}
		}
	}
}
