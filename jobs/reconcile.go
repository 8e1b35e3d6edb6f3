package jobs

import (
	"context"
	"log"
	"time"

	"backoffice/services"
	tasks "backoffice/task"

	"gorm.io/gorm"
)

const (
	contributionBatch       = 100
	contributionMaxAttempts = 10
	contributionRetention   = 7 * 24 * time.Hour
)

// StartScheduler runs the maintenance tickers until ctx is done.
func StartScheduler(ctx context.Context, db *gorm.DB, prize *services.PrizePoolService, redemption *services.RedemptionService, interval time.Duration) {
	every(ctx, interval, func() {
		applied, err := prize.RetryPendingContributions(ctx, contributionBatch, contributionMaxAttempts)
		if err != nil {
			log.Printf("❌ error retrying prize contributions: %v", err)
			return
		}
		if applied > 0 {
			log.Printf("✅ applied %d queued prize contributions", applied)
		}
	})

	every(ctx, interval, func() {
		n, err := redemption.DeactivateExpired(ctx, time.Now())
		if err != nil {
			log.Printf("❌ error deactivating expired gift codes: %v", err)
			return
		}
		if n > 0 {
			log.Printf("✅ deactivated %d expired gift codes", n)
		}
	})

	every(ctx, time.Hour, func() {
		tasks.CleanupAppliedContributions(ctx, db, contributionRetention)
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}
