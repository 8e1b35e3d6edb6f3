package tasks

import (
	"context"
	"log"
	"time"

	"backoffice/models"

	"gorm.io/gorm"
)

// CleanupAppliedContributions purges applied outbox rows older than retention.
func CleanupAppliedContributions(ctx context.Context, db *gorm.DB, retention time.Duration) int64 {
	cutoff := time.Now().UTC().Add(-retention)
	result := db.WithContext(ctx).Unscoped().
		Where("done = ? AND updated_at < ?", true, cutoff).
		Delete(&models.PendingContribution{})

	if result.Error != nil {
		log.Println("❌ Failed to delete applied contributions:", result.Error)
		return 0
	}
	if result.RowsAffected > 0 {
		log.Printf("✅ Deleted %d applied contributions older than %v\n", result.RowsAffected, retention)
	}
	return result.RowsAffected
}
