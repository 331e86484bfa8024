package repository

import (
	"time"

	"aiprocessor/internal/models"
)

// SightingRepository stores the local journal of dispatch outcomes.
type SightingRepository interface {
	// Create operations
	Insert(rec *models.SightingRecord) (int64, error)

	// Read operations
	Recent(limit int) ([]models.SightingRecord, error)
	CountByStatus(since time.Time) (map[models.SightingStatus]int, error)

	// Delete operations
	DeleteBefore(cutoff time.Time) (int64, error)
}
