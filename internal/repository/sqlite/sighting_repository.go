package sqlite

import (
	"fmt"
	"time"

	"aiprocessor/internal/models"
)

// SightingRepository implements repository.SightingRepository for SQLite.
type SightingRepository struct {
	db *DB
}

// NewSightingRepository creates a new SQLite sighting repository.
func NewSightingRepository(db *DB) *SightingRepository {
	return &SightingRepository{db: db}
}

// Insert adds a journal row. A zero RecordedAt is set to now.
func (r *SightingRepository) Insert(rec *models.SightingRecord) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	result, err := r.db.Conn().Exec(`
		INSERT INTO sightings (camera_id, plate_text, confidence, detected_at, image_ref, status, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.CameraID, rec.PlateText, rec.Confidence, rec.DetectedAt.UTC(), rec.ImageRef, string(rec.Status), rec.Error, recordedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert sighting: %w", err)
	}

	return result.LastInsertId()
}

// Recent returns the newest rows first.
func (r *SightingRepository) Recent(limit int) ([]models.SightingRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, camera_id, plate_text, confidence, detected_at, image_ref, status, error, recorded_at
		FROM sightings ORDER BY recorded_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sightings: %w", err)
	}
	defer rows.Close()

	records := make([]models.SightingRecord, 0, limit)
	for rows.Next() {
		var rec models.SightingRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.CameraID, &rec.PlateText, &rec.Confidence, &rec.DetectedAt,
			&rec.ImageRef, &status, &rec.Error, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sighting: %w", err)
		}
		rec.Status = models.SightingStatus(status)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// CountByStatus counts rows recorded at or after since, per status.
func (r *SightingRepository) CountByStatus(since time.Time) (map[models.SightingStatus]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT status, COUNT(*) FROM sightings WHERE recorded_at >= ? GROUP BY status
	`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count sightings: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SightingStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.SightingStatus(status)] = count
	}

	return counts, rows.Err()
}

// DeleteBefore removes rows recorded before cutoff and returns how many.
func (r *SightingRepository) DeleteBefore(cutoff time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`DELETE FROM sightings WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete sightings: %w", err)
	}

	return result.RowsAffected()
}
