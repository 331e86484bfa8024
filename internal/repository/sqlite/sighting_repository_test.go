package sqlite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"aiprocessor/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "sightings.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "nested", "journal.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
}

func TestSightingRepository_InsertAndRecent(t *testing.T) {
	repo := NewSightingRepository(newTestDB(t))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	records := []models.SightingRecord{
		{CameraID: 1, PlateText: "AAA1111", Confidence: 0.7, DetectedAt: base, Status: models.SightingDelivered, RecordedAt: base},
		{CameraID: 2, PlateText: "BBB2222", Confidence: 0.8, DetectedAt: base, Status: models.SightingDropped, Error: "timeout", RecordedAt: base.Add(time.Second)},
		{CameraID: 1, PlateText: "CCC3333", Confidence: 0.9, DetectedAt: base, Status: models.SightingSuppressed, ImageRef: "snap.jpg", RecordedAt: base.Add(2 * time.Second)},
	}
	for i := range records {
		id, err := repo.Insert(&records[i])
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if id <= 0 {
			t.Errorf("Expected positive id, got %d", id)
		}
	}

	recent, err := repo.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recent))
	}
	if recent[0].PlateText != "CCC3333" || recent[1].PlateText != "BBB2222" {
		t.Errorf("Expected newest first, got %s, %s", recent[0].PlateText, recent[1].PlateText)
	}
	if recent[0].ImageRef != "snap.jpg" || recent[0].Status != models.SightingSuppressed {
		t.Errorf("Unexpected record %+v", recent[0])
	}
	if recent[1].Error != "timeout" {
		t.Errorf("Expected error text, got %q", recent[1].Error)
	}
	if !recent[1].RecordedAt.Equal(base.Add(time.Second)) {
		t.Errorf("Unexpected recorded_at %v", recent[1].RecordedAt)
	}
}

func TestSightingRepository_CountByStatus(t *testing.T) {
	repo := NewSightingRepository(newTestDB(t))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	statuses := []models.SightingStatus{
		models.SightingDelivered, models.SightingDelivered, models.SightingDropped, models.SightingSuppressed,
	}
	for i, status := range statuses {
		repo.Insert(&models.SightingRecord{CameraID: 1, PlateText: "ABC1234", DetectedAt: base, Status: status, RecordedAt: base.Add(time.Duration(i) * time.Minute)})
	}

	counts, err := repo.CountByStatus(base.Add(time.Minute))
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[models.SightingDelivered] != 1 || counts[models.SightingDropped] != 1 || counts[models.SightingSuppressed] != 1 {
		t.Errorf("Unexpected counts %v", counts)
	}
}

func TestSightingRepository_DeleteBefore(t *testing.T) {
	repo := NewSightingRepository(newTestDB(t))
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		repo.Insert(&models.SightingRecord{CameraID: 1, PlateText: "ABC1234", DetectedAt: base, Status: models.SightingDelivered, RecordedAt: base.Add(time.Duration(i) * time.Hour)})
	}

	deleted, err := repo.DeleteBefore(base.Add(3 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted, got %d", deleted)
	}

	recent, _ := repo.Recent(10)
	if len(recent) != 2 {
		t.Errorf("Expected 2 remaining, got %d", len(recent))
	}
}
