package storage

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/config"
	"aiprocessor/internal/logger"
)

func newTestStore(t *testing.T, limit int, clock clockwork.Clock) (*SnapshotStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "snapshots")
	store := NewSnapshotStore(&config.Config{
		ImageDirectory:           dir,
		ImageBufferLimit:         limit,
		ImageBufferFlushInterval: 10 * time.Second,
	}, clock, logger.Nop())
	return store, dir
}

var detectedAt = time.Date(2024, 5, 1, 12, 30, 15, 250000000, time.UTC)

func TestSnapshotStore_AddAndFlush(t *testing.T) {
	store, dir := newTestStore(t, 5, nil)

	name, err := store.AddSnapshot(1, "XYZ9876", detectedAt, image.NewRGBA(image.Rect(0, 0, 40, 20)))
	if err != nil {
		t.Fatalf("AddSnapshot failed: %v", err)
	}
	if name != "2024-05-01_12-30-15.250_cam1_XYZ9876.jpg" {
		t.Errorf("Unexpected file name %s", name)
	}
	if store.Pending() != 1 {
		t.Errorf("Expected 1 pending, got %d", store.Pending())
	}

	if written := store.FlushSnapshots(); written != 1 {
		t.Errorf("Expected 1 written, got %d", written)
	}
	if store.Pending() != 0 {
		t.Error("Buffer should be empty after flush")
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Snapshot not written: %v", err)
	}
	// JPEG SOI marker
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Error("Snapshot is not a JPEG")
	}
}

func TestSnapshotStore_BufferLimit(t *testing.T) {
	store, _ := newTestStore(t, 2, nil)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	for i := 0; i < 2; i++ {
		if _, err := store.AddSnapshot(1, "ABC1234", detectedAt.Add(time.Duration(i)*time.Second), img); err != nil {
			t.Fatalf("AddSnapshot %d failed: %v", i, err)
		}
	}
	if _, err := store.AddSnapshot(1, "ABC1234", detectedAt, img); !errors.Is(err, ErrBufferFull) {
		t.Errorf("Expected ErrBufferFull, got %v", err)
	}
}

func TestSnapshotStore_FlushEmpty(t *testing.T) {
	store, dir := newTestStore(t, 2, nil)
	if written := store.FlushSnapshots(); written != 0 {
		t.Errorf("Expected nothing written, got %d", written)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("Directory should not be created for an empty flush")
	}
}

func TestSnapshotStore_RunFlushesOnTickAndShutdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store, dir := newTestStore(t, 10, clock)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Run(ctx) }()

	store.AddSnapshot(1, "AAA1111", detectedAt, img)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for store.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Tick did not flush")
		}
		time.Sleep(time.Millisecond)
	}

	store.AddSnapshot(2, "BBB2222", detectedAt, img)
	cancel()
	<-done

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 snapshots on disk, got %d", len(entries))
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".jpg") {
			t.Errorf("Unexpected file %s", entry.Name())
		}
	}
}
