package app

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"aiprocessor/internal/logger"
)

func TestWaitReady(t *testing.T) {
	tests := []struct {
		name      string
		readyAt   int32
		timeout   time.Duration
		want      bool
		minChecks int32
	}{
		{"ready immediately", 1, time.Second, true, 1},
		{"ready after retries", 3, time.Second, true, 3},
		{"never ready", 1 << 30, 50 * time.Millisecond, false, 1},
		{"gate disabled", 1 << 30, 0, true, 0},
	}

	for _, tt := range tests {
		var checks atomic.Int32
		health := func(context.Context) bool {
			return checks.Add(1) >= tt.readyAt
		}

		got := waitReady(context.Background(), health, tt.timeout, time.Millisecond, logger.Nop())
		if got != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, got)
		}
		if checks.Load() < tt.minChecks {
			t.Errorf("%s: expected at least %d checks, got %d", tt.name, tt.minChecks, checks.Load())
		}
		if tt.readyAt < 1<<30 && checks.Load() != tt.readyAt {
			t.Errorf("%s: expected to stop after %d checks, got %d", tt.name, tt.readyAt, checks.Load())
		}
	}
}

func TestWaitReady_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if waitReady(ctx, func(context.Context) bool { return false }, time.Minute, time.Second, logger.Nop()) {
		t.Error("Expected not ready on cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Cancelled wait took %s", time.Since(start))
	}
}
