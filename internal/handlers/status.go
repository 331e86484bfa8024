package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"aiprocessor/internal/models"
	"aiprocessor/internal/services/dispatch"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500
	defaultStatsWindow = 24 * time.Hour
)

// WorkerLister exposes the reconciler's view of running workers.
type WorkerLister interface {
	Workers() []models.WorkerState
	Leaked() int
}

// SightingReader is the read side of the sighting journal.
type SightingReader interface {
	Recent(limit int) ([]models.SightingRecord, error)
	CountByStatus(since time.Time) (map[models.SightingStatus]int, error)
}

// DropCounter reports outcomes an observer discarded because it fell behind.
type DropCounter interface {
	Dropped() uint64
}

// DispatchCounter reports totals since process start.
type DispatchCounter interface {
	Stats() dispatch.Stats
}

// HealthHandler reports worker counts and, per observer name, how many
// outcomes it dropped.
func HealthHandler(workers WorkerLister, drops map[string]DropCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		dropped := make(map[string]uint64, len(drops))
		for name, counter := range drops {
			dropped[name] = counter.Dropped()
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"workers": len(workers.Workers()),
			"leaked":  workers.Leaked(),
			"dropped": dropped,
		})
	}
}

func WorkersHandler(workers WorkerLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"workers": workers.Workers(),
			"leaked":  workers.Leaked(),
		})
	}
}

// RecentSightingsHandler serves the newest journal rows. limit defaults to 50
// and is capped at 500.
func RecentSightingsHandler(sightings SightingReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := defaultRecentLimit
		if raw := c.Query("limit"); raw != "" {
			value, err := strconv.Atoi(raw)
			if err != nil || value <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(value, maxRecentLimit)
		}

		records, err := sightings.Recent(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if records == nil {
			records = []models.SightingRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"sightings": records, "count": len(records)})
	}
}

// SightingStatsHandler counts journal rows per status over window (a Go
// duration, default 24h) next to the in-memory dispatch totals.
func SightingStatsHandler(sightings SightingReader, counter DispatchCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		window := defaultStatsWindow
		if raw := c.Query("window"); raw != "" {
			value, err := time.ParseDuration(raw)
			if err != nil || value <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration"})
				return
			}
			window = value
		}

		counts, err := sightings.CountByStatus(time.Now().Add(-window))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		totals := counter.Stats()
		c.JSON(http.StatusOK, gin.H{
			"window": window.String(),
			"journal": gin.H{
				"delivered":  counts[models.SightingDelivered],
				"dropped":    counts[models.SightingDropped],
				"suppressed": counts[models.SightingSuppressed],
			},
			"process": gin.H{
				"delivered":  totals.Delivered,
				"dropped":    totals.Dropped,
				"suppressed": totals.Suppressed,
			},
		})
	}
}
