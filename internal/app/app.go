package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"aiprocessor/internal/backend"
	"aiprocessor/internal/config"
	"aiprocessor/internal/handlers"
	"aiprocessor/internal/logger"
	"aiprocessor/internal/messaging/kafka"
	"aiprocessor/internal/models"
	"aiprocessor/internal/repository/sqlite"
	"aiprocessor/internal/routes"
	"aiprocessor/internal/services/ai"
	"aiprocessor/internal/services/ai/opencv"
	"aiprocessor/internal/services/ai/tesseract"
	"aiprocessor/internal/services/capture"
	capturecv "aiprocessor/internal/services/capture/opencv"
	"aiprocessor/internal/services/capture/rtsp"
	"aiprocessor/internal/services/dispatch"
	"aiprocessor/internal/services/fleet"
	"aiprocessor/internal/services/journal"
	"aiprocessor/internal/services/storage"
	"aiprocessor/internal/services/stream"
	"aiprocessor/internal/services/websocket"
)

const (
	captureJitter   = 0.1
	hubBufferSize   = 64
	journalQueue    = 256
	publishQueue    = 256
	shutdownTimeout = 5 * time.Second
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	clock      clockwork.Clock
	backend    *backend.Client
	pool       *ai.Pool
	opener     capture.Opener
	dispatcher *dispatch.Dispatcher
	hub        *websocket.HubService
	snapshots  *storage.SnapshotStore
	db         *sqlite.DB
	journal    *journal.Journal
	repo       *sqlite.SightingRepository
	publisher  *kafka.SightingPublisher
	commands   *kafka.CommandConsumer
	reconciler *fleet.Reconciler
}

// New wires every service. Model files and the journal database are opened
// here, so a missing model fails startup.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{
		config:  cfg,
		logger:  log,
		clock:   clockwork.NewRealClock(),
		backend: backend.NewClient(cfg),
	}

	pool, err := newDetectorPool(cfg, log)
	if err != nil {
		return nil, err
	}
	a.pool = pool

	a.opener = rtsp.NewProbingOpener(capturecv.Opener{}, cfg.RTSPProbeTimeout, log)

	a.dispatcher = dispatch.NewDispatcher(a.backend, dispatch.Options{
		Timeout:     cfg.DispatchTimeout,
		DedupWindow: cfg.DedupWindow,
		Clock:       a.clock,
	}, log)

	a.hub = websocket.NewHubService(hubBufferSize, log)
	a.dispatcher.AddObserver(a.hub)

	if cfg.JournalPath != "" {
		db, err := sqlite.New(cfg.JournalPath)
		if err != nil {
			a.pool.Close()
			return nil, fmt.Errorf("failed to open sighting journal: %w", err)
		}
		a.db = db
		a.repo = sqlite.NewSightingRepository(db)
		a.journal = journal.New(a.repo, cfg.JournalRetention, journalQueue, a.clock, log)
		a.dispatcher.AddObserver(a.journal)
	}

	if cfg.ImageDirectory != "" {
		a.snapshots = storage.NewSnapshotStore(cfg, a.clock, log)
	}

	a.reconciler = fleet.NewReconciler(a.backend, a.newWorker, fleet.Options{
		PollInterval: cfg.PollInterval,
		StopGrace:    cfg.StopGrace,
		Clock:        a.clock,
	}, log)

	if cfg.KafkaEnabled() {
		a.publisher = kafka.NewSightingPublisher(cfg.KafkaBrokers, cfg.SightingsTopic, publishQueue, log)
		a.dispatcher.AddObserver(a.publisher)
		a.commands = kafka.NewCommandConsumer(cfg.KafkaBrokers, cfg.CameraCommandsTopic, cfg.KafkaGroupID, a.reconciler, log)
	}

	return a, nil
}

func newDetectorPool(cfg *config.Config, log *logger.Logger) (*ai.Pool, error) {
	pipelines := make([]*ai.Pipeline, 0, cfg.ProcessingWorkers)
	closeAll := func() {
		for _, p := range pipelines {
			p.Close()
		}
	}

	for i := 0; i < cfg.ProcessingWorkers; i++ {
		localizer, err := opencv.NewLocalizer(cfg.ModelPath, cfg.ConfigPath, cfg.PlateClassID, log)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("failed to load plate model: %w", err)
		}
		recognizer, err := tesseract.NewRecognizer(cfg.OCRLanguage)
		if err != nil {
			localizer.Close()
			closeAll()
			return nil, fmt.Errorf("failed to start OCR: %w", err)
		}
		pipelines = append(pipelines, ai.NewPipeline(localizer, recognizer, cfg.DetectionThreshold, log))
	}

	detectors := make([]ai.Detector, len(pipelines))
	for i, p := range pipelines {
		detectors[i] = p
	}
	log.Info("Loaded %d detection pipelines", len(detectors))
	return ai.NewPool(detectors...)
}

// newWorker is the reconciler's factory: one capture loop and one stream
// worker per camera, sharing the detector pool and the dispatcher.
func (a *App) newWorker(camera models.Camera) (fleet.Runner, error) {
	if camera.SourceURI == "" {
		return nil, fmt.Errorf("camera %d has no source URI", camera.ID)
	}

	log := a.logger.With("camera_id", camera.ID)
	loop := capture.NewLoop(camera, a.opener, capture.Options{
		BackoffInitial:    a.config.BackoffInitial,
		BackoffMax:        a.config.BackoffMax,
		BackoffMultiplier: a.config.BackoffMultiplier,
		Jitter:            captureJitter,
		Clock:             a.clock,
	}, log)

	opts := stream.Options{FrameInterval: a.config.FrameInterval, Clock: a.clock}
	if a.snapshots != nil {
		opts.Snapshots = a.snapshots
	}
	return stream.NewWorker(camera, loop, a.pool, a.dispatcher, opts, log), nil
}

// Run blocks until ctx is cancelled or a service fails, then stops every
// worker and releases resources.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	WaitReady(ctx, a.backend.Health, a.config.ReadinessTimeout, a.logger)
	if ctx.Err() != nil {
		return nil
	}

	// Observers drain after the reconciler so outcomes from stopping workers
	// are still recorded.
	services := []runFunc{a.hub.Run}
	if a.journal != nil {
		services = append(services, a.journal.Run)
	}
	if a.snapshots != nil {
		services = append(services, a.snapshots.Run)
	}
	if a.publisher != nil {
		services = append(services, a.publisher.Run)
	}

	primaries := []runFunc{a.reconciler.Run}
	if a.commands != nil {
		primaries = append(primaries, a.commands.Run)
	}
	if a.config.StatusAddr != "" {
		server := &http.Server{
			Addr:              a.config.StatusAddr,
			Handler:           routes.SetupRoutes(ctx, a.routeDependencies(), a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		primaries = append(primaries, func(ctx context.Context) error {
			return serveStatus(ctx, server, a.logger)
		})
	}

	a.logger.Info("AI processor started (backend %s, %d detection pipelines)", a.config.BackendURL, a.pool.Size())
	err := runStaged(ctx, primaries, services)

	stats := a.dispatcher.Stats()
	a.logger.Info("AI processor stopped: %d delivered, %d dropped, %d suppressed, %d workers leaked",
		stats.Delivered, stats.Dropped, stats.Suppressed, a.reconciler.Leaked())
	return err
}

func (a *App) routeDependencies() routes.Dependencies {
	deps := routes.Dependencies{
		Workers: a.reconciler,
		Counter: a.dispatcher,
		Hub:     a.hub,
		LogDir:  a.logger.LogDirectory(),
		Drops:   map[string]handlers.DropCounter{"hub": a.hub},
	}
	if a.repo != nil {
		deps.Sightings = a.repo
		deps.Drops["journal"] = a.journal
	}
	if a.publisher != nil {
		deps.Drops["kafka"] = a.publisher
	}
	return deps
}

func (a *App) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warning("Failed to close sighting publisher: %v", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warning("Failed to close sighting journal: %v", err)
		}
	}
	if err := a.pool.Close(); err != nil {
		a.logger.Warning("Failed to release detection pipelines: %v", err)
	}
}
