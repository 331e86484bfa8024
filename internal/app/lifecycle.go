package app

import (
	"context"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"

	"aiprocessor/internal/logger"
)

type runFunc func(ctx context.Context) error

// runStaged runs primaries and services in one group. Primaries stop when ctx
// ends or any member fails; services keep running until every primary has
// returned, so outcomes emitted while workers wind down still reach them.
func runStaged(ctx context.Context, primaries, services []runFunc) error {
	serviceCtx, stopServices := context.WithCancel(context.WithoutCancel(ctx))
	defer stopServices()

	g, gctx := errgroup.WithContext(ctx)
	for _, service := range services {
		g.Go(func() error { return service(serviceCtx) })
	}

	primary, pctx := errgroup.WithContext(gctx)
	for _, run := range primaries {
		primary.Go(func() error { return run(pctx) })
	}
	g.Go(func() error {
		defer stopServices()
		return primary.Wait()
	})

	return g.Wait()
}

// serveStatus runs server until ctx ends. A listen failure is logged and
// does not stop processing.
func serveStatus(ctx context.Context, server *http.Server, log *logger.Logger) error {
	go func() {
		log.Info("Status server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Status server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

