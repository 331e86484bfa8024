package app

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"aiprocessor/internal/logger"
)

var errNotReady = errors.New("backend not ready")

// WaitReady polls health until it reports true, timeout elapses or ctx ends.
// It never fails startup: on timeout it logs and returns false.
func WaitReady(ctx context.Context, health func(context.Context) bool, timeout time.Duration, log *logger.Logger) bool {
	return waitReady(ctx, health, timeout, time.Second, log)
}

func waitReady(ctx context.Context, health func(context.Context) bool, timeout, initial time.Duration, log *logger.Logger) bool {
	if timeout <= 0 {
		return true
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = 10 * initial
	policy.MaxElapsedTime = timeout

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if health(ctx) {
			return nil
		}
		return errNotReady
	}, backoff.WithContext(policy, ctx))

	if err != nil {
		if ctx.Err() == nil {
			log.Warning("Backend not ready after %s (%d checks), starting anyway", timeout, attempts)
		}
		return false
	}
	log.Info("Backend ready after %d checks", attempts)
	return true
}
