// Package ro carries tokengate's reactive lifecycle helpers built on
// samber/ro observables.
package ro

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/ro"
)

// ShutdownSignals are the signals that stop a running gateway.
var ShutdownSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
}

// GracefulShutdown emits the first shutdown signal the process receives,
// then completes. Each subscription registers its own handler and the
// teardown releases it, so abandoned subscriptions do not leak handlers.
func GracefulShutdown() ro.Observable[os.Signal] {
	return GracefulShutdownWithSignals(ShutdownSignals...)
}

// GracefulShutdownWithSignals is GracefulShutdown for a caller-chosen
// signal set.
func GracefulShutdownWithSignals(signals ...os.Signal) ro.Observable[os.Signal] {
	return ro.NewObservableWithContext(func(ctx context.Context, observer ro.Observer[os.Signal]) ro.Teardown {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, signals...)

		go func() {
			select {
			case sig := <-ch:
				observer.NextWithContext(ctx, sig)
				observer.CompleteWithContext(ctx)
			case <-ctx.Done():
				observer.ErrorWithContext(ctx, ctx.Err())
			}
		}()

		return func() {
			signal.Stop(ch)
		}
	})
}

// WaitForShutdown blocks until a shutdown signal arrives or ctx is
// canceled. The serve loop calls this between starting the server and
// draining it.
//
//	sig, err := ro.WaitForShutdown(ctx)
//	if err != nil {
//	    return err
//	}
//	log.Info().Str("signal", sig.String()).Msg("draining")
func WaitForShutdown(ctx context.Context) (os.Signal, error) {
	results, _, err := ro.CollectWithContext(ctx, GracefulShutdown())
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ctx.Err()
	}
	return results[0], nil
}
