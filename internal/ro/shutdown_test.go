package ro

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/samber/ro"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownSignals(t *testing.T) {
	assert.ElementsMatch(t, []os.Signal{syscall.SIGINT, syscall.SIGTERM}, ShutdownSignals)
}

// TestGracefulShutdownEmitsOnSignal raises SIGUSR1 at the test process
// and expects the observable to emit it and complete. Subscribe runs the
// setup synchronously, so the handler is registered before the raise.
func TestGracefulShutdownEmitsOnSignal(t *testing.T) {
	// Suppress SIGUSR1's default termination for the whole test, whatever
	// order registration and delivery land in.
	safety := make(chan os.Signal, 1)
	signal.Notify(safety, syscall.SIGUSR1)
	defer signal.Stop(safety)

	emitted := make(chan os.Signal, 1)
	completed := make(chan struct{})

	GracefulShutdownWithSignals(syscall.SIGUSR1).Subscribe(ro.NewObserver(
		func(sig os.Signal) { emitted <- sig },
		func(err error) { t.Errorf("unexpected stream error: %v", err) },
		func() { close(completed) },
	))

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case sig := <-emitted:
		assert.Equal(t, syscall.SIGUSR1, sig)
	case <-time.After(3 * time.Second):
		t.Fatal("signal was not observed")
	}

	select {
	case <-completed:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not complete after the signal")
	}
}

func TestWaitForShutdownCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	var sig os.Signal
	var err error
	go func() {
		defer close(done)
		sig, err = WaitForShutdown(ctx)
	}()

	select {
	case <-done:
		require.Error(t, err)
		assert.Nil(t, sig)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForShutdown did not return on canceled context")
	}
}
