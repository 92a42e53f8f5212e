package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPauseGateStartsOpen(t *testing.T) {
	g := newPauseGate()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, g.wait(ctx))
}

func TestPauseGateBlocksUntilResume(t *testing.T) {
	g := newPauseGate()
	g.pause()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- g.wait(ctx) }()

	select {
	case <-done:
		t.Fatal("wait returned before resume")
	case <-time.After(100 * time.Millisecond):
	}

	g.resume()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait never returned after resume")
	}
}

func TestPauseGateWaitReturnsContextError(t *testing.T) {
	g := newPauseGate()
	g.pause()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := g.wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
