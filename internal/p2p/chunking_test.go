package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNominalChunkSizeClamps(t *testing.T) {
	require.Equal(t, minChunkSize, nominalChunkSize(1000))
	require.Equal(t, minChunkSize, nominalChunkSize(0))
	require.Equal(t, maxChunkSize, nominalChunkSize(1_000_000_000))
	require.Equal(t, 100_000, nominalChunkSize(100_000_000))
}

// fakeDataChannel is an in-memory stand-in for *pion.DataChannel
// satisfying the dataChannel interface.
type fakeDataChannel struct {
	mu         sync.Mutex
	buffered   uint64
	threshold  uint64
	onLowFuncs []func()
	sent       [][]byte
}

func (f *fakeDataChannel) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeDataChannel) BufferedAmount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buffered
}

func (f *fakeDataChannel) SetBufferedAmountLowThreshold(threshold uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threshold = threshold
}

func (f *fakeDataChannel) OnBufferedAmountLow(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLowFuncs = append(f.onLowFuncs, fn)
}

func (f *fakeDataChannel) setBuffered(n uint64) {
	f.mu.Lock()
	f.buffered = n
	f.mu.Unlock()
}

func TestChunkPumpGrowsWhenBufferStaysLow(t *testing.T) {
	dc := &fakeDataChannel{}
	gate := newPauseGate()
	pump := newChunkPump(dc, 100_000_000, gate) // nominal = 100_000

	start := pump.chunkSize()
	require.NoError(t, pump.send(context.Background(), make([]byte, 10)))
	require.Greater(t, pump.chunkSize(), start)
	require.LessOrEqual(t, pump.chunkSize(), pump.nominal)
}

func TestChunkPumpHalvesOnCongestionAndWaitsForDrain(t *testing.T) {
	dc := &fakeDataChannel{}
	gate := newPauseGate()
	pump := newChunkPump(dc, 100_000_000, gate)
	pump.current = 80_000

	dc.setBuffered(uint64(pump.current) * bufferedThresholdMultiplier)

	go func() {
		dc.setBuffered(0)
	}()

	require.NoError(t, pump.send(context.Background(), make([]byte, 10)))
	require.Equal(t, 40_000, pump.chunkSize())
}

func TestChunkPumpWaitsOnRecomputedThresholdAfterHalving(t *testing.T) {
	dc := &fakeDataChannel{}
	gate := newPauseGate()
	pump := newChunkPump(dc, 100_000_000, gate)
	pump.current = 80_000
	oldThreshold := uint64(pump.current) * bufferedThresholdMultiplier // 640_000
	newThreshold := oldThreshold / 2                                   // 320_000 once halved to 40_000

	// Buffered amount sits below the stale, pre-halving threshold but
	// above the threshold computed from the halved chunk size: send must
	// still wait here, not fire immediately on the old, too-generous bound.
	const betweenThresholds = 400_000
	dc.setBuffered(betweenThresholds)

	done := make(chan error, 1)
	go func() {
		done <- pump.send(context.Background(), make([]byte, 10))
	}()

	select {
	case <-done:
		t.Fatalf("send returned while buffered amount (%d) was still above the recomputed threshold (%d)", betweenThresholds, newThreshold)
	case <-time.After(20 * time.Millisecond):
	}

	dc.setBuffered(0)
	require.NoError(t, <-done)
	require.Equal(t, 40_000, pump.chunkSize())
}

func TestChunkPumpNeverShrinksBelowMinimum(t *testing.T) {
	dc := &fakeDataChannel{}
	gate := newPauseGate()
	pump := newChunkPump(dc, 1_000_000, gate)
	pump.current = minChunkSize

	dc.setBuffered(uint64(pump.current) * bufferedThresholdMultiplier)
	go dc.setBuffered(0)

	require.NoError(t, pump.send(context.Background(), make([]byte, 10)))
	require.Equal(t, minChunkSize, pump.chunkSize())
}

func TestChunkPumpRespectsPauseGate(t *testing.T) {
	dc := &fakeDataChannel{}
	gate := newPauseGate()
	gate.pause()
	pump := newChunkPump(dc, 1_000_000, gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pump.send(ctx, []byte("x"))
	}()

	select {
	case <-done:
		t.Fatal("send should have blocked on a paused gate")
	default:
	}

	gate.resume()
	cancel()
	<-done
}
