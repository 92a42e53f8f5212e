package p2p

import (
	"context"
	"time"
)

// Chunk size bounds and backpressure constants controlling the adaptive
// send rate: halve on congestion, grow by 1.2x when there's headroom,
// clamped to [minChunkSize, maxChunkSize].
const (
	minChunkSize = 16 * 1024
	maxChunkSize = 256 * 1024

	bufferedThresholdMultiplier = 8

	backoffStart = 1 * time.Millisecond
	backoffMax   = 50 * time.Millisecond

	growthFactor = 1.2
)

// nominalChunkSize computes clamp(size/1000, 16 KiB, 256 KiB).
func nominalChunkSize(fileSize int64) int {
	n := int(fileSize / 1000)
	if n < minChunkSize {
		return minChunkSize
	}
	if n > maxChunkSize {
		return maxChunkSize
	}
	return n
}

// dataChannel is the subset of *webrtc.DataChannel the chunk pump needs;
// narrowed to an interface so the pump can be unit tested without a real
// WebRTC stack.
type dataChannel interface {
	Send(data []byte) error
	BufferedAmount() uint64
	SetBufferedAmountLowThreshold(threshold uint64)
	OnBufferedAmountLow(f func())
}

// chunkPump streams a file's bytes through a dataChannel, adapting the
// chunk size against the channel's buffered amount. It owns no file I/O;
// callers feed it byte slices via send.
type chunkPump struct {
	dc       dataChannel
	nominal  int
	current  int
	gate     *pauseGate
}

func newChunkPump(dc dataChannel, fileSize int64, gate *pauseGate) *chunkPump {
	nominal := nominalChunkSize(fileSize)
	return &chunkPump{dc: dc, nominal: nominal, current: nominal, gate: gate}
}

// chunkSize returns the chunk size to use for the next read.
func (p *chunkPump) chunkSize() int {
	return p.current
}

// send transmits data as one binary DataChannel frame, waiting out any
// backpressure first and adjusting the controller's chunk size for the
// next iteration.
func (p *chunkPump) send(ctx context.Context, data []byte) error {
	if err := p.gate.wait(ctx); err != nil {
		return err
	}

	threshold := uint64(p.current * bufferedThresholdMultiplier)

	if p.dc.BufferedAmount() >= threshold {
		p.current = p.current / 2
		if p.current < minChunkSize {
			p.current = minChunkSize
		}
		threshold = uint64(p.current * bufferedThresholdMultiplier)
		if err := p.waitForDrain(ctx, threshold); err != nil {
			return err
		}
	} else {
		grown := int(float64(p.current) * growthFactor)
		if grown > p.nominal {
			grown = p.nominal
		}
		p.current = grown
	}

	return p.dc.Send(data)
}

// waitForDrain blocks, polling with exponential back-off from 1 ms to
// 50 ms, until the channel's buffered amount falls below threshold.
func (p *chunkPump) waitForDrain(ctx context.Context, threshold uint64) error {
	backoff := backoffStart
	for p.dc.BufferedAmount() >= threshold {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
	return nil
}
