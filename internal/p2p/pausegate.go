package p2p

import "context"

// pauseGate is the cooperative pause/resume mechanism the sender's
// producer loop awaits before each chunk. PAUSE clears it, RESUME sets
// it. An in-flight chunk is never interrupted — only the next one
// blocks.
type pauseGate struct {
	ch chan struct{}
}

// newPauseGate returns a gate that starts open (not paused).
func newPauseGate() *pauseGate {
	g := &pauseGate{ch: make(chan struct{}, 1)}
	g.ch <- struct{}{}
	return g
}

// pause closes the gate; subsequent wait calls block until resume.
func (g *pauseGate) pause() {
	select {
	case <-g.ch:
	default:
	}
}

// resume opens the gate, releasing any blocked wait call.
func (g *pauseGate) resume() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

// wait blocks until the gate is open, then leaves it open, so later wait
// calls pass straight through until pause is called. Returns ctx.Err() if
// ctx is cancelled first.
func (g *pauseGate) wait(ctx context.Context) error {
	select {
	case <-g.ch:
		g.ch <- struct{}{}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
