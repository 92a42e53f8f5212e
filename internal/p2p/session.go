package p2p

import (
	"context"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/qerrors"
)

// textFrameTimeout bounds how long nextInbound waits for the next queued
// message, text or binary, before giving up.
const textFrameTimeout = 30 * time.Second

// Session is one PeerSession: a WebRTC peer connection, its fileTransfer
// DataChannel, and the state machine driving a transfer. Sender and
// Receiver embed it for their respective roles.
type Session struct {
	PeerID string
	Role   model.PeerRole

	pc *pion.PeerConnection
	dc *pion.DataChannel

	mu    sync.Mutex
	state model.PeerState

	opened   chan struct{}
	closed   chan struct{}
	closeErr error

	// inbound carries both text and binary frames in DataChannel arrival
	// order. Two separate channels would let a consumer's select observe
	// a later text frame (e.g. file_end) before an earlier binary chunk
	// still queued behind it, breaking the "no interleaving" invariant;
	// a single channel preserves the wire order.
	inbound chan inboundMessage

	// gate is toggled by an incoming PAUSE/RESUME control frame from the
	// remote peer (see handleMessage) and awaited by a Sender's producer
	// loop before each chunk. A Receiver never waits on its own gate —
	// it has nothing to throttle locally — but still owns one so a
	// stray PAUSE/RESUME arriving on either end has somewhere to land.
	gate *pauseGate

	monitor *monitor.TransferMonitor
}

// inboundMessage is a tagged union of the two frame kinds the channel
// carries, queued in the order pion's OnMessage delivered them.
type inboundMessage struct {
	isBinary bool
	frame    envelope
	data     []byte
}

func newSession(peerID string, role model.PeerRole, pc *pion.PeerConnection, mon *monitor.TransferMonitor) *Session {
	return &Session{
		PeerID:  peerID,
		Role:    role,
		pc:      pc,
		state:   model.StateNew,
		opened:  make(chan struct{}),
		closed:  make(chan struct{}),
		inbound: make(chan inboundMessage, 64),
		gate:    newPauseGate(),
		monitor: mon,
	}
}

// State returns the session's current connection state.
func (s *Session) State() model.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st model.PeerState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = st
}

// attachChannel wires OnOpen/OnMessage/OnClose handlers on dc, queuing
// text and binary frames onto the single s.inbound channel in arrival
// order, per the framing rule: a text frame is always a control frame, a
// binary frame is always file data, and the two are never confused
// because pion reports IsString per message.
func (s *Session) attachChannel(dc *pion.DataChannel) {
	s.dc = dc

	dc.OnOpen(func() {
		s.setState(model.StateConnected)
		close(s.opened)
	})

	dc.OnMessage(s.handleMessage)

	dc.OnClose(func() {
		s.mu.Lock()
		alreadyTerminal := s.state.Terminal()
		s.mu.Unlock()
		if !alreadyTerminal {
			s.setState(model.StateStopped)
		}
		select {
		case <-s.closed:
		default:
			close(s.closed)
		}
	})
}

// handleMessage is the DataChannel's OnMessage callback. It queues the
// frame onto s.inbound, blocking if the buffer is full rather than
// dropping it — a dropped binary chunk would silently truncate the file
// being received, and a dropped file_end would strand the receiver
// waiting forever. The only escape from a full queue is the session
// itself closing.
func (s *Session) handleMessage(msg pion.DataChannelMessage) {
	if msg.IsString {
		frame, err := parseFrame(msg.Data)
		if err != nil {
			return
		}
		select {
		case s.inbound <- inboundMessage{frame: frame}:
		case <-s.closed:
			return
		}
		switch frame.Type {
		case FrameStopped:
			s.stop(qerrors.ErrCancelled)
		case FramePause:
			s.gate.pause()
		case FrameResume:
			s.gate.resume()
		}
		return
	}
	select {
	case s.inbound <- inboundMessage{isBinary: true, data: msg.Data}:
	case <-s.closed:
	}
}

func (s *Session) fail(err error) {
	s.transitionTerminal(model.StateFailed, err)
}

func (s *Session) stop(err error) {
	s.transitionTerminal(model.StateStopped, err)
}

func (s *Session) transitionTerminal(st model.PeerState, err error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.closeErr = err
	s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
}

// sendFrame marshals and sends e as a text frame.
func (s *Session) sendFrame(e envelope) error {
	data, err := marshalFrame(e)
	if err != nil {
		return qerrors.New(qerrors.KindProtocol, "p2p: marshal frame", err)
	}
	if err := s.dc.SendText(string(data)); err != nil {
		return qerrors.New(qerrors.KindNetwork, "p2p: send frame", err)
	}
	return nil
}

// waitForOpen blocks until the DataChannel opens or ctx is cancelled.
func (s *Session) waitForOpen(ctx context.Context) error {
	select {
	case <-s.opened:
		return nil
	case <-s.closed:
		return qerrors.New(qerrors.KindNetwork, "p2p: wait open", qerrors.ErrCancelled)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nextFrame waits for the next text frame. A binary frame arriving where
// a control frame was expected is a protocol error. Returns an error on
// timeout, session close, or context cancellation.
func (s *Session) nextFrame(ctx context.Context) (envelope, error) {
	msg, err := s.nextInbound(ctx)
	if err != nil {
		return envelope{}, err
	}
	if msg.isBinary {
		return envelope{}, qerrors.New(qerrors.KindProtocol, "p2p: next frame", errUnexpectedFrame)
	}
	return msg.frame, nil
}

// nextInbound waits for the next queued text-or-binary message.
func (s *Session) nextInbound(ctx context.Context) (inboundMessage, error) {
	select {
	case m := <-s.inbound:
		return m, nil
	case <-s.closed:
		return inboundMessage{}, qerrors.New(qerrors.KindNetwork, "p2p: next frame", qerrors.ErrCancelled)
	case <-time.After(textFrameTimeout):
		return inboundMessage{}, qerrors.New(qerrors.KindProtocol, "p2p: next frame", context.DeadlineExceeded)
	case <-ctx.Done():
		return inboundMessage{}, ctx.Err()
	}
}

// Close shuts down the peer connection and DataChannel.
func (s *Session) Close() error {
	s.setState(model.StateStopped)
	if s.dc != nil {
		_ = s.dc.Close()
	}
	if s.pc != nil {
		return s.pc.Close()
	}
	return nil
}

// Done returns a channel closed when the session reaches a terminal
// state.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Err returns the error that caused termination, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
