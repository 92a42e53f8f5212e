// Package engine implements TransferEngine: the orchestrator that wires
// ShareSession, RendezvousClient, HttpFileServer, TunnelSupervisor,
// TransferMonitor and the per-peer PeerSessions into the handful of
// operations a caller drives a share or a download through.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/emirgocuk/quickshare/internal/config"
	"github.com/emirgocuk/quickshare/internal/history"
	"github.com/emirgocuk/quickshare/internal/httpshare"
	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/p2p"
	"github.com/emirgocuk/quickshare/internal/qerrors"
	"github.com/emirgocuk/quickshare/internal/rendezvous"
	"github.com/emirgocuk/quickshare/internal/tunnel"
)

// connectionTimeout bounds signalling-level connection establishment.
const connectionTimeout = 15 * time.Second

// Listing is the remote catalogue handed back from ConnectByCode, before
// the caller decides which files (and at what resume offsets) to
// request.
type Listing struct {
	Files     []model.FileEntry
	TotalSize int64
}

// pendingReceive bridges the asynchronous handshake/file_list arrival
// (driven by the rendezvous poll loop) with the synchronous
// ConnectByCode/RequestDownload calls the UI makes.
type pendingReceive struct {
	listingCh   chan Listing
	selectionCh chan p2p.FileSelection
	receiver    *p2p.Receiver
}

// Engine is a TransferEngine. One Engine serves one ShareSession (either
// sending or receiving) at a time.
type Engine struct {
	cfg  *config.Config
	mon  *monitor.TransferMonitor
	hist *history.History
	log  *slog.Logger

	mu      sync.Mutex
	session *model.ShareSession

	senderRend  *rendezvous.Client
	shareCancel context.CancelFunc

	peersMu sync.Mutex
	senders map[string]*p2p.Sender

	receiverRend  *rendezvous.Client
	receiveCancel context.CancelFunc
	pending       *pendingReceive

	httpServer *http.Server
	listener   net.Listener
	tun        *tunnel.Supervisor
}

// New builds an Engine around the given configuration and shared
// ambient state.
func New(cfg *config.Config, mon *monitor.TransferMonitor, hist *history.History) *Engine {
	return &Engine{
		cfg:     cfg,
		mon:     mon,
		hist:    hist,
		log:     slog.Default().With("component", "engine"),
		senders: make(map[string]*p2p.Sender),
	}
}

// Monitor returns the engine's TransferMonitor, polled by the UI at 1 Hz.
func (e *Engine) Monitor() *monitor.TransferMonitor {
	return e.mon
}

func (e *Engine) beginSession(mode model.ShareMode, files []model.FileEntry, password string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && e.session.Active {
		return fmt.Errorf("engine: a share session is already active")
	}

	e.session = &model.ShareSession{
		ID:        uuid.NewString(),
		Mode:      mode,
		Password:  password,
		Files:     files,
		CreatedAt: time.Now(),
		Active:    true,
	}
	e.mon.Reset()
	e.mon.SetTotalSize(e.session.TotalSize())
	return nil
}

// StartDirect publishes files over P2P via the rendezvous relay and
// returns the room code peers must use to connect.
func (e *Engine) StartDirect(paths []string, password string) (string, error) {
	files, err := buildCatalogue(paths)
	if err != nil {
		return "", err
	}
	if err := e.beginSession(model.ModeP2P, files, password); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.shareCancel = cancel
	e.mu.Unlock()

	rc := rendezvous.New(e.cfg.RendezvousURL, rendezvous.Handlers{
		OnPeerJoined: func(sender string, _ json.RawMessage) {
			go e.acceptSenderPeer(ctx, sender, files, password)
		},
		OnAnswer: func(sender string, data json.RawMessage) {
			e.peersMu.Lock()
			s, ok := e.senders[sender]
			e.peersMu.Unlock()
			if !ok {
				return
			}
			var answer pion.SessionDescription
			if err := json.Unmarshal(data, &answer); err != nil {
				return
			}
			_ = s.ApplyAnswer(answer)
		},
		OnICE: func(sender string, data json.RawMessage) {
			e.peersMu.Lock()
			s, ok := e.senders[sender]
			e.peersMu.Unlock()
			if !ok {
				return
			}
			_ = s.ApplyICECandidate(data)
		},
	})

	code, err := generateRoomCode()
	if err != nil {
		e.abortSession()
		return "", err
	}

	if _, err := rc.Join(ctx, code); err != nil {
		cancel()
		e.abortSession()
		return "", err
	}

	e.mu.Lock()
	e.senderRend = rc
	e.mu.Unlock()

	e.log.Info("share session started", "mode", "p2p", "room_code", code, "file_count", len(files))
	return code, nil
}

// acceptSenderPeer builds a Sender for a newly joined peer, exchanges the
// offer/ICE candidates over the rendezvous relay, and runs the transfer
// to completion. Per-peer failures are isolated: they neither abort other
// peers nor the share session.
func (e *Engine) acceptSenderPeer(ctx context.Context, peerID string, files []model.FileEntry, password string) {
	e.log.Debug("peer joined", "peer_id", peerID)
	sender, err := p2p.NewSender(peerID, e.cfg, files, password, e.mon)
	if err != nil {
		e.log.Error("sender setup failed", "peer_id", peerID, "err", err)
		return
	}

	e.peersMu.Lock()
	e.senders[peerID] = sender
	e.peersMu.Unlock()
	defer func() {
		e.peersMu.Lock()
		delete(e.senders, peerID)
		e.peersMu.Unlock()
	}()

	e.mu.Lock()
	rc := e.senderRend
	e.mu.Unlock()

	sender.OnLocalICECandidate(func(c pion.ICECandidateInit) {
		if rc != nil {
			_ = rc.Send(rendezvous.KindICE, c, peerID)
		}
	})

	offer, err := sender.CreateOffer()
	if err != nil {
		sender.Stop()
		return
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	// rc may still be nil momentarily if the peer_joined callback races
	// Join's own return; wait for it rather than dropping the offer.
	for rc == nil {
		select {
		case <-connectCtx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
		e.mu.Lock()
		rc = e.senderRend
		e.mu.Unlock()
	}

	if err := rc.Send(rendezvous.KindOffer, offer, peerID); err != nil {
		sender.Stop()
		return
	}

	go connectionWatchdog(sender.Session, sender.Stop)

	start := time.Now()
	runErr := sender.Run(ctx)
	if runErr != nil && !qerrors.IsCancelled(runErr) {
		e.log.Warn("peer transfer failed", "peer_id", peerID, "err", runErr)
	} else {
		e.log.Info("peer transfer finished", "peer_id", peerID, "duration", time.Since(start))
	}
	e.logSendOutcome(files, password, start, runErr)
}

// connectionWatchdog enforces the connection-establishment timeout: if
// the session hasn't moved past its initial state within that window,
// stop forces it to fail rather than leaving it to hang indefinitely on
// a DataChannel that never opens.
func connectionWatchdog(sess *p2p.Session, stop func()) {
	select {
	case <-time.After(connectionTimeout):
		if sess.State() == model.StateNew || sess.State() == model.StateConnecting {
			stop()
		}
	case <-sess.Done():
	}
}

func (e *Engine) logSendOutcome(files []model.FileEntry, _ string, start time.Time, runErr error) {
	if e.hist == nil {
		return
	}
	duration := time.Since(start).Seconds()
	status := model.StatusSuccess
	if runErr != nil {
		if qerrors.IsCancelled(runErr) {
			status = model.StatusCancelled
		} else {
			status = model.StatusFailed
		}
	}
	for _, f := range files {
		speed := 0.0
		if duration > 0 {
			speed = float64(f.Size) / duration
		}
		_, _ = e.hist.Log(model.TransferRecord{
			Timestamp:   time.Now(),
			Filename:    f.Name,
			Size:        f.Size,
			Direction:   model.DirectionSend,
			Status:      status,
			Integrity:   model.IntegrityVerified,
			DurationSec: duration,
			AvgSpeed:    speed,
			Method:      model.MethodP2P,
		})
	}
}

// StartCloud publishes files over a local HttpFileServer tunneled to a
// public URL, returning that URL.
func (e *Engine) StartCloud(paths []string) (string, error) {
	files, err := buildCatalogue(paths)
	if err != nil {
		return "", err
	}
	if err := e.beginSession(model.ModeCloud, files, ""); err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		e.abortSession()
		return "", qerrors.New(qerrors.KindIO, "engine: bind http listener", err)
	}

	srv := httpshare.New(files, e.mon)
	httpServer := &http.Server{Handler: srv.Handler()}
	go func() { _ = httpServer.Serve(listener) }()

	tun, err := tunnel.New(e.cfg.TunnelBinary, e.cfg.TunnelURLRegex, 0)
	if err != nil {
		_ = httpServer.Close()
		e.abortSession()
		return "", err
	}

	port := listener.Addr().(*net.TCPAddr).Port
	url, err := tun.Start(context.Background(), port)
	if err != nil {
		_ = httpServer.Close()
		e.abortSession()
		return "", err
	}

	e.mu.Lock()
	e.httpServer = httpServer
	e.listener = listener
	e.tun = tun
	e.mu.Unlock()

	e.log.Info("share session started", "mode", "cloud", "url", url, "file_count", len(files))
	return url, nil
}

// ConnectByCode joins a room as a receiver and waits for the sender's
// file catalogue, returning it without yet requesting any files.
func (e *Engine) ConnectByCode(code, password, saveDir string) (Listing, error) {
	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.receiveCancel = cancel
	e.mu.Unlock()

	pending := &pendingReceive{
		listingCh:   make(chan Listing, 1),
		selectionCh: make(chan p2p.FileSelection, 1),
	}
	e.mu.Lock()
	e.pending = pending
	e.mu.Unlock()

	selectCatalogue := func(files []p2p.FileListEntry, totalSize int64) p2p.FileSelection {
		listing := Listing{Files: make([]model.FileEntry, len(files)), TotalSize: totalSize}
		for i, f := range files {
			listing.Files[i] = model.FileEntry{Name: f.Name, Size: f.Size}
		}
		pending.listingCh <- listing
		return <-pending.selectionCh
	}

	rc := rendezvous.New(e.cfg.RendezvousURL, rendezvous.Handlers{
		OnOffer: func(sender string, data json.RawMessage) {
			e.acceptReceiverOffer(ctx, rc, sender, data, password, saveDir, selectCatalogue, pending)
		},
		OnICE: func(_ string, data json.RawMessage) {
			e.mu.Lock()
			recv := pending.receiver
			e.mu.Unlock()
			if recv != nil {
				_ = recv.ApplyICECandidate(data)
			}
		},
	})

	if _, err := rc.Join(ctx, code); err != nil {
		cancel()
		return Listing{}, err
	}

	e.mu.Lock()
	e.receiverRend = rc
	e.mu.Unlock()

	select {
	case listing := <-pending.listingCh:
		// The receiver's Run goroutine is now blocked inside
		// selectCatalogue, waiting on pending.selectionCh; RequestDownload
		// supplies it once the caller has decided.
		e.log.Info("connected to peer", "room_code", code, "file_count", len(listing.Files))
		return listing, nil
	case <-time.After(connectionTimeout):
		cancel()
		e.log.Warn("connect by code timed out", "room_code", code)
		return Listing{}, qerrors.New(qerrors.KindNetwork, "engine: connect by code", fmt.Errorf("timed out waiting for peer catalogue"))
	case <-ctx.Done():
		return Listing{}, ctx.Err()
	}
}

func (e *Engine) acceptReceiverOffer(ctx context.Context, rc *rendezvous.Client, sender string, data json.RawMessage, password, saveDir string, selectCatalogue func([]p2p.FileListEntry, int64) p2p.FileSelection, pending *pendingReceive) {
	var offer pion.SessionDescription
	if err := json.Unmarshal(data, &offer); err != nil {
		return
	}

	receiver, err := p2p.NewReceiver(sender, e.cfg, saveDir, password, e.mon, selectCatalogue)
	if err != nil {
		return
	}

	e.mu.Lock()
	pending.receiver = receiver
	e.mu.Unlock()

	receiver.OnLocalICECandidate(func(c pion.ICECandidateInit) {
		_ = rc.Send(rendezvous.KindICE, c, sender)
	})

	answer, err := receiver.CreateAnswer(offer)
	if err != nil {
		receiver.Stop()
		return
	}
	if err := rc.Send(rendezvous.KindAnswer, answer, sender); err != nil {
		receiver.Stop()
		return
	}

	go connectionWatchdog(receiver.Session, receiver.Stop)

	start := time.Now()
	runErr := receiver.Run(ctx)
	e.logReceiveOutcomes(receiver, start, runErr)
}

func (e *Engine) logReceiveOutcomes(receiver *p2p.Receiver, start time.Time, runErr error) {
	if e.hist == nil {
		return
	}
	duration := time.Since(start).Seconds()
	for outcome := range receiver.Outcomes() {
		status := model.StatusSuccess
		if runErr != nil && !qerrors.IsCancelled(runErr) {
			status = model.StatusFailed
		}
		_, _ = e.hist.Log(model.TransferRecord{
			Timestamp:   time.Now(),
			Filename:    outcome.Name,
			Direction:   model.DirectionReceive,
			Status:      status,
			Integrity:   outcome.Integrity,
			DurationSec: duration,
			Method:      model.MethodP2P,
		})
	}
}

// RequestDownload supplies the receiver's selection (and the save
// directory decided once the catalogue was seen) to the PeerSession
// blocked inside its selectCatalogue callback.
func (e *Engine) RequestDownload(selection p2p.FileSelection, saveDir string) error {
	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()
	if pending == nil {
		return fmt.Errorf("engine: no pending connection to request a download on")
	}

	e.mu.Lock()
	recv := pending.receiver
	e.mu.Unlock()
	if recv != nil {
		recv.SetSaveDir(saveDir)
	}

	select {
	case pending.selectionCh <- selection:
		return nil
	default:
		return fmt.Errorf("engine: download already requested for this connection")
	}
}

// Pause halts every active transfer this engine is a party to: a sender
// gates its own producer loop directly, while a receiver has no local
// producer to gate and instead asks the remote sender to pause over the
// DataChannel.
func (e *Engine) Pause() {
	for _, s := range e.senderSnapshot() {
		s.Pause()
	}
	if recv := e.activeReceiver(); recv != nil {
		_ = recv.RequestPause()
	}
}

// Resume releases every paused sender PeerSession and asks any active
// remote sender to resume a paused download.
func (e *Engine) Resume() {
	for _, s := range e.senderSnapshot() {
		s.Resume()
	}
	if recv := e.activeReceiver(); recv != nil {
		_ = recv.RequestResume()
	}
}

func (e *Engine) activeReceiver() *p2p.Receiver {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	return e.pending.receiver
}

func (e *Engine) senderSnapshot() []*p2p.Sender {
	e.peersMu.Lock()
	defer e.peersMu.Unlock()
	out := make([]*p2p.Sender, 0, len(e.senders))
	for _, s := range e.senders {
		out = append(out, s)
	}
	return out
}

// Stop idempotently tears down whatever the engine is currently doing:
// it sends STOPPED on every open PeerSession, closes peer connections,
// cancels the rendezvous poll loops, terminates the tunnel child, and
// waits up to 5 s before force-killing it (delegated to
// tunnel.Supervisor.Stop, which already implements that grace period).
func (e *Engine) Stop() error {
	e.mu.Lock()
	shareCancel := e.shareCancel
	receiveCancel := e.receiveCancel
	senderRend := e.senderRend
	receiverRend := e.receiverRend
	httpServer := e.httpServer
	tun := e.tun
	var recv *p2p.Receiver
	if e.pending != nil {
		recv = e.pending.receiver
	}
	if e.session != nil {
		e.session.Active = false
	}
	e.session = nil
	e.shareCancel = nil
	e.receiveCancel = nil
	e.senderRend = nil
	e.receiverRend = nil
	e.httpServer = nil
	e.listener = nil
	e.tun = nil
	e.pending = nil
	e.mu.Unlock()

	for _, s := range e.senderSnapshot() {
		s.Stop()
	}
	// A receiver still in StateNew has no DataChannel to send STOPPED on;
	// cancelling its context below ends its Run instead.
	if recv != nil && recv.State() != model.StateNew {
		recv.Stop()
	}

	if shareCancel != nil {
		shareCancel()
	}
	if receiveCancel != nil {
		receiveCancel()
	}
	if senderRend != nil {
		senderRend.Close()
	}
	if receiverRend != nil {
		receiverRend.Close()
	}
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}
	if tun != nil {
		tun.Stop()
	}
	e.log.Info("engine stopped")
	return nil
}

func (e *Engine) abortSession() {
	e.mu.Lock()
	e.session = nil
	e.mu.Unlock()
}
