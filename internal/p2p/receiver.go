package p2p

import (
	"context"
	"os"
	"path/filepath"

	pion "github.com/pion/webrtc/v4"

	"github.com/emirgocuk/quickshare/internal/config"
	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/pathutil"
	"github.com/emirgocuk/quickshare/internal/qerrors"
)

// FileSelection is the receiver's chosen subset of the sender's
// catalogue, with the locally existing size of each file for resume.
type FileSelection struct {
	Names   []string
	Offsets map[string]int64
}

// FileOutcome reports one completed file's integrity result.
type FileOutcome struct {
	Name      string
	Integrity model.Integrity
}

// Receiver is the receiving half of a PeerSession: it authenticates
// (optionally), receives the catalogue, requests a subset, and writes
// incoming files to saveDir.
type Receiver struct {
	*Session

	saveDir  string
	password string

	// selectCatalogue is invoked once file_list arrives; it returns the
	// receiver's selection for DOWNLOAD_REQUEST. Supplied by the engine
	// so PeerSession stays free of UI concerns.
	selectCatalogue func(files []FileListEntry, totalSize int64) FileSelection

	outcomes chan FileOutcome
}

// NewReceiver builds a Receiver's underlying peer connection, ready to
// produce an SDP answer once an offer arrives.
func NewReceiver(peerID string, cfg *config.Config, saveDir, password string, mon *monitor.TransferMonitor, selectCatalogue func([]FileListEntry, int64) FileSelection) (*Receiver, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	r := &Receiver{
		Session:         newSession(peerID, model.RoleReceiver, pc, mon),
		saveDir:         saveDir,
		password:        password,
		selectCatalogue: selectCatalogue,
		outcomes:        make(chan FileOutcome, 8),
	}

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		r.attachChannel(dc)
	})

	return r, nil
}

// CreateAnswer applies a received offer and returns the local answer.
func (r *Receiver) CreateAnswer(offer pion.SessionDescription) (*pion.SessionDescription, error) {
	return createAnswer(r.pc, offer)
}

// ApplyICECandidate adds a remote ICE candidate.
func (r *Receiver) ApplyICECandidate(raw []byte) error {
	return applyICECandidate(r.pc, raw)
}

// OnLocalICECandidate registers fn to run for each locally gathered ICE
// candidate.
func (r *Receiver) OnLocalICECandidate(fn func(pion.ICECandidateInit)) {
	onLocalICECandidate(r.pc, fn)
}

// Outcomes returns the channel on which each completed file's integrity
// result is reported.
func (r *Receiver) Outcomes() <-chan FileOutcome {
	return r.outcomes
}

// SetSaveDir overrides the destination directory. Callers that don't know
// the save directory until the user picks a selection must call this
// from within the selectCatalogue callback before it returns; Run's
// single goroutine doesn't read saveDir until after that callback
// completes, so no synchronization is needed.
func (r *Receiver) SetSaveDir(dir string) {
	r.saveDir = dir
}

// Stop sends a STOPPED frame and tears the session down.
func (r *Receiver) Stop() {
	_ = r.sendFrame(stoppedFrame())
	r.stop(qerrors.ErrCancelled)
	_ = r.Close()
}

// RequestPause asks the remote sender to halt its producer loop. The
// sender has no transfer state of its own to gate locally on the
// receiving side, so pausing a download means sending PAUSE across the
// DataChannel rather than blocking anything here.
func (r *Receiver) RequestPause() error {
	return r.sendFrame(pauseFrame())
}

// RequestResume asks the remote sender to release a prior RequestPause.
func (r *Receiver) RequestResume() error {
	return r.sendFrame(resumeFrame())
}

// Run executes the receiver algorithm: handshake, receive file_list,
// send DOWNLOAD_REQUEST, then process frames until transfer_end.
func (r *Receiver) Run(ctx context.Context) error {
	if err := r.waitForOpen(ctx); err != nil {
		return err
	}
	r.setState(model.StateConnected)

	if err := r.handshake(ctx); err != nil {
		r.fail(err)
		return err
	}

	catalogue, err := r.receiveFileList(ctx)
	if err != nil {
		r.fail(err)
		return err
	}

	selection := r.selectCatalogue(catalogue.Files, catalogue.TotalSize)
	if err := r.sendFrame(downloadRequestFrame(selection.Names, selection.Offsets)); err != nil {
		r.fail(err)
		return err
	}

	r.setState(model.StateTransferring)
	r.monitor.StartTransfer()
	defer r.monitor.EndTransfer()
	defer close(r.outcomes)

	if err := r.receiveFiles(ctx); err != nil {
		r.fail(err)
		return err
	}

	r.setState(model.StateDone)
	return nil
}

func (r *Receiver) handshake(ctx context.Context) error {
	if r.password == "" {
		if err := r.sendFrame(readyFrame()); err != nil {
			return err
		}
	} else {
		if err := r.sendFrame(authFrame(r.password)); err != nil {
			return err
		}
	}

	for {
		frame, err := r.nextFrame(ctx)
		if err != nil {
			return err
		}
		switch frame.Type {
		case FrameAuthRequired:
			if err := r.sendFrame(authFrame(r.password)); err != nil {
				return err
			}
		case FrameAuthSuccess:
			return nil
		case FrameAuthFailed:
			return qerrors.New(qerrors.KindAuth, "p2p: handshake", qerrors.ErrAuthFailed)
		case FrameFileList:
			// No password was required; the sender went straight to the
			// catalogue. Requeue it for receiveFileList to pick up.
			select {
			case r.inbound <- inboundMessage{frame: frame}:
			default:
			}
			return nil
		default:
			return qerrors.New(qerrors.KindProtocol, "p2p: handshake", errUnexpectedFrame)
		}
	}
}

type catalogue struct {
	Files     []FileListEntry
	TotalSize int64
}

func (r *Receiver) receiveFileList(ctx context.Context) (catalogue, error) {
	frame, err := r.nextFrame(ctx)
	if err != nil {
		return catalogue{}, err
	}
	if frame.Type != FrameFileList {
		return catalogue{}, qerrors.New(qerrors.KindProtocol, "p2p: receive file list", errUnexpectedFrame)
	}
	return catalogue{Files: frame.Files, TotalSize: frame.TotalSize}, nil
}

// receiveFiles processes file_start/binary/file_end frames until
// transfer_end arrives.
func (r *Receiver) receiveFiles(ctx context.Context) error {
	for {
		frame, err := r.nextFrame(ctx)
		if err != nil {
			return err
		}

		switch frame.Type {
		case FrameTransferEnd:
			return nil
		case FramePause, FrameResume:
			// A receiver issues these toward the sender (RequestPause/
			// RequestResume) but never expects to receive them back; accept
			// without erroring rather than treating it as a protocol
			// violation.
		case FrameFileStart:
			if err := r.receiveOneFile(ctx, frame); err != nil {
				return err
			}
		default:
			return qerrors.New(qerrors.KindProtocol, "p2p: receive files", errUnexpectedFrame)
		}
	}
}

func (r *Receiver) receiveOneFile(ctx context.Context, start envelope) error {
	name := start.Name
	if !pathutil.IsSafeJoin(r.saveDir, name) {
		return qerrors.NewFile(qerrors.KindSecurity, "p2p: receive file", name, qerrors.ErrUnsafePath)
	}

	dest := filepath.Join(r.saveDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return qerrors.NewFile(qerrors.KindIO, "p2p: create directories", name, err)
	}

	appendMode := start.Offset > 0
	if appendMode {
		if info, err := os.Stat(dest); err != nil || info.Size() != start.Offset {
			appendMode = false
		}
	}

	flag := os.O_WRONLY | os.O_CREATE
	if appendMode {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}

	f, err := os.OpenFile(dest, flag, 0o644)
	if err != nil {
		return qerrors.NewFile(qerrors.KindIO, "p2p: open destination", name, err)
	}

	received := start.Offset
	for {
		msg, err := r.nextInbound(ctx)
		if err != nil {
			f.Close()
			return err
		}

		if msg.isBinary {
			if _, err := f.Write(msg.data); err != nil {
				f.Close()
				return qerrors.NewFile(qerrors.KindIO, "p2p: write chunk", name, err)
			}
			received += int64(len(msg.data))
			r.monitor.AddBytes(int64(len(msg.data)))
			r.monitor.UpdateFileProgress(name, received, start.Size)
			continue
		}

		if msg.frame.Type != FrameFileEnd || msg.frame.Name != name {
			f.Close()
			return qerrors.New(qerrors.KindProtocol, "p2p: receive file", errUnexpectedFrame)
		}

		if err := f.Close(); err != nil {
			return qerrors.NewFile(qerrors.KindIO, "p2p: close destination", name, err)
		}

		r.monitor.FinishFile(name)
		return r.verifyAndReport(name, dest, msg.frame.Hash)
	}
}

// verifyAndReport hashes the complete local file and compares it to the
// sender's full-file hash. A mismatch is recorded but is not fatal to
// the session — the remaining files still get their turn.
func (r *Receiver) verifyAndReport(name, path, wantHash string) error {
	gotHash, err := pathutil.SHA256File(path)
	if err != nil {
		return qerrors.NewFile(qerrors.KindIO, "p2p: verify hash", name, err)
	}

	outcome := FileOutcome{Name: name, Integrity: model.IntegrityVerified}
	if gotHash != wantHash {
		outcome.Integrity = model.IntegrityMismatch
	}

	select {
	case r.outcomes <- outcome:
	default:
	}
	return nil
}
