package p2p

import (
	"context"
	"errors"
	"io"
	"os"

	pion "github.com/pion/webrtc/v4"

	"github.com/emirgocuk/quickshare/internal/config"
	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/pathutil"
	"github.com/emirgocuk/quickshare/internal/qerrors"
)

var errUnexpectedFrame = errors.New("unexpected frame type")

// Sender is the sending half of a PeerSession: it offers a file
// catalogue, waits for a receiver's selection, and streams each
// requested file with adaptive chunking.
type Sender struct {
	*Session

	password string
	files    []model.FileEntry
}

// NewSender creates a Sender's underlying peer connection and
// fileTransfer DataChannel, ready to create an offer.
func NewSender(peerID string, cfg *config.Config, files []model.FileEntry, password string, mon *monitor.TransferMonitor) (*Sender, error) {
	pc, err := newPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	dc, err := createDataChannel(pc)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	s := &Sender{
		Session:  newSession(peerID, model.RoleSender, pc, mon),
		password: password,
		files:    files,
	}
	s.attachChannel(dc)
	return s, nil
}

// CreateOffer generates the local SDP offer to hand to the rendezvous
// client for relaying.
func (s *Sender) CreateOffer() (*pion.SessionDescription, error) {
	return createOffer(s.pc)
}

// ApplyAnswer applies the remote answer received via the rendezvous
// relay.
func (s *Sender) ApplyAnswer(answer pion.SessionDescription) error {
	return applyAnswer(s.pc, answer)
}

// ApplyICECandidate adds a remote ICE candidate.
func (s *Sender) ApplyICECandidate(raw []byte) error {
	return applyICECandidate(s.pc, raw)
}

// OnLocalICECandidate registers fn to run for each locally gathered ICE
// candidate.
func (s *Sender) OnLocalICECandidate(fn func(pion.ICECandidateInit)) {
	onLocalICECandidate(s.pc, fn)
}

// Pause halts the producer loop after its in-flight chunk completes.
func (s *Sender) Pause() { s.gate.pause() }

// Resume releases a paused producer loop.
func (s *Sender) Resume() { s.gate.resume() }

// Stop sends a STOPPED frame and tears the session down.
func (s *Sender) Stop() {
	_ = s.sendFrame(stoppedFrame())
	s.stop(qerrors.ErrCancelled)
	_ = s.Close()
}

// Run executes the full sender algorithm for this peer: auth handshake,
// file_list, wait for DOWNLOAD_REQUEST, then stream every requested file
// in offered order, finishing with transfer_end.
func (s *Sender) Run(ctx context.Context) error {
	if err := s.waitForOpen(ctx); err != nil {
		return err
	}
	s.setState(model.StateConnected)

	if err := s.handshake(ctx); err != nil {
		s.fail(err)
		return err
	}

	if err := s.sendFileList(); err != nil {
		s.fail(err)
		return err
	}

	req, err := s.waitForDownloadRequest(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.setState(model.StateTransferring)
	s.monitor.StartTransfer()
	defer s.monitor.EndTransfer()

	selected := s.selectFiles(req.names)
	for i, f := range selected {
		offset := clampOffset(req.offsets[f.Name], f.Size)
		if err := s.streamFile(ctx, f, i, len(selected), offset); err != nil {
			s.fail(err)
			return err
		}
	}

	if err := s.sendFrame(transferEndFrame()); err != nil {
		s.fail(err)
		return err
	}
	s.setState(model.StateDone)
	return nil
}

// handshake performs the ready/auth exchange. If password is empty it
// simply waits for ready; otherwise it demands auth and validates it.
func (s *Sender) handshake(ctx context.Context) error {
	frame, err := s.nextFrame(ctx)
	if err != nil {
		return err
	}

	if s.password == "" {
		if frame.Type != FrameReady {
			return qerrors.New(qerrors.KindProtocol, "p2p: handshake", errUnexpectedFrame)
		}
		return nil
	}

	if frame.Type == FrameReady {
		if err := s.sendFrame(authRequiredFrame()); err != nil {
			return err
		}
		frame, err = s.nextFrame(ctx)
		if err != nil {
			return err
		}
	}

	if frame.Type != FrameAuth || frame.Password != s.password {
		_ = s.sendFrame(authFailedFrame())
		return qerrors.New(qerrors.KindAuth, "p2p: handshake", qerrors.ErrAuthFailed)
	}

	return s.sendFrame(authSuccessFrame())
}

func (s *Sender) sendFileList() error {
	entries := make([]FileListEntry, len(s.files))
	var total int64
	for i, f := range s.files {
		entries[i] = FileListEntry{Name: f.Name, Size: f.Size}
		total += f.Size
	}
	return s.sendFrame(fileListFrame(entries, total))
}

type downloadRequest struct {
	names   []string
	offsets map[string]int64
}

func (s *Sender) waitForDownloadRequest(ctx context.Context) (downloadRequest, error) {
	frame, err := s.nextFrame(ctx)
	if err != nil {
		return downloadRequest{}, err
	}
	if frame.Type != FrameDownloadReq {
		return downloadRequest{}, qerrors.New(qerrors.KindProtocol, "p2p: wait download request", errUnexpectedFrame)
	}
	names := make([]string, len(frame.Files))
	for i, f := range frame.Files {
		names[i] = f.Name
	}
	return downloadRequest{names: names, offsets: frame.Offsets}, nil
}

// selectFiles returns the entries of s.files whose names appear in names,
// in the catalogue's offered order; names not in the catalogue are
// ignored. file_start.index is assigned from this order, so it numbers
// the receiver's selected subset: a receiver requesting ["c.txt", "a.txt"]
// sees a.txt at index 0 and c.txt at index 1.
func (s *Sender) selectFiles(names []string) []model.FileEntry {
	requested := make(map[string]bool, len(names))
	for _, n := range names {
		requested[n] = true
	}
	var out []model.FileEntry
	for _, f := range s.files {
		if requested[f.Name] {
			out = append(out, f)
		}
	}
	return out
}

func clampOffset(offset, size int64) int64 {
	if offset < 0 {
		return 0
	}
	if offset > size {
		return size
	}
	return offset
}

// streamFile emits file_start, pumps the file's bytes from offset to EOF
// through the adaptive chunk pump, then emits file_end with the
// full-file SHA-256, computed independent of the transmitted offset so a
// resumed transfer still verifies against the whole file.
func (s *Sender) streamFile(ctx context.Context, f model.FileEntry, index, total int, offset int64) error {
	if err := s.sendFrame(fileStartFrame(f.Name, f.Size, index, total, offset)); err != nil {
		return err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		return qerrors.NewFile(qerrors.KindIO, "p2p: open file", f.Name, err)
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return qerrors.NewFile(qerrors.KindIO, "p2p: seek file", f.Name, err)
		}
	}

	pump := newChunkPump(s.dc, f.Size, s.gate)
	var sent int64
	for {
		buf := make([]byte, pump.chunkSize())
		n, readErr := file.Read(buf)
		if n > 0 {
			if err := pump.send(ctx, buf[:n]); err != nil {
				return qerrors.NewFile(qerrors.KindNetwork, "p2p: send chunk", f.Name, err)
			}
			sent += int64(n)
			s.monitor.AddBytes(int64(n))
			s.monitor.UpdateFileProgress(f.Name, offset+sent, f.Size)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return qerrors.NewFile(qerrors.KindIO, "p2p: read file", f.Name, readErr)
		}
	}

	hash, err := pathutil.SHA256File(f.Path)
	if err != nil {
		return err
	}

	s.monitor.FinishFile(f.Name)
	return s.sendFrame(fileEndFrame(f.Name, hash))
}
