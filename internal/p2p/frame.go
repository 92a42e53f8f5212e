// Package p2p implements PeerSession: one WebRTC peer connection and its
// single ordered, reliable `fileTransfer` DataChannel, the dual
// text/binary framing protocol carried over it, and the sender/receiver
// algorithms driving a transfer end to end.
package p2p

import "encoding/json"

// FrameType discriminates a text control frame. Binary frames carry no
// header at all — their physical DataChannel message type is the only
// tag the protocol needs.
type FrameType string

const (
	FrameReady        FrameType = "ready"
	FrameAuth         FrameType = "auth"
	FrameAuthSuccess  FrameType = "auth_success"
	FrameAuthFailed   FrameType = "auth_failed"
	FrameAuthRequired FrameType = "auth_required"
	FrameFileList     FrameType = "file_list"
	FrameDownloadReq  FrameType = "DOWNLOAD_REQUEST"
	FrameFileStart    FrameType = "file_start"
	FrameFileEnd      FrameType = "file_end"
	FrameTransferEnd  FrameType = "transfer_end"
	FramePause        FrameType = "PAUSE"
	FrameResume       FrameType = "RESUME"
	FrameStopped      FrameType = "STOPPED"
)

// envelope is the wire shape of every text frame: a type discriminator
// plus a type-specific payload, marshaled flat rather than nested so the
// JSON stays small on the wire.
type envelope struct {
	Type FrameType `json:"type"`

	Password string `json:"password,omitempty"`

	Files     []FileListEntry `json:"files,omitempty"`
	TotalSize int64           `json:"total_size,omitempty"`

	Offsets map[string]int64 `json:"offsets,omitempty"`

	Name   string `json:"name,omitempty"`
	Size   int64  `json:"size,omitempty"`
	Index  int    `json:"index,omitempty"`
	Total  int    `json:"total,omitempty"`
	Offset int64  `json:"offset,omitempty"`
	Hash   string `json:"hash,omitempty"`
}

// FileListEntry is one entry of a file_list frame's catalogue.
type FileListEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func marshalFrame(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

func parseFrame(data []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

func readyFrame() envelope                  { return envelope{Type: FrameReady} }
func authFrame(password string) envelope    { return envelope{Type: FrameAuth, Password: password} }
func authSuccessFrame() envelope            { return envelope{Type: FrameAuthSuccess} }
func authFailedFrame() envelope             { return envelope{Type: FrameAuthFailed} }
func authRequiredFrame() envelope           { return envelope{Type: FrameAuthRequired} }
func pauseFrame() envelope                  { return envelope{Type: FramePause} }
func resumeFrame() envelope                 { return envelope{Type: FrameResume} }
func stoppedFrame() envelope                { return envelope{Type: FrameStopped} }
func transferEndFrame() envelope            { return envelope{Type: FrameTransferEnd} }

func fileListFrame(files []FileListEntry, totalSize int64) envelope {
	return envelope{Type: FrameFileList, Files: files, TotalSize: totalSize}
}

func downloadRequestFrame(names []string, offsets map[string]int64) envelope {
	return envelope{Type: FrameDownloadReq, Files: toFileListEntries(names), Offsets: offsets}
}

func toFileListEntries(names []string) []FileListEntry {
	entries := make([]FileListEntry, len(names))
	for i, n := range names {
		entries[i] = FileListEntry{Name: n}
	}
	return entries
}

func fileStartFrame(name string, size int64, index, total int, offset int64) envelope {
	return envelope{Type: FrameFileStart, Name: name, Size: size, Index: index, Total: total, Offset: offset}
}

func fileEndFrame(name, hash string) envelope {
	return envelope{Type: FrameFileEnd, Name: name, Hash: hash}
}
