// Package model holds the data types shared across QuickShare's transfer
// engines: the file catalogue, the active share session, per-peer
// connection state, and the historical transfer record.
package model

import "time"

// FileEntry is a single logical unit offered for transfer. Name is always
// forward-slash relative and unique within a session. Path is only set on
// the sender side.
type FileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Path     string `json:"-"`
	IsFolder bool   `json:"-"`
}

// ShareMode selects the transport a ShareSession uses.
type ShareMode string

const (
	ModeP2P   ShareMode = "p2p"
	ModeCloud ShareMode = "cloud"
)

// ShareSession is a single "start sharing" action. At most one is active
// per process.
type ShareSession struct {
	ID        string
	Mode      ShareMode
	Password  string
	Files     []FileEntry
	CreatedAt time.Time
	Active    bool
}

// TotalSize sums the size of every FileEntry in the session.
func (s *ShareSession) TotalSize() int64 {
	var total int64
	for _, f := range s.Files {
		total += f.Size
	}
	return total
}

// PeerRole identifies which side of a PeerSession this process plays.
type PeerRole string

const (
	RoleSender   PeerRole = "sender"
	RoleReceiver PeerRole = "receiver"
)

// PeerState is the PeerSession connection state machine. Transitions to
// Done, Failed or Stopped are terminal; Connected, Paused and
// Transferring may oscillate.
type PeerState string

const (
	StateNew          PeerState = "new"
	StateConnecting   PeerState = "connecting"
	StateConnected    PeerState = "connected"
	StateTransferring PeerState = "transferring"
	StatePaused       PeerState = "paused"
	StateDone         PeerState = "done"
	StateFailed       PeerState = "failed"
	StateStopped      PeerState = "stopped"
)

// Terminal reports whether state is one that a PeerSession cannot leave.
func (s PeerState) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateStopped
}

// Direction of a historical transfer.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Status of a completed (or abandoned) transfer.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Integrity outcome of a completed transfer's hash check.
type Integrity string

const (
	IntegrityVerified Integrity = "verified"
	IntegrityMismatch Integrity = "mismatch"
	IntegritySkipped  Integrity = "skipped"
)

// Method a TransferRecord travelled over.
type Method string

const (
	MethodHTTP Method = "http"
	MethodP2P  Method = "p2p"
)

// TransferRecord is one entry in the History ledger.
type TransferRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	Direction   Direction `json:"direction"`
	Status      Status    `json:"status"`
	Integrity   Integrity `json:"integrity"`
	DurationSec float64   `json:"duration_seconds"`
	AvgSpeed    float64   `json:"average_speed"`
	Method      Method    `json:"method"`
}

// FileProgress is the per-file entry inside a MonitorSnapshot.
type FileProgress struct {
	Sent int64 `json:"sent"`
	Size int64 `json:"size"`
}

// MonitorSnapshot is the read-only view returned by TransferMonitor.Snapshot.
type MonitorSnapshot struct {
	TotalSent       int64                   `json:"total_sent"`
	TotalSize       int64                   `json:"total_size"`
	CurrentSpeed    float64                 `json:"current_speed"`
	ETASeconds      float64                 `json:"eta_seconds"`
	ActiveTransfers int                     `json:"active_transfer_count"`
	PerFile         map[string]FileProgress `json:"per_file"`
}
