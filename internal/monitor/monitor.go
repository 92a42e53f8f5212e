// Package monitor implements TransferMonitor: a single thread-safe object
// that aggregates bytes/speed/ETA/per-file progress and is polled by a
// caller at 1 Hz, with rendering left entirely to that caller.
package monitor

import (
	"sync"
	"time"

	"github.com/emirgocuk/quickshare/internal/model"
)

// sampleFloor is the minimum interval between speed recomputations; the
// spec requires snapshot() to stay cheap enough to poll at 1 Hz.
const sampleFloor = 500 * time.Millisecond

// TransferMonitor aggregates progress across every active PeerSession or
// HTTP stream in a ShareSession. All operations are safe for concurrent
// use.
type TransferMonitor struct {
	mu sync.Mutex

	totalSent   int64
	totalSize   int64
	activeCount int
	perFile     map[string]model.FileProgress

	lastSampleTime  time.Time
	lastSampleBytes int64
	currentSpeed    float64
}

// New returns an idle TransferMonitor.
func New() *TransferMonitor {
	return &TransferMonitor{
		perFile:        make(map[string]model.FileProgress),
		lastSampleTime: time.Now(),
	}
}

// SetTotalSize records the total byte count expected for the active
// session.
func (m *TransferMonitor) SetTotalSize(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSize = n
}

// AddBytes increments total_sent by n. n may be negative-free only; the
// caller reports actual bytes transferred.
func (m *TransferMonitor) AddBytes(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSent += n
}

// UpdateFileProgress records sent/size for a single file.
func (m *TransferMonitor) UpdateFileProgress(name string, sent, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perFile[name] = model.FileProgress{Sent: sent, Size: size}
}

// FinishFile marks a file as fully transferred.
func (m *TransferMonitor) FinishFile(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fp, ok := m.perFile[name]; ok {
		fp.Sent = fp.Size
		m.perFile[name] = fp
	}
}

// StartTransfer increments the active-transfer count.
func (m *TransferMonitor) StartTransfer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeCount++
}

// EndTransfer decrements the active-transfer count, floored at zero.
func (m *TransferMonitor) EndTransfer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeCount > 0 {
		m.activeCount--
	}
}

// Reset clears all counters; used between ShareSessions.
func (m *TransferMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalSent = 0
	m.totalSize = 0
	m.activeCount = 0
	m.perFile = make(map[string]model.FileProgress)
	m.lastSampleTime = time.Now()
	m.lastSampleBytes = 0
	m.currentSpeed = 0
}

// Snapshot returns a read-only view of the current progress. It never
// performs I/O. Speed is recomputed only if at least sampleFloor has
// elapsed since the previous sample, otherwise the last computed speed is
// reused — this is a delta estimator, not an EMA, but satisfies the same
// monotonic-sampling contract an EMA would.
func (m *TransferMonitor) Snapshot() model.MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastSampleTime)
	if elapsed >= sampleFloor {
		deltaBytes := m.totalSent - m.lastSampleBytes
		if elapsed.Seconds() > 0 {
			m.currentSpeed = float64(deltaBytes) / elapsed.Seconds()
		}
		m.lastSampleTime = now
		m.lastSampleBytes = m.totalSent
	}

	var eta float64
	if m.currentSpeed > 0 {
		remaining := m.totalSize - m.totalSent
		if remaining > 0 {
			eta = float64(remaining) / m.currentSpeed
		}
	}

	perFile := make(map[string]model.FileProgress, len(m.perFile))
	for k, v := range m.perFile {
		perFile[k] = v
	}

	return model.MonitorSnapshot{
		TotalSent:       m.totalSent,
		TotalSize:       m.totalSize,
		CurrentSpeed:    m.currentSpeed,
		ETASeconds:      eta,
		ActiveTransfers: m.activeCount,
		PerFile:         perFile,
	}
}
