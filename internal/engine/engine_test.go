package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emirgocuk/quickshare/internal/config"
	"github.com/emirgocuk/quickshare/internal/history"
	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/p2p"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	hist := history.Open(t.TempDir()+"/history.json", 200)
	return New(cfg, monitor.New(), hist)
}

func TestStopWithNoActiveSessionIsNoop(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Stop())
	require.NoError(t, e.Stop())
}

func TestPauseResumeWithNoSendersAreNoops(t *testing.T) {
	e := newTestEngine(t)
	require.NotPanics(t, func() { e.Pause() })
	require.NotPanics(t, func() { e.Resume() })
}

func TestBeginSessionRejectsConcurrentStart(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.beginSession(model.ModeP2P, []model.FileEntry{{Name: "a.txt", Size: 1}}, ""))

	err := e.beginSession(model.ModeP2P, []model.FileEntry{{Name: "b.txt", Size: 1}}, "")
	require.Error(t, err)

	require.NoError(t, e.Stop())
	require.NoError(t, e.beginSession(model.ModeP2P, []model.FileEntry{{Name: "b.txt", Size: 1}}, ""))
}

func TestRequestDownloadWithoutPendingConnectionFails(t *testing.T) {
	e := newTestEngine(t)
	err := e.RequestDownload(p2p.FileSelection{Names: []string{"a.txt"}}, t.TempDir())
	require.Error(t, err)
}

func TestBeginSessionResetsMonitorTotals(t *testing.T) {
	e := newTestEngine(t)
	e.mon.AddBytes(500)

	require.NoError(t, e.beginSession(model.ModeP2P, []model.FileEntry{{Name: "a.txt", Size: 100}}, ""))
	snap := e.mon.Snapshot()
	require.Equal(t, int64(0), snap.TotalSent)
	require.Equal(t, int64(100), snap.TotalSize)
}
