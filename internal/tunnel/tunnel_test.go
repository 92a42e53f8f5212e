package tunnel

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBinary writes a small shell script that prints a URL line,
// mimicking cloudflared's startup chatter, then stays alive.
func fakeBinary(t *testing.T, line string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake binary harness is unix-only")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "fake-cloudflared.sh")
	script := "#!/bin/sh\necho 'some preamble'\necho '" + line + "'\nsleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestStartCapturesPublicURL(t *testing.T) {
	bin := fakeBinary(t, "https://foo-bar.trycloudflare.com")

	s, err := New(bin, DefaultTunnelURLRegexForTest, 5*time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url, err := s.Start(ctx, 8080)
	require.NoError(t, err)
	require.Equal(t, "https://foo-bar.trycloudflare.com", url)
	require.True(t, s.IsRunning())
	require.Equal(t, url, s.PublicURL())

	s.Stop()
	require.False(t, s.IsRunning())
}

func TestStartTimesOutWhenNoURLAppears(t *testing.T) {
	bin := fakeBinary(t, "no url here")

	s, err := New(bin, DefaultTunnelURLRegexForTest, 500*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = s.Start(ctx, 8080)
	require.Error(t, err)
	require.False(t, s.IsRunning())
}

func TestStopIsIdempotent(t *testing.T) {
	s, err := New("cloudflared", DefaultTunnelURLRegexForTest, time.Second)
	require.NoError(t, err)

	s.Stop()
	s.Stop()
	require.False(t, s.IsRunning())
}

// DefaultTunnelURLRegexForTest mirrors config.DefaultTunnelURLRegex without
// importing the config package, keeping this test isolated to tunnel's own
// contract.
const DefaultTunnelURLRegexForTest = `https://[a-zA-Z0-9-]+\.trycloudflare\.com`
