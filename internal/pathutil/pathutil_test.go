package pathutil

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnumerateLeavesOrderAndSkipsSymlinks(t *testing.T) {
	root := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c.txt"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "z.txt"), []byte("z"), 0o644))

	outside := filepath.Join(t.TempDir(), "outside.txt")
	require.NoError(t, os.WriteFile(outside, []byte("o"), 0o644))
	_ = os.Symlink(outside, filepath.Join(root, "link.txt"))

	leaves, err := EnumerateLeaves(root)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b", "c.txt"),
		filepath.Join(root, "b", "z.txt"),
	}, leaves)
}

func TestIsSafeJoin(t *testing.T) {
	base := t.TempDir()

	require.True(t, IsSafeJoin(base, "report.pdf"))
	require.True(t, IsSafeJoin(base, "sub/dir/file.txt"))
	require.False(t, IsSafeJoin(base, "../escape.txt"))
	require.False(t, IsSafeJoin(base, "../../etc/passwd"))
	require.False(t, IsSafeJoin(base, "sub/../../escape.txt"))
}

func TestSHA256FileMatchesStdlib(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	data := make([]byte, 500_000)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := SHA256File(path)
	require.NoError(t, err)

	want := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestSHA256FileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	got, err := SHA256File(path)
	require.NoError(t, err)

	want := sha256.Sum256(nil)
	require.Equal(t, hex.EncodeToString(want[:]), got)
}
