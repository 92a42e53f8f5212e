package httpshare

import (
	"archive/zip"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
)

func writeTempFile(t *testing.T, dir, name, content string) model.FileEntry {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return model.FileEntry{Name: name, Size: int64(len(content)), Path: path}
}

func TestHandleListReturnsCatalogue(t *testing.T) {
	dir := t.TempDir()
	files := []model.FileEntry{writeTempFile(t, dir, "a.txt", "hello")}
	srv := httptest.NewServer(New(files, monitor.New()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.Len(t, parsed.Files, 1)
	require.Equal(t, "a.txt", parsed.Files[0].Name)
	require.Equal(t, int64(5), parsed.Files[0].Size)
}

func TestHandleFileB64FullDownload(t *testing.T) {
	dir := t.TempDir()
	files := []model.FileEntry{writeTempFile(t, dir, "a.txt", "hello world")}
	srv := httptest.NewServer(New(files, monitor.New()).Handler())
	defer srv.Close()

	encoded := base64.RawURLEncoding.EncodeToString([]byte("a.txt"))
	resp, err := http.Get(srv.URL + "/file_b64/" + encoded)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleFileB64RangeRequest(t *testing.T) {
	dir := t.TempDir()
	files := []model.FileEntry{writeTempFile(t, dir, "a.txt", "0123456789")}
	srv := httptest.NewServer(New(files, monitor.New()).Handler())
	defer srv.Close()

	encoded := base64.RawURLEncoding.EncodeToString([]byte("a.txt"))
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/file_b64/"+encoded, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=5-")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "bytes 5-9/10", resp.Header.Get("Content-Range"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "56789", string(body))
}

func TestHandleFileB64UnsatisfiableRange(t *testing.T) {
	dir := t.TempDir()
	files := []model.FileEntry{writeTempFile(t, dir, "a.txt", "0123456789")}
	srv := httptest.NewServer(New(files, monitor.New()).Handler())
	defer srv.Close()

	encoded := base64.RawURLEncoding.EncodeToString([]byte("a.txt"))
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/file_b64/"+encoded, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=100-200")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	require.Equal(t, "bytes */10", resp.Header.Get("Content-Range"))
}

func TestHandleDownloadZipContainsAllFiles(t *testing.T) {
	dir := t.TempDir()
	files := []model.FileEntry{
		writeTempFile(t, dir, "a.txt", "first"),
		writeTempFile(t, dir, "b.txt", "second"),
	}
	srv := httptest.NewServer(New(files, monitor.New()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/download")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	zr, err := zip.NewReader(newBytesReaderAt(body), int64(len(body)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
}

func TestHandleHashReturnsSHA256(t *testing.T) {
	dir := t.TempDir()
	files := []model.FileEntry{writeTempFile(t, dir, "a.txt", "hello world")}
	srv := httptest.NewServer(New(files, monitor.New()).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/hash/a.txt")
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed hashResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", parsed.Hash)
}

func newBytesReaderAt(b []byte) io.ReaderAt {
	return readerAt{b}
}

type readerAt struct{ b []byte }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
