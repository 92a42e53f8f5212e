package httpdownload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
)

func TestListParsesCatalogue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"files":[{"name":"a.txt","size":5}]}`))
	}))
	defer srv.Close()

	d := New(srv.URL, monitor.New())
	files, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "a.txt", files[0].Name)
	require.Equal(t, int64(5), files[0].Size)
}

func TestDownloadFileFreshNoRange(t *testing.T) {
	content := "hello world"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/file_b64/YS50eHQ":
			w.Write([]byte(content))
		case r.URL.Path == "/hash/a.txt":
			w.Write([]byte(`{"hash":"b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	saveDir := t.TempDir()
	d := New(srv.URL, monitor.New())
	outcome, err := d.DownloadFile(context.Background(), "a.txt", saveDir)
	require.NoError(t, err)
	require.Equal(t, model.IntegrityVerified, outcome.Integrity)

	got, err := os.ReadFile(filepath.Join(saveDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, content, string(got))
}

func TestDownloadFileResumesWithRange(t *testing.T) {
	full := "0123456789"
	saveDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "a.txt"), []byte(full[:5]), 0o644))

	var sawRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/file_b64/YS50eHQ":
			sawRange = r.Header.Get("Range")
			w.Header().Set("Content-Range", "bytes 5-9/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte(full[5:]))
		case r.URL.Path == "/hash/a.txt":
			w.Write([]byte(`{"hash":"84d89877f0d4041efb6bf91a16f0248f2fd573e6af05c19f96bedb9f882f7882"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(srv.URL, monitor.New())
	outcome, err := d.DownloadFile(context.Background(), "a.txt", saveDir)
	require.NoError(t, err)
	require.Equal(t, "bytes=5-", sawRange)
	require.Equal(t, model.IntegrityVerified, outcome.Integrity)

	got, err := os.ReadFile(filepath.Join(saveDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, full, string(got))
}

func TestDownloadFileDiscardsPartialOn200Fallback(t *testing.T) {
	full := "the quick brown fox"
	saveDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "a.txt"), []byte("stale partial data"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/file_b64/YS50eHQ":
			// Ignores Range and always returns 200 with the full body.
			w.Write([]byte(full))
		case r.URL.Path == "/hash/a.txt":
			w.Write([]byte(`{"hash":"9ecb36561341d18eb65484e833efea61edc74b84cf5e6ae1b81c63533e25fc8f"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(srv.URL, monitor.New())
	outcome, err := d.DownloadFile(context.Background(), "a.txt", saveDir)
	require.NoError(t, err)
	require.Equal(t, model.IntegrityVerified, outcome.Integrity)

	got, err := os.ReadFile(filepath.Join(saveDir, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, full, string(got))
}

func TestDownloadFileTreats416AsComplete(t *testing.T) {
	saveDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(saveDir, "a.txt"), []byte("already complete"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/file_b64/YS50eHQ":
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		case r.URL.Path == "/hash/a.txt":
			w.Write([]byte(`{"hash":"b754f73c726e89d8e3c80eefd22d040e337d6b82c09f3a889218a323174e6b42"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(srv.URL, monitor.New())
	outcome, err := d.DownloadFile(context.Background(), "a.txt", saveDir)
	require.NoError(t, err)
	require.Equal(t, model.IntegrityVerified, outcome.Integrity)
}

func TestDownloadFilesReportsOutcomesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/file_b64/YS50eHQ":
			w.Write([]byte("AAAAA"))
		case "/file_b64/Yi50eHQ":
			w.Write([]byte("BBBBB"))
		case "/hash/a.txt", "/hash/b.txt":
			w.Write([]byte(`{"hash":"mismatch"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := New(srv.URL, monitor.New())
	saveDir := t.TempDir()
	selection := []model.FileEntry{
		{Name: "a.txt", Size: 5},
		{Name: "b.txt", Size: 5},
	}

	var got []FileOutcome
	for o := range d.DownloadFiles(context.Background(), selection, saveDir) {
		got = append(got, o)
	}

	require.Len(t, got, 2)
	require.Equal(t, "a.txt", got[0].Name)
	require.Equal(t, "b.txt", got[1].Name)
	require.Equal(t, model.IntegrityMismatch, got[0].Integrity)
}
