// Package httpdownload implements HttpDownloader: the client side of
// cloud-mode sharing, consuming a remote HttpFileServer over HTTP with
// resumable, range-aware, checksum-verified transfers, reporting progress
// through the same TransferMonitor as a P2P transfer.
package httpdownload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/pathutil"
	"github.com/emirgocuk/quickshare/internal/qerrors"
)

const (
	streamChunkSize = 64 * 1024
	maxAttempts     = 5
	backoffUnit     = time.Second
)

// FileOutcome reports one completed download's integrity result.
type FileOutcome struct {
	Name      string
	Integrity model.Integrity
}

// Downloader is an HttpDownloader bound to one remote HttpFileServer.
type Downloader struct {
	baseURL string
	http    *http.Client
	mon     *monitor.TransferMonitor
}

// New builds a Downloader against baseURL, reporting progress to mon.
func New(baseURL string, mon *monitor.TransferMonitor) *Downloader {
	return &Downloader{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		mon:     mon,
	}
}

type listEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type listResponse struct {
	Files []listEntry `json:"files"`
}

// List fetches the remote file catalogue.
func (d *Downloader) List(ctx context.Context) ([]model.FileEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/", nil)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "httpdownload: build list request", err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "httpdownload: list", err)
	}
	defer resp.Body.Close()

	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.New(qerrors.KindProtocol, "httpdownload: decode list response", err)
	}

	out := make([]model.FileEntry, len(parsed.Files))
	for i, e := range parsed.Files {
		out[i] = model.FileEntry{Name: e.Name, Size: e.Size}
	}
	return out, nil
}

// DownloadFile downloads a single named file into saveDir, resuming from
// any existing partial prefix, retrying on network error, and verifying
// the result's SHA-256 against the server's /hash/{name}.
func (d *Downloader) DownloadFile(ctx context.Context, name string, saveDir string) (FileOutcome, error) {
	savePath := filepath.Join(saveDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(savePath), 0o755); err != nil {
		return FileOutcome{}, qerrors.NewFile(qerrors.KindIO, "httpdownload: create directories", name, err)
	}

	if err := d.streamWithRetry(ctx, name, savePath); err != nil {
		return FileOutcome{}, err
	}

	return d.verify(ctx, name, savePath)
}

// streamWithRetry issues the streaming GET, retrying the whole request up
// to maxAttempts times with exponential back-off (2×attempt seconds) on
// network error.
func (d *Downloader) streamWithRetry(ctx context.Context, name, savePath string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := d.streamOnce(ctx, name, savePath)
		if err == nil {
			return nil
		}
		lastErr = err
		if !qerrors.IsNetwork(err) {
			return err
		}

		select {
		case <-time.After(time.Duration(2*attempt) * backoffUnit):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (d *Downloader) streamOnce(ctx context.Context, name, savePath string) error {
	encoded := base64.RawURLEncoding.EncodeToString([]byte(name))
	url := d.baseURL + "/file_b64/" + encoded

	var resumeFrom int64
	if info, err := os.Stat(savePath); err == nil && info.Size() > 0 {
		resumeFrom = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return qerrors.NewFile(qerrors.KindNetwork, "httpdownload: build file request", name, err)
	}
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return qerrors.NewFile(qerrors.KindNetwork, "httpdownload: stream file", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		// Server reports our local copy is already at (or past) full size.
		return nil
	case http.StatusPartialContent:
		return d.writeChunks(resp.Body, savePath, name, os.O_WRONLY|os.O_APPEND)
	case http.StatusOK:
		// Either no range was requested, or the server ignored it; either
		// way the body starts at byte 0, so any partial file is discarded.
		return d.writeChunks(resp.Body, savePath, name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	default:
		return qerrors.NewFile(qerrors.KindNetwork, "httpdownload: stream file", name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}

func (d *Downloader) writeChunks(body io.Reader, savePath, name string, flag int) error {
	f, err := os.OpenFile(savePath, flag|os.O_CREATE, 0o644)
	if err != nil {
		return qerrors.NewFile(qerrors.KindIO, "httpdownload: open destination", name, err)
	}
	defer f.Close()

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return qerrors.NewFile(qerrors.KindIO, "httpdownload: write chunk", name, err)
			}
			d.mon.AddBytes(int64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return qerrors.NewFile(qerrors.KindNetwork, "httpdownload: read stream", name, readErr)
		}
	}
}

type hashResponse struct {
	Hash string `json:"hash"`
}

func (d *Downloader) verify(ctx context.Context, name, savePath string) (FileOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/hash/"+name, nil)
	if err != nil {
		return FileOutcome{}, qerrors.NewFile(qerrors.KindNetwork, "httpdownload: build hash request", name, err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return FileOutcome{}, qerrors.NewFile(qerrors.KindNetwork, "httpdownload: fetch hash", name, err)
	}
	defer resp.Body.Close()

	var parsed hashResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return FileOutcome{}, qerrors.NewFile(qerrors.KindProtocol, "httpdownload: decode hash response", name, err)
	}

	localHash, err := pathutil.SHA256File(savePath)
	if err != nil {
		return FileOutcome{}, qerrors.NewFile(qerrors.KindIO, "httpdownload: hash local file", name, err)
	}

	outcome := FileOutcome{Name: name, Integrity: model.IntegrityVerified}
	if localHash != parsed.Hash {
		outcome.Integrity = model.IntegrityMismatch
	}
	return outcome, nil
}

// Progress is a global download progress sample across a whole selection.
type Progress struct {
	DoneBytes  int64
	TotalBytes int64
	Speed      float64
}

// DownloadFiles walks selection in order, downloading each into saveDir
// and reporting outcomes on the returned channel, which is closed when
// every file has been attempted.
func (d *Downloader) DownloadFiles(ctx context.Context, selection []model.FileEntry, saveDir string) <-chan FileOutcome {
	var total int64
	for _, f := range selection {
		total += f.Size
	}
	d.mon.SetTotalSize(total)

	outcomes := make(chan FileOutcome, len(selection))
	go func() {
		defer close(outcomes)
		d.mon.StartTransfer()
		defer d.mon.EndTransfer()

		for _, f := range selection {
			outcome, err := d.DownloadFile(ctx, f.Name, saveDir)
			if err != nil {
				outcome = FileOutcome{Name: f.Name, Integrity: model.IntegritySkipped}
			}
			outcomes <- outcome
		}
	}()
	return outcomes
}
