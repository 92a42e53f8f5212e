// Package httpshare implements HttpFileServer: a small HTTP server bound
// to localhost that presents the currently published file set, with
// range-request downloads, a live-streamed zip of the whole catalogue,
// and a per-file checksum endpoint.
package httpshare

import (
	"archive/zip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/emirgocuk/quickshare/internal/model"
	"github.com/emirgocuk/quickshare/internal/monitor"
)

// streamChunkSize is the fixed buffer size used when copying file bytes
// into a response.
const streamChunkSize = 64 * 1024

// Server presents a fixed file catalogue over HTTP. It holds no other
// state — the catalogue is supplied once at construction and never
// mutated.
type Server struct {
	files map[string]model.FileEntry
	order []model.FileEntry
	mon   *monitor.TransferMonitor
	mux   *http.ServeMux
}

// New builds a Server presenting files, reporting bytes written to mon.
func New(files []model.FileEntry, mon *monitor.TransferMonitor) *Server {
	s := &Server{
		files: make(map[string]model.FileEntry, len(files)),
		order: files,
		mon:   mon,
		mux:   http.NewServeMux(),
	}
	for _, f := range files {
		s.files[f.Name] = f
	}

	s.mux.HandleFunc("/", s.handleList)
	s.mux.HandleFunc("/file_b64/", s.handleFileB64)
	s.mux.HandleFunc("/download", s.handleDownloadZip)
	s.mux.HandleFunc("/hash/", s.handleHash)
	return s
}

// Handler returns the server's http.Handler for an engine-owned
// http.Server and listener to serve.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type listEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type listResponse struct {
	Files []listEntry `json:"files"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	resp := listResponse{Files: make([]listEntry, 0, len(s.order))}
	for _, f := range s.order {
		resp.Files = append(resp.Files, listEntry{Name: f.Name, Size: f.Size})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) lookupByB64(encoded string) (model.FileEntry, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return model.FileEntry{}, false
	}
	f, ok := s.files[string(raw)]
	return f, ok
}

func (s *Server) handleFileB64(w http.ResponseWriter, r *http.Request) {
	encoded := strings.TrimPrefix(r.URL.Path, "/file_b64/")
	f, ok := s.lookupByB64(encoded)
	if !ok {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(f.Path)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	size := info.Size()

	file, err := os.Open(f.Path)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	defer file.Close()

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.Header().Set("Accept-Ranges", "bytes")
		s.copyStream(w, file, size)
		return
	}

	start, end, ok := parseRange(rangeHeader, size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		http.Error(w, "seek failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusPartialContent)
	s.copyStream(w, io.LimitReader(file, end-start+1), end-start+1)
}

// parseRange parses a single "bytes=start-end" range header against size.
// Only a single range is supported, which is all a resume needs.
func parseRange(header string, size int64) (start, end int64, ok bool) {
	spec := strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		// suffix range: bytes=-N
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		return start, size - 1, true
	}

	s, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || s < 0 || s >= size {
		return 0, 0, false
	}
	start = s

	if parts[1] == "" {
		return start, size - 1, true
	}
	e, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || e < start {
		return 0, 0, false
	}
	if e >= size {
		e = size - 1
	}
	return start, e, true
}

// copyStream pumps src to w in fixed chunks, reporting bytes to mon as
// they are written.
func (s *Server) copyStream(w io.Writer, src io.Reader, _ int64) {
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			s.mon.AddBytes(int64(n))
		}
		if readErr != nil {
			return
		}
	}
}

func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="download.zip"`)

	zw := zip.NewWriter(w)
	defer zw.Close()

	for _, f := range s.order {
		if err := s.addZipEntry(zw, f); err != nil {
			return
		}
	}
}

func (s *Server) addZipEntry(zw *zip.Writer, f model.FileEntry) error {
	file, err := os.Open(f.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	entry, err := zw.Create(f.Name)
	if err != nil {
		return err
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if _, err := entry.Write(buf[:n]); err != nil {
				return err
			}
			s.mon.AddBytes(int64(n))
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

type hashResponse struct {
	Hash string `json:"hash"`
}

func (s *Server) handleHash(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/hash/")
	f, ok := s.files[name]
	if !ok {
		http.NotFound(w, r)
		return
	}

	file, err := os.Open(f.Path)
	if err != nil {
		http.Error(w, "file unavailable", http.StatusNotFound)
		return
	}
	defer file.Close()

	hash, err := streamingSHA256(file)
	if err != nil {
		http.Error(w, "hash failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(hashResponse{Hash: hash})
}
