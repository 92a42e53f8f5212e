// Command quickshare-selftest drives a complete P2P share end to end over
// loopback: an in-process rendezvous relay, a sender Engine publishing a
// handful of temp files, and a receiver Engine downloading them, with the
// resulting bytes hash-verified against the originals. It exists to
// exercise internal/engine's wiring as a runnable program; no CLI front
// end ships otherwise.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/emirgocuk/quickshare/internal/config"
	"github.com/emirgocuk/quickshare/internal/engine"
	"github.com/emirgocuk/quickshare/internal/logging"
	"github.com/emirgocuk/quickshare/internal/monitor"
	"github.com/emirgocuk/quickshare/internal/p2p"
	"github.com/emirgocuk/quickshare/internal/pathutil"
	"github.com/emirgocuk/quickshare/internal/utils"
	"github.com/emirgocuk/quickshare/internal/version"
)

func main() {
	logging.Init()
	fmt.Printf("quickshare-selftest %s\n", version.Version)
	if err := run(); err != nil {
		slog.Error("selftest failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("selftest: OK")
}

func run() error {
	relay := newRelay()
	srv := httptest(relay)
	defer srv.Close()

	srcDir, err := os.MkdirTemp("", "quickshare-selftest-src")
	if err != nil {
		return err
	}
	defer os.RemoveAll(srcDir)
	dstDir, err := os.MkdirTemp("", "quickshare-selftest-dst")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dstDir)

	files := map[string]string{
		"hello.txt": "hello from quickshare\n",
		"notes.txt": "a second file, slightly longer, to exercise multi-file catalogues\n",
	}
	var paths []string
	for name, body := range files {
		p := filepath.Join(srcDir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			return err
		}
		paths = append(paths, p)
	}

	senderCfg, err := config.Load(config.Options{RendezvousURL: srv.URL})
	if err != nil {
		return err
	}
	receiverCfg, err := config.Load(config.Options{RendezvousURL: srv.URL})
	if err != nil {
		return err
	}

	sender := engine.New(senderCfg, monitor.New(), nil)
	receiver := engine.New(receiverCfg, monitor.New(), nil)
	defer sender.Stop()
	defer receiver.Stop()

	code, err := sender.StartDirect(paths, "")
	if err != nil {
		return fmt.Errorf("start direct: %w", err)
	}
	fmt.Printf("sender room code: %s\n", code)

	listing, err := receiver.ConnectByCode(code, "", dstDir)
	if err != nil {
		return fmt.Errorf("connect by code: %w", err)
	}

	names := make([]string, len(listing.Files))
	for i, f := range listing.Files {
		names[i] = f.Name
	}
	if err := receiver.RequestDownload(p2p.FileSelection{Names: names}, dstDir); err != nil {
		return fmt.Errorf("request download: %w", err)
	}

	if err := waitForCompletion(receiver.Monitor(), listing.TotalSize, 30*time.Second); err != nil {
		return err
	}

	for _, path := range paths {
		name := filepath.Base(path)
		wantHash, err := pathutil.SHA256File(path)
		if err != nil {
			return err
		}
		gotHash, err := pathutil.SHA256File(filepath.Join(dstDir, name))
		if err != nil {
			return fmt.Errorf("received file missing or unreadable: %w", err)
		}
		if wantHash != gotHash {
			return fmt.Errorf("hash mismatch for %s: want %s got %s", name, wantHash, gotHash)
		}
	}

	snap := receiver.Monitor().Snapshot()
	fmt.Printf("transferred %s (last sampled speed %s)\n", utils.FormatSize(snap.TotalSent), utils.FormatSpeed(snap.CurrentSpeed))
	return nil
}

func waitForCompletion(mon *monitor.TransferMonitor, totalSize int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		snap := mon.Snapshot()
		if totalSize > 0 && snap.TotalSent >= totalSize {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for transfer to complete")
}

// --- in-process rendezvous relay, implementing the same wire contract
// internal/rendezvous.Client speaks against an external relay ---

type relayMessage struct {
	Type   string          `json:"type"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

type relay struct {
	mu        sync.Mutex
	rooms     map[string][]string
	mailboxes map[string]chan relayMessage
}

func newRelay() *relay {
	return &relay{
		rooms:     make(map[string][]string),
		mailboxes: make(map[string]chan relayMessage),
	}
}

func (r *relay) mailbox(sid string) chan relayMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb, ok := r.mailboxes[sid]
	if !ok {
		mb = make(chan relayMessage, 32)
		r.mailboxes[sid] = mb
	}
	return mb
}

func (r *relay) handleJoin(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Room string `json:"room"`
		SID  string `json:"sid"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.mu.Lock()
	existing := append([]string(nil), r.rooms[body.Room]...)
	r.rooms[body.Room] = append(r.rooms[body.Room], body.SID)
	r.mu.Unlock()

	for _, peer := range existing {
		r.mailbox(peer) <- relayMessage{Type: "peer_joined", Sender: body.SID, Data: json.RawMessage("{}")}
	}
	r.mailbox(body.SID)

	writeJSON(w, map[string]any{"peers": existing})
}

func (r *relay) handlePoll(w http.ResponseWriter, req *http.Request) {
	sid := req.URL.Query().Get("sid")
	mb := r.mailbox(sid)

	var messages []relayMessage
	select {
	case m := <-mb:
		messages = append(messages, m)
	case <-time.After(25 * time.Second):
		writeJSON(w, map[string]any{"messages": []relayMessage{}})
		return
	}
	for {
		select {
		case m := <-mb:
			messages = append(messages, m)
			continue
		default:
		}
		break
	}
	writeJSON(w, map[string]any{"messages": messages})
}

func (r *relay) handleSignal(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Sender string          `json:"sender"`
		Type   string          `json:"type"`
		Data   json.RawMessage `json:"data"`
		Target string          `json:"target"`
		Room   string          `json:"room"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Target != "" {
		r.mailbox(body.Target) <- relayMessage{Type: body.Type, Sender: body.Sender, Data: body.Data}
	}
	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type testServer struct {
	URL      string
	listener net.Listener
	server   *http.Server
}

func (s *testServer) Close() {
	_ = s.server.Close()
	_ = s.listener.Close()
}

func httptest(r *relay) *testServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/join", r.handleJoin)
	mux.HandleFunc("/poll", r.handlePoll)
	mux.HandleFunc("/signal", r.handleSignal)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(listener) }()

	return &testServer{
		URL:      fmt.Sprintf("http://%s", listener.Addr().String()),
		listener: listener,
		server:   srv,
	}
}
