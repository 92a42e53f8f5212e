package rendezvous

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emirgocuk/quickshare/internal/qerrors"
)

// fakeRelay is a minimal stand-in for the external rendezvous relay: it
// accepts /join, queues one pending message to deliver on the next
// /poll, and records /signal bodies.
type fakeRelay struct {
	mu       sync.Mutex
	pending  []Message
	signals  []signalRequest
	joined   []joinRequest
	pollHits int32
}

func (f *fakeRelay) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.joined = append(f.joined, req)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(joinResponse{Peers: []string{}})
	})
	mux.HandleFunc("/poll", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.pollHits, 1)
		f.mu.Lock()
		msgs := f.pending
		f.pending = nil
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(pollResponse{Messages: msgs})
	})
	mux.HandleFunc("/signal", func(w http.ResponseWriter, r *http.Request) {
		var req signalRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.signals = append(f.signals, req)
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (f *fakeRelay) queue(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, msg)
}

func TestJoinStartsPollLoopAndDispatchesMessages(t *testing.T) {
	relay := &fakeRelay{}
	server := httptest.NewServer(relay.handler())
	defer server.Close()

	var gotOffer bool
	var mu sync.Mutex
	done := make(chan struct{})

	c := New(server.URL, Handlers{
		OnOffer: func(sender string, data json.RawMessage) {
			mu.Lock()
			gotOffer = true
			mu.Unlock()
			close(done)
		},
	})
	defer c.Close()

	_, err := c.Join(context.Background(), "123456")
	require.NoError(t, err)

	relay.queue(Message{Type: KindOffer, Sender: "peer-a", Data: json.RawMessage(`{"sdp":"x"}`)})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("offer handler was never invoked")
	}

	mu.Lock()
	require.True(t, gotOffer)
	mu.Unlock()

	require.Len(t, relay.joined, 1)
	require.Equal(t, "123456", relay.joined[0].Room)
	require.Equal(t, c.SessionID(), relay.joined[0].SID)
}

func TestSendPostsSignalRequest(t *testing.T) {
	relay := &fakeRelay{}
	server := httptest.NewServer(relay.handler())
	defer server.Close()

	c := New(server.URL, Handlers{})
	_, err := c.Join(context.Background(), "roomcode")
	require.NoError(t, err)
	defer c.Close()

	err = c.Send(KindICE, map[string]string{"candidate": "abc"}, "peer-b")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		relay.mu.Lock()
		defer relay.mu.Unlock()
		return len(relay.signals) == 1
	}, 2*time.Second, 50*time.Millisecond)

	relay.mu.Lock()
	defer relay.mu.Unlock()
	require.Equal(t, KindICE, relay.signals[0].Type)
	require.Equal(t, "peer-b", relay.signals[0].Target)
	require.Equal(t, "roomcode", relay.signals[0].Room)
}

func TestJoinFailsWithSignalingUnavailableOnTransportError(t *testing.T) {
	c := New("http://127.0.0.1:1", Handlers{})
	_, err := c.Join(context.Background(), "room")
	require.Error(t, err)
	require.ErrorIs(t, err, qerrors.ErrSignalingUnavailable)
}

func TestCloseStopsPolling(t *testing.T) {
	relay := &fakeRelay{}
	server := httptest.NewServer(relay.handler())
	defer server.Close()

	c := New(server.URL, Handlers{})
	_, err := c.Join(context.Background(), "room")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&relay.pollHits) > 0
	}, 2*time.Second, 20*time.Millisecond)

	c.Close()

	hitsAtClose := atomic.LoadInt32(&relay.pollHits)
	time.Sleep(200 * time.Millisecond)
	require.Equal(t, hitsAtClose, atomic.LoadInt32(&relay.pollHits))
}
