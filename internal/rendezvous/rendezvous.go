// Package rendezvous implements RendezvousClient: a minimal HTTP
// long-poll mailbox client used to exchange SDP/ICE signaling messages
// within a short room code. The external relay itself is out of scope —
// this is a pure client, dispatching incoming messages by kind into
// typed handlers.
package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emirgocuk/quickshare/internal/dns"
	"github.com/emirgocuk/quickshare/internal/qerrors"
)

// MessageKind enumerates the signaling message types the relay forwards.
type MessageKind string

const (
	KindPeerJoined MessageKind = "peer_joined"
	KindOffer      MessageKind = "offer"
	KindAnswer     MessageKind = "answer"
	KindICE        MessageKind = "ice"
)

// Message is one entry in a poll response.
type Message struct {
	Type   MessageKind     `json:"type"`
	Sender string          `json:"sender"`
	Data   json.RawMessage `json:"data"`
}

// Handlers dispatches delivered messages by kind. A nil handler is
// tolerated and simply drops messages of that kind.
type Handlers struct {
	OnPeerJoined func(sender string, data json.RawMessage)
	OnOffer      func(sender string, data json.RawMessage)
	OnAnswer     func(sender string, data json.RawMessage)
	OnICE        func(sender string, data json.RawMessage)
}

const (
	pollTimeout   = 30 * time.Second
	pollBackoff   = 2 * time.Second
	joinTimeout   = 60 * time.Second
	httpIdleSlack = 10 * time.Second
)

// Client is a RendezvousClient: one opaque session id, one room.
type Client struct {
	baseURL  string
	sid      string
	room     string
	handlers Handlers
	http     *http.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New creates a Client with a fresh session id against the given relay
// base URL. The relay host is resolved through dns.Lookup's
// system-then-public-DNS fallback before each dial, so a poisoned or
// unreachable local resolver doesn't strand every peer behind it from
// reaching the relay.
func New(baseURL string, handlers Handlers) *Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			ip, err := dns.Lookup(host)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		},
	}

	return &Client{
		baseURL:  baseURL,
		sid:      uuid.NewString(),
		handlers: handlers,
		http: &http.Client{
			Timeout:   pollTimeout + httpIdleSlack,
			Transport: transport,
		},
	}
}

// SessionID returns this client's opaque session identifier.
func (c *Client) SessionID() string {
	return c.sid
}

type joinRequest struct {
	Room string `json:"room"`
	SID  string `json:"sid"`
}

type joinResponse struct {
	Peers []string `json:"peers"`
}

// Join posts to /join with the given room code and, on success, starts
// the background poll loop. It fails with a SignalingUnavailable-kind
// error on any transport failure.
func (c *Client) Join(ctx context.Context, roomCode string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	body, err := json.Marshal(joinRequest{Room: roomCode, SID: c.sid})
	if err != nil {
		return nil, qerrors.New(qerrors.KindProtocol, "rendezvous: marshal join", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/join", bytes.NewReader(body))
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "rendezvous: build join request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "rendezvous: join", qerrors.ErrSignalingUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, qerrors.NewDetails(qerrors.KindNetwork, "rendezvous: join", qerrors.ErrSignalingUnavailable, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var parsed joinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.New(qerrors.KindProtocol, "rendezvous: decode join response", err)
	}

	c.room = roomCode

	pollCtx, pollCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = pollCancel
	c.stopped = make(chan struct{})
	c.mu.Unlock()

	go c.pollLoop(pollCtx)

	return parsed.Peers, nil
}

// pollLoop runs GET /poll in a cycle until ctx is cancelled. Each response
// is dispatched synchronously to the matching handler before the next
// poll is issued.
func (c *Client) pollLoop(ctx context.Context) {
	defer close(c.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := c.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-time.After(pollBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range messages {
			c.dispatch(msg)
		}
	}
}

type pollResponse struct {
	Messages []Message `json:"messages"`
}

func (c *Client) poll(ctx context.Context) ([]Message, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout+httpIdleSlack)
	defer cancel()

	url := fmt.Sprintf("%s/poll?sid=%s", c.baseURL, c.sid)
	req, err := http.NewRequestWithContext(pollCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "rendezvous: build poll request", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "rendezvous: poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, qerrors.NewDetails(qerrors.KindNetwork, "rendezvous: poll", fmt.Errorf("unexpected status"), fmt.Sprintf("status %d", resp.StatusCode))
	}

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, qerrors.New(qerrors.KindProtocol, "rendezvous: decode poll response", err)
	}
	return parsed.Messages, nil
}

func (c *Client) dispatch(msg Message) {
	switch msg.Type {
	case KindPeerJoined:
		if c.handlers.OnPeerJoined != nil {
			c.handlers.OnPeerJoined(msg.Sender, msg.Data)
		}
	case KindOffer:
		if c.handlers.OnOffer != nil {
			c.handlers.OnOffer(msg.Sender, msg.Data)
		}
	case KindAnswer:
		if c.handlers.OnAnswer != nil {
			c.handlers.OnAnswer(msg.Sender, msg.Data)
		}
	case KindICE:
		if c.handlers.OnICE != nil {
			c.handlers.OnICE(msg.Sender, msg.Data)
		}
	}
}

type signalRequest struct {
	Sender string          `json:"sender"`
	Type   MessageKind     `json:"type"`
	Data   json.RawMessage `json:"data"`
	Target string          `json:"target,omitempty"`
	Room   string          `json:"room"`
}

// Send posts a signaling message for kind/payload to /signal. It is
// fire-and-forget: errors are returned to the caller to log, never
// retried and never surfaced as a fatal condition.
func (c *Client) Send(kind MessageKind, payload any, targetSID string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return qerrors.New(qerrors.KindProtocol, "rendezvous: marshal signal payload", err)
	}

	body, err := json.Marshal(signalRequest{
		Sender: c.sid,
		Type:   kind,
		Data:   data,
		Target: targetSID,
		Room:   c.room,
	})
	if err != nil {
		return qerrors.New(qerrors.KindProtocol, "rendezvous: marshal signal", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/signal", bytes.NewReader(body))
	if err != nil {
		return qerrors.New(qerrors.KindNetwork, "rendezvous: build signal request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return qerrors.New(qerrors.KindNetwork, "rendezvous: send signal", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return qerrors.NewDetails(qerrors.KindNetwork, "rendezvous: send signal", fmt.Errorf("unexpected status"), fmt.Sprintf("status %d", resp.StatusCode))
	}
	return nil
}

// Close cancels the poll loop and waits for it to exit.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	stopped := c.stopped
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if stopped != nil {
		<-stopped
	}
}
