package p2p

import (
	"encoding/json"

	pion "github.com/pion/webrtc/v4"

	"github.com/emirgocuk/quickshare/internal/config"
	"github.com/emirgocuk/quickshare/internal/qerrors"
)

// ChannelLabel is the single DataChannel every PeerSession negotiates.
const ChannelLabel = "fileTransfer"

// newPeerConnection builds a *pion.PeerConnection configured from cfg's
// STUN/TURN servers and relay policy.
func newPeerConnection(cfg *config.Config) (*pion.PeerConnection, error) {
	iceServers := []pion.ICEServer{{URLs: cfg.GetSTUNServers()}}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := pion.ICETransportPolicyAll
	if turnServers != nil && cfg.ForceRelay {
		policy = pion.ICETransportPolicyRelay
	}

	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: create peer connection", err)
	}
	return pc, nil
}

// createDataChannel opens the ordered, reliable fileTransfer channel.
func createDataChannel(pc *pion.PeerConnection) (*pion.DataChannel, error) {
	ordered := true
	dc, err := pc.CreateDataChannel(ChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: create data channel", err)
	}
	return dc, nil
}

// createOffer generates and sets a local offer, returning the resulting
// session description to be signaled to the peer.
func createOffer(pc *pion.PeerConnection) (*pion.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: create offer", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: set local description", err)
	}
	return pc.LocalDescription(), nil
}

// createAnswer applies a remote offer and generates a local answer.
func createAnswer(pc *pion.PeerConnection, offer pion.SessionDescription) (*pion.SessionDescription, error) {
	if err := pc.SetRemoteDescription(offer); err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: create answer", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return nil, qerrors.New(qerrors.KindNetwork, "p2p: set local description", err)
	}
	return pc.LocalDescription(), nil
}

// applyAnswer sets a received answer as the remote description on a
// sender's peer connection.
func applyAnswer(pc *pion.PeerConnection, answer pion.SessionDescription) error {
	if err := pc.SetRemoteDescription(answer); err != nil {
		return qerrors.New(qerrors.KindNetwork, "p2p: apply answer", err)
	}
	return nil
}

// applyICECandidate adds a remote ICE candidate delivered through the
// rendezvous relay.
func applyICECandidate(pc *pion.PeerConnection, raw json.RawMessage) error {
	var ice pion.ICECandidateInit
	if err := json.Unmarshal(raw, &ice); err != nil {
		return qerrors.New(qerrors.KindProtocol, "p2p: parse ice candidate", err)
	}
	if err := pc.AddICECandidate(ice); err != nil {
		return qerrors.New(qerrors.KindNetwork, "p2p: add ice candidate", err)
	}
	return nil
}

// onLocalICECandidate registers a callback invoked with each locally
// gathered ICE candidate, ready to hand to a rendezvous Client.Send call.
func onLocalICECandidate(pc *pion.PeerConnection, fn func(pion.ICECandidateInit)) {
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

// sdpTypeString renders a pion.SDPType the way the rendezvous wire
// contract expects ("offer" / "answer").
func sdpTypeString(t pion.SDPType) string {
	return t.String()
}
