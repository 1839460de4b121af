package meshclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultICEServers is a public STUN server, enough for same-network tests.
var DefaultICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// ParseICEServers turns a comma-separated URL list into ICE servers sharing
// one set of credentials. Empty input yields nil.
func ParseICEServers(raw, username, credential string) []webrtc.ICEServer {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	username = strings.TrimSpace(username)
	credential = strings.TrimSpace(credential)

	entries := strings.Split(raw, ",")
	servers := make([]webrtc.ICEServer, 0, len(entries))
	for _, entry := range entries {
		url := strings.TrimSpace(entry)
		if url == "" {
			continue
		}
		server := webrtc.ICEServer{URLs: []string{url}}
		if username != "" {
			server.Username = username
		}
		if credential != "" {
			server.Credential = credential
		}
		servers = append(servers, server)
	}
	return servers
}

// PionPeer adapts a pion PeerConnection to Peer.
type PionPeer struct {
	pc *webrtc.PeerConnection
}

// PionSetup prepares a fresh connection, e.g. adds tracks or data channels.
type PionSetup func(remoteID string, pc *webrtc.PeerConnection) error

// NewPionFactory builds pion-backed peers with the given configuration.
func NewPionFactory(cfg webrtc.Configuration, setup PionSetup) PeerFactory {
	return func(remoteID string, onCandidate func(json.RawMessage)) (Peer, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil {
				return
			}
			b, err := json.Marshal(c.ToJSON())
			if err != nil {
				return
			}
			onCandidate(b)
		})
		if setup != nil {
			if err := setup(remoteID, pc); err != nil {
				_ = pc.Close()
				return nil, err
			}
		}
		return &PionPeer{pc: pc}, nil
	}
}

func (p *PionPeer) PeerConnection() *webrtc.PeerConnection { return p.pc }

func (p *PionPeer) CreateOffer(context.Context) (json.RawMessage, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (p *PionPeer) Answer(_ context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, err
	}
	if err := p.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (p *PionPeer) SetAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(answer)
}

func (p *PionPeer) AddCandidate(raw json.RawMessage) error {
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil {
		return err
	}
	return p.pc.AddICECandidate(c)
}

func (p *PionPeer) Close() error { return p.pc.Close() }
