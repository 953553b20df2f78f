package call

import (
	"github.com/pion/webrtc/v4"
)

// STUN servers used when the configuration does not name any. Two-party
// ICE only — no TURN.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// PeerTransport is the peer-transport facility the engine drives. The
// production implementation wraps a pion PeerConnection; tests substitute
// an in-process fake.
type PeerTransport interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote))

	Close() error
}

// TransportFactory builds a fresh PeerTransport for each negotiation round.
type TransportFactory func() (PeerTransport, error)

// NewPeerTransport returns a factory producing pion-backed transports
// configured with the given ICE server URLs.
func NewPeerTransport(iceServers []string) TransportFactory {
	if len(iceServers) == 0 {
		iceServers = defaultSTUNServers
	}
	config := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: iceServers},
		},
	}
	return func() (PeerTransport, error) {
		pc, err := webrtc.NewPeerConnection(config)
		if err != nil {
			return nil, err
		}
		return &peerConn{pc: pc}, nil
	}
}

// peerConn adapts *webrtc.PeerConnection to PeerTransport.
type peerConn struct {
	pc *webrtc.PeerConnection
}

func (p *peerConn) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *peerConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *peerConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

func (p *peerConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(sdp)
}

func (p *peerConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *peerConn) AddTrack(t webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(t)
	return err
}

// OnICECandidate forwards gathered candidates; pion's end-of-gathering nil
// is filtered out here.
func (p *peerConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			fn(c.ToJSON())
		}
	})
}

func (p *peerConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *peerConn) OnTrack(fn func(*webrtc.TrackRemote)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(t)
	})
}

func (p *peerConn) Close() error {
	return p.pc.Close()
}
