// Package signal implements the client side of the room-scoped signaling
// protocol: a reconnecting WebSocket channel and the typed messages that
// ride on it.
package signal

import (
	"github.com/pion/webrtc/v4"
)

// Event identifies the kind of signaling message.
type Event string

const (
	EventJoinRoom   Event = "join-room"
	EventRoomJoined Event = "room-joined"
	EventUserJoined Event = "user-joined"
	EventUserLeft   Event = "user-left"
	EventOffer      Event = "offer"
	EventAnswer     Event = "answer"
	EventCandidate  Event = "ice-candidate"
	EventEndCall    Event = "end-call"
)

// Message is the JSON envelope exchanged with the relay. Each event uses only
// the fields its payload needs; a Message is never mutated after construction.
//
// Outbound messages carry Room so the relay can fan out; the relay stamps
// From/UserID on the inbound side so a payload is attributable to a peer.
type Message struct {
	Event  Event  `json:"event"`
	Room   string `json:"room,omitempty"`
	PeerID string `json:"id,omitempty"`     // room-joined ack: our identity, absent on failure
	UserID string `json:"userId,omitempty"` // membership events: the other peer
	From   string `json:"from,omitempty"`   // relayed offer: originating peer

	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

// NewJoin builds the join-room request for the given room.
func NewJoin(room string) Message {
	return Message{Event: EventJoinRoom, Room: room}
}

// NewOffer builds an offer message carrying the local SDP.
func NewOffer(room string, sdp webrtc.SessionDescription) Message {
	return Message{Event: EventOffer, Room: room, SDP: &sdp}
}

// NewAnswer builds an answer message carrying the local SDP.
func NewAnswer(room string, sdp webrtc.SessionDescription) Message {
	return Message{Event: EventAnswer, Room: room, SDP: &sdp}
}

// NewCandidate builds an ice-candidate message for a gathered local candidate.
func NewCandidate(room string, c webrtc.ICECandidateInit) Message {
	return Message{Event: EventCandidate, Room: room, Candidate: &c}
}

// NewEndCall builds the locally-initiated hangup notification.
func NewEndCall(room string) Message {
	return Message{Event: EventEndCall, Room: room}
}
