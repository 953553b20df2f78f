// Package room tracks room membership: join requests, the relay's
// acknowledgment, and the membership events that drive call lifecycle.
package room

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/chatter-io/chatter/internal/signal"
	"github.com/chatter-io/chatter/internal/util"
)

var (
	// ErrEmptyRoom is the validation error for a blank room id. No network
	// call is issued.
	ErrEmptyRoom = errors.New("room id must not be empty")
	// ErrChannelNotConnected is the validation error for joining while the
	// signal channel is not connected.
	ErrChannelNotConnected = errors.New("signal channel not connected")
	// ErrJoinRejected means the relay acknowledged the join without a peer
	// id — the room refused us. Distinct from a network failure.
	ErrJoinRejected = errors.New("relay rejected the join")
	// ErrJoinInProgress means a previous join has not been acknowledged yet.
	ErrJoinInProgress = errors.New("join already in progress")
)

// Channel is what the session needs from the signal channel.
type Channel interface {
	Send(signal.Message) error
	Phase() signal.Phase
}

// Hooks receive membership events. The owning session wires them to the
// negotiation engine (a peer leaving or ending the call must tear down any
// active connection) and to the UI notifier.
type Hooks struct {
	PeerJoined func(userID string)
	PeerLeft   func(userID string)
	CallEnded  func(userID string)
}

// Session tracks the membership state of at most one room.
type Session struct {
	ch    Channel
	hooks Hooks

	mu     sync.Mutex
	roomID string
	peerID string
	joined bool
	ack    chan error // pending join; nil when no join is in flight
}

// NewSession creates a session on the given channel.
func NewSession(ch Channel, hooks Hooks) *Session {
	return &Session{ch: ch, hooks: hooks}
}

// Join requests membership in the given room and blocks until the relay
// acknowledges it, exactly once per request: nil when the ack carries our
// peer id, ErrJoinRejected when it does not. Validation failures (blank id,
// channel not connected) return synchronously without a network call.
func (s *Session) Join(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyRoom
	}
	if s.ch.Phase() != signal.PhaseConnected {
		return ErrChannelNotConnected
	}

	s.mu.Lock()
	if s.ack != nil {
		s.mu.Unlock()
		return ErrJoinInProgress
	}
	ack := make(chan error, 1)
	s.ack = ack
	s.roomID = id
	s.mu.Unlock()

	if err := s.ch.Send(signal.NewJoin(id)); err != nil {
		s.mu.Lock()
		s.ack = nil
		s.roomID = ""
		s.mu.Unlock()
		return err
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		s.ack = nil
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Room returns the joined room id. Satisfies the engine's Membership.
func (s *Session) Room() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID, s.joined
}

// PeerID returns the identity assigned by the relay on join.
func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Leave clears all membership state. Called on explicit leave and when the
// channel drops.
func (s *Session) Leave() {
	s.mu.Lock()
	s.roomID = ""
	s.peerID = ""
	s.joined = false
	s.ack = nil
	s.mu.Unlock()
}

// HandleRoomJoined resolves the pending join from the relay's ack. An ack
// without a peer id is a rejection; an ack with no join in flight is
// ignored.
func (s *Session) HandleRoomJoined(msg signal.Message) {
	s.mu.Lock()
	ack := s.ack
	s.ack = nil
	if ack == nil {
		s.mu.Unlock()
		return
	}
	if msg.PeerID == "" {
		s.roomID = ""
		s.joined = false
		s.mu.Unlock()
		ack <- ErrJoinRejected
		return
	}
	s.peerID = msg.PeerID
	s.joined = true
	util.LogInfo("joined room %s as %s", s.roomID, s.peerID)
	s.mu.Unlock()
	ack <- nil
}

// HandleUserJoined forwards a peer arrival.
func (s *Session) HandleUserJoined(msg signal.Message) {
	if s.hooks.PeerJoined != nil {
		s.hooks.PeerJoined(msg.UserID)
	}
}

// HandleUserLeft forwards a peer departure. The hook must tear down any
// active call with that peer.
func (s *Session) HandleUserLeft(msg signal.Message) {
	if s.hooks.PeerLeft != nil {
		s.hooks.PeerLeft(msg.UserID)
	}
}

// HandleEndCall forwards a remote hangup.
func (s *Session) HandleEndCall(msg signal.Message) {
	if s.hooks.CallEnded != nil {
		s.hooks.CallEnded(msg.UserID)
	}
}
