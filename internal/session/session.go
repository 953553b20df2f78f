// Package session owns one user's calling session: it builds the signal
// channel, room membership, media source, and negotiation engine, wires
// their lifecycles together, and exposes explicit Open/Close instead of
// leaving teardown to any UI framework.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chatter-io/chatter/internal/call"
	"github.com/chatter-io/chatter/internal/media"
	"github.com/chatter-io/chatter/internal/room"
	"github.com/chatter-io/chatter/internal/signal"
	"github.com/chatter-io/chatter/internal/util"
)

// Notifier is the user-notification collaborator (toasts in the original
// client). Implementations render; the session only decides what to say.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// Config assembles a Session.
type Config struct {
	RelayURL          string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ICEServers        []string

	Device   media.CaptureDevice // defaults to media.NewSampleDevice("")
	Notifier Notifier            // optional
}

// Session wires the four components of a call session together.
type Session struct {
	ch       *signal.Channel
	rooms    *room.Session
	source   *media.Source
	engine   *call.Engine
	notifier Notifier
}

// New builds the session and registers every inbound event handler once.
// The channel is not opened yet; call Open.
func New(cfg Config) *Session {
	device := cfg.Device
	if device == nil {
		device = media.NewSampleDevice("")
	}

	s := &Session{
		ch: signal.NewChannel(signal.Options{
			URL:               cfg.RelayURL,
			ReconnectAttempts: cfg.ReconnectAttempts,
			ReconnectDelay:    cfg.ReconnectDelay,
		}),
		source:   media.NewSource(device),
		notifier: cfg.Notifier,
	}

	s.rooms = room.NewSession(s.ch, room.Hooks{
		PeerJoined: func(userID string) {
			s.info(fmt.Sprintf("%s joined", userID))
		},
		PeerLeft: func(userID string) {
			s.info(fmt.Sprintf("%s left the room", userID))
			s.engine.PeerHangup(userID)
		},
		CallEnded: func(userID string) {
			s.info(fmt.Sprintf("%s ended the call", userID))
			s.engine.PeerHangup(userID)
		},
	})

	s.engine = call.NewEngine(call.Config{
		Sender:       s.ch,
		Membership:   s.rooms,
		Media:        s.source,
		NewTransport: call.NewPeerTransport(cfg.ICEServers),
	})

	// Stopping capture mid-call is a local hangup: the peer must be told.
	s.source.OnStop(func() {
		s.engine.Hangup()
	})

	// A channel drop fails any in-progress negotiation and clears room
	// state; both must be re-established once the channel is back.
	s.ch.OnPhase(func(p signal.Phase) {
		util.LogDebug("signal channel: %s", p)
		if p == signal.PhaseDisconnected || p == signal.PhaseError {
			s.engine.Teardown()
			s.rooms.Leave()
		}
	})

	s.ch.Handle(signal.EventRoomJoined, s.rooms.HandleRoomJoined)
	s.ch.Handle(signal.EventUserJoined, s.rooms.HandleUserJoined)
	s.ch.Handle(signal.EventUserLeft, s.rooms.HandleUserLeft)
	s.ch.Handle(signal.EventEndCall, s.rooms.HandleEndCall)
	s.ch.Handle(signal.EventOffer, s.engine.HandleOffer)
	s.ch.Handle(signal.EventAnswer, s.engine.HandleAnswer)
	s.ch.Handle(signal.EventCandidate, s.engine.HandleCandidate)

	return s
}

// Open connects the signal channel and blocks until it is connected or its
// reconnect attempts are exhausted.
func (s *Session) Open(ctx context.Context) error {
	if err := s.ch.Open(ctx); err != nil {
		return err
	}
	return s.ch.WaitConnected(ctx)
}

// Close tears the whole session down: hang up an active call (informing the
// peer), release capture, clear membership, close the channel.
func (s *Session) Close() error {
	s.engine.Hangup()
	s.engine.Teardown()
	s.source.Stop()
	s.rooms.Leave()
	return s.ch.Close()
}

// Join joins a room; see room.Session.Join for the contract.
func (s *Session) Join(ctx context.Context, id string) error {
	return s.rooms.Join(ctx, id)
}

// StartMedia acquires local capture.
func (s *Session) StartMedia(ctx context.Context) (*media.Stream, error) {
	return s.source.Start(ctx)
}

// StopMedia releases local capture, hanging up first if a call is active.
func (s *Session) StopMedia() {
	s.source.Stop()
}

// StartCall begins offer negotiation with the peer in the current room.
func (s *Session) StartCall() error {
	return s.engine.StartOffer()
}

// Hangup ends the active call.
func (s *Session) Hangup() {
	s.engine.Hangup()
}

// Channel exposes the signal channel for status observation.
func (s *Session) Channel() *signal.Channel { return s.ch }

// Rooms exposes membership state.
func (s *Session) Rooms() *room.Session { return s.rooms }

// Engine exposes the negotiation engine for phase/stream observation.
func (s *Session) Engine() *call.Engine { return s.engine }

// Media exposes the capture source.
func (s *Session) Media() *media.Source { return s.source }

func (s *Session) info(msg string) {
	if s.notifier != nil {
		s.notifier.Info(msg)
		return
	}
	util.LogInfo("%s", msg)
}
