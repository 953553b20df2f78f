// Package call owns the peer-connection negotiation state machine: offer and
// answer creation, description application, ICE candidate buffering, and
// teardown. It consumes the signal channel for relay and the media source
// for local tracks, and produces the remote stream handle plus phase
// transitions for the UI layer.
package call

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/chatter-io/chatter/internal/media"
	"github.com/chatter-io/chatter/internal/signal"
	"github.com/chatter-io/chatter/internal/util"
)

// Precondition errors for StartOffer. None of them has a side effect.
var (
	ErrNoLocalMedia        = errors.New("local media is not active")
	ErrNotInRoom           = errors.New("no room joined")
	ErrChannelNotConnected = errors.New("signal channel not connected")
)

// Phase is the observable negotiation state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOffering
	PhaseAnswering
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOffering:
		return "offering"
	case PhaseAnswering:
		return "answering"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Sender relays outbound signaling messages. *signal.Channel satisfies it.
type Sender interface {
	Send(signal.Message) error
	Phase() signal.Phase
}

// Membership reports the current room. *room.Session satisfies it.
type Membership interface {
	Room() (id string, joined bool)
}

// RemoteStream accumulates the tracks received from the remote peer during
// one negotiation round. It is replaced wholesale on every new round and
// cleared on close.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

// Tracks returns the remote tracks received so far.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Config wires an Engine to its collaborators.
type Config struct {
	Sender       Sender
	Membership   Membership
	Media        *media.Source
	NewTransport TransportFactory
}

// Engine is the negotiation state machine. All mutations are serialized
// under one mutex; transport callbacks re-enter through methods that take it,
// carrying the generation they were registered under so results of a
// superseded negotiation are discarded.
//
// Registered observers are invoked outside the engine's lock but must not
// block for long; they run on the event-delivery goroutines.
type Engine struct {
	sender       Sender
	membership   Membership
	media        *media.Source
	newTransport TransportFactory

	mu         sync.Mutex
	phase      Phase
	gen        uint64
	pc         PeerTransport
	room       string
	remotePeer string
	remoteSet  bool
	pending    []webrtc.ICECandidateInit
	remote     *RemoteStream

	onPhase  func(Phase)
	onRemote func(*RemoteStream) // nil stream means cleared
}

// NewEngine creates an idle engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		sender:       cfg.Sender,
		membership:   cfg.Membership,
		media:        cfg.Media,
		newTransport: cfg.NewTransport,
		phase:        PhaseIdle,
	}
}

// OnPhase registers the phase observer.
func (e *Engine) OnPhase(fn func(Phase)) {
	e.mu.Lock()
	e.onPhase = fn
	e.mu.Unlock()
}

// OnRemoteStream registers the remote stream observer. It fires with the
// stream handle whenever a remote track arrives and with nil when the
// connection closes.
func (e *Engine) OnRemoteStream(fn func(*RemoteStream)) {
	e.mu.Lock()
	e.onRemote = fn
	e.mu.Unlock()
}

// Phase returns the current negotiation phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// RemoteStream returns the active remote stream handle, or nil.
func (e *Engine) RemoteStream() *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// StartOffer begins a call: creates a fresh peer connection, attaches the
// local tracks, and relays an offer tagged with the current room. An active
// connection is torn down first, so at most one exists at any time.
//
// Preconditions: local media active, room joined, signal channel connected.
// A precondition failure returns the matching error and has no side effect.
func (e *Engine) StartOffer() error {
	e.mu.Lock()

	if !e.media.Active() {
		e.mu.Unlock()
		return ErrNoLocalMedia
	}
	roomID, joined := e.membership.Room()
	if !joined {
		e.mu.Unlock()
		return ErrNotInRoom
	}
	if e.sender.Phase() != signal.PhaseConnected {
		e.mu.Unlock()
		return ErrChannelNotConnected
	}

	old, closed := e.teardownLocked()
	pc, err := e.beginLocked(roomID)
	if err != nil {
		e.mu.Unlock()
		e.finishTeardown(old, closed)
		return err
	}
	e.phase = PhaseOffering

	offer, err := pc.CreateOffer()
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		stale, _ := e.teardownLocked()
		e.mu.Unlock()
		e.finishTeardown(old, closed)
		e.finishTeardown(stale, true)
		return fmt.Errorf("create offer: %w", err)
	}

	e.mu.Unlock()
	e.finishTeardown(old, closed)
	e.notifyPhase(PhaseOffering)

	if err := e.sender.Send(signal.NewOffer(roomID, offer)); err != nil {
		util.LogError("relay offer: %v", err)
	}
	return nil
}

// HandleOffer reacts to an inbound offer: any existing connection is torn
// down first (including a connected call with another peer — the policy here
// is to renegotiate with the newcomer), then a fresh connection answers it.
func (e *Engine) HandleOffer(msg signal.Message) {
	if msg.SDP == nil {
		return // malformed, silently ignored
	}

	e.mu.Lock()
	roomID, joined := e.membership.Room()
	if !joined {
		e.mu.Unlock()
		return
	}

	old, closed := e.teardownLocked()
	pc, err := e.beginLocked(roomID)
	if err != nil {
		e.mu.Unlock()
		e.finishTeardown(old, closed)
		util.LogError("answer offer: %v", err)
		return
	}
	e.phase = PhaseAnswering
	e.remotePeer = msg.From

	var answer webrtc.SessionDescription
	err = pc.SetRemoteDescription(*msg.SDP)
	if err == nil {
		e.remoteSet = true
		err = e.drainCandidatesLocked(pc)
	}
	if err == nil {
		answer, err = pc.CreateAnswer()
	}
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		stale, _ := e.teardownLocked()
		e.mu.Unlock()
		e.finishTeardown(old, closed)
		e.finishTeardown(stale, true)
		util.LogError("answer offer: %v", err)
		return
	}

	e.mu.Unlock()
	e.finishTeardown(old, closed)
	e.notifyPhase(PhaseAnswering)

	if err := e.sender.Send(signal.NewAnswer(roomID, answer)); err != nil {
		util.LogError("relay answer: %v", err)
	}
}

// HandleAnswer applies an inbound answer to the connection we are offering
// on. An answer with no matching negotiation is a benign race and ignored.
func (e *Engine) HandleAnswer(msg signal.Message) {
	if msg.SDP == nil {
		return
	}

	e.mu.Lock()
	if e.pc == nil || e.phase != PhaseOffering {
		e.mu.Unlock()
		return
	}
	if msg.From != "" {
		e.remotePeer = msg.From
	}

	err := e.pc.SetRemoteDescription(*msg.SDP)
	if err == nil {
		e.remoteSet = true
		err = e.drainCandidatesLocked(e.pc)
	}
	if err != nil {
		stale, _ := e.teardownLocked()
		e.mu.Unlock()
		e.finishTeardown(stale, true)
		util.LogError("apply answer: %v", err)
	} else {
		e.mu.Unlock()
	}
}

// HandleCandidate applies an inbound ICE candidate. With no active
// connection it is a no-op (the connection may have closed before a
// straggling candidate arrived). Before the remote description is set,
// candidates are buffered in receipt order and drained afterwards.
func (e *Engine) HandleCandidate(msg signal.Message) {
	if msg.Candidate == nil {
		return
	}

	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return
	}
	if !e.remoteSet {
		e.pending = append(e.pending, *msg.Candidate)
		e.mu.Unlock()
		return
	}

	if err := e.pc.AddICECandidate(*msg.Candidate); err != nil {
		stale, _ := e.teardownLocked()
		e.mu.Unlock()
		e.finishTeardown(stale, true)
		util.LogError("add candidate: %v", err)
		return
	}
	e.mu.Unlock()
}

// Hangup ends the call locally: the connection is released, the remote
// stream cleared, and the peer is informed with an end-call message. This is
// the only close path that emits end-call; externally-triggered closes must
// not echo the event back.
func (e *Engine) Hangup() {
	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return
	}
	roomID := e.room
	stale, _ := e.teardownLocked()
	e.mu.Unlock()
	e.finishTeardown(stale, true)

	if err := e.sender.Send(signal.NewEndCall(roomID)); err != nil {
		util.LogWarning("relay end-call: %v", err)
	}
}

// PeerHangup tears the call down after the remote peer left the room or
// ended the call. A hangup for some other peer, or with no active
// connection, is a no-op.
func (e *Engine) PeerHangup(userID string) {
	e.mu.Lock()
	if e.pc == nil {
		e.mu.Unlock()
		return
	}
	if userID != "" && e.remotePeer != "" && userID != e.remotePeer {
		e.mu.Unlock()
		return
	}
	stale, _ := e.teardownLocked()
	e.mu.Unlock()
	e.finishTeardown(stale, true)
}

// Teardown silently discards any active negotiation. Used by the owning
// session on channel loss and on shutdown; nothing is sent to the peer.
func (e *Engine) Teardown() {
	e.mu.Lock()
	stale, closed := e.teardownLocked()
	e.mu.Unlock()
	e.finishTeardown(stale, closed)
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// beginLocked creates the fresh PeerConnectionState for a negotiation round:
// a new transport with callbacks bound to this round's generation, local
// tracks attached when capture is active.
func (e *Engine) beginLocked(roomID string) (PeerTransport, error) {
	pc, err := e.newTransport()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	e.gen++
	gen := e.gen
	e.pc = pc
	e.room = roomID
	e.remote = &RemoteStream{}
	e.remoteSet = false
	e.pending = nil
	e.remotePeer = ""

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		e.localCandidate(gen, roomID, c)
	})
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		e.transportState(gen, st)
	})
	pc.OnTrack(func(t *webrtc.TrackRemote) {
		e.remoteTrack(gen, t)
	})

	if stream := e.media.Stream(); stream != nil {
		for _, track := range stream.Tracks() {
			if err := pc.AddTrack(track); err != nil {
				pc.Close()
				e.resetLocked()
				return nil, fmt.Errorf("attach local track: %w", err)
			}
		}
	}
	return pc, nil
}

// teardownLocked discards the active negotiation state. The transport is
// returned so the caller can close it outside the lock.
func (e *Engine) teardownLocked() (PeerTransport, bool) {
	if e.pc == nil {
		return nil, false
	}
	pc := e.pc
	e.resetLocked()
	e.phase = PhaseClosed
	return pc, true
}

func (e *Engine) resetLocked() {
	e.gen++
	e.pc = nil
	e.remoteSet = false
	e.pending = nil
	e.remote = nil
	e.remotePeer = ""
}

// finishTeardown closes a transport handed out by teardownLocked and tells
// the observers the connection and remote stream are gone.
func (e *Engine) finishTeardown(pc PeerTransport, closed bool) {
	if !closed {
		return
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			util.LogDebug("close peer connection: %v", err)
		}
	}
	e.notifyRemote(nil)
	e.notifyPhase(PhaseClosed)
}

// drainCandidatesLocked applies buffered candidates in receipt order. Called
// right after the remote description is set.
func (e *Engine) drainCandidatesLocked(pc PeerTransport) error {
	queued := e.pending
	e.pending = nil
	for _, c := range queued {
		if err := pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("apply buffered candidate: %w", err)
		}
	}
	return nil
}

// localCandidate streams a gathered candidate to the peer, unless this
// negotiation round has been superseded.
func (e *Engine) localCandidate(gen uint64, roomID string, c webrtc.ICECandidateInit) {
	e.mu.Lock()
	stale := e.gen != gen
	e.mu.Unlock()
	if stale {
		return
	}
	if err := e.sender.Send(signal.NewCandidate(roomID, c)); err != nil {
		util.LogDebug("relay candidate: %v", err)
	}
}

// transportState republishes the transport's own connection state. Reaching
// connected is observed here, not computed; a failed transport tears the
// call down.
func (e *Engine) transportState(gen uint64, st webrtc.PeerConnectionState) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	util.LogDebug("peer connection state: %s", st)

	switch st {
	case webrtc.PeerConnectionStateConnected:
		if e.phase == PhaseOffering || e.phase == PhaseAnswering {
			e.phase = PhaseConnected
			e.mu.Unlock()
			e.notifyPhase(PhaseConnected)
			return
		}
		e.mu.Unlock()

	case webrtc.PeerConnectionStateFailed:
		stale, closed := e.teardownLocked()
		e.mu.Unlock()
		e.finishTeardown(stale, closed)

	default:
		e.mu.Unlock()
	}
}

// remoteTrack records an inbound track on the current remote stream.
func (e *Engine) remoteTrack(gen uint64, t *webrtc.TrackRemote) {
	e.mu.Lock()
	if e.gen != gen || e.remote == nil {
		e.mu.Unlock()
		return
	}
	remote := e.remote
	e.mu.Unlock()

	remote.add(t)
	e.notifyRemote(remote)
}

func (e *Engine) notifyPhase(p Phase) {
	e.mu.Lock()
	fn := e.onPhase
	e.mu.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (e *Engine) notifyRemote(s *RemoteStream) {
	e.mu.Lock()
	fn := e.onRemote
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
