package call

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/chatter-io/chatter/internal/media"
	"github.com/chatter-io/chatter/internal/signal"
)

// Compile-time interface checks.
var (
	_ Sender     = (*fakeSender)(nil)
	_ Membership = (*fakeMembership)(nil)
)

// fakeSender records every relayed message and reports a configurable
// channel phase.
type fakeSender struct {
	mu    sync.Mutex
	phase signal.Phase
	sent  []signal.Message
	err   error
}

func (s *fakeSender) Send(msg signal.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) Phase() signal.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *fakeSender) messages() []signal.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]signal.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *fakeSender) byEvent(ev signal.Event) []signal.Message {
	var out []signal.Message
	for _, m := range s.messages() {
		if m.Event == ev {
			out = append(out, m)
		}
	}
	return out
}

type fakeMembership struct {
	room   string
	joined bool
}

func (m *fakeMembership) Room() (string, bool) { return m.room, m.joined }

// fakeTransport is an in-process PeerTransport double.
type fakeTransport struct {
	mu         sync.Mutex
	localDesc  *webrtc.SessionDescription
	remoteDesc *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     bool

	failRemote    error
	failCandidate error

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*webrtc.TrackRemote)
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakeTransport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localDesc = &sdp
	return nil
}

func (f *fakeTransport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRemote != nil {
		return f.failRemote
	}
	f.remoteDesc = &sdp
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCandidate != nil {
		return f.failCandidate
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakeTransport) AddTrack(t webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onState = fn
}

func (f *fakeTransport) OnTrack(fn func(*webrtc.TrackRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) fireState(st webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (f *fakeTransport) fireCandidate(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (f *fakeTransport) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(f.applied))
	copy(out, f.applied)
	return out
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeDevice struct {
	opens int
}

func (d *fakeDevice) Open(ctx context.Context) ([]webrtc.TrackLocal, func(), error) {
	d.opens++
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "test")
	if err != nil {
		return nil, nil, err
	}
	return []webrtc.TrackLocal{track}, func() {}, nil
}

// testRig bundles an engine with its fakes.
type testRig struct {
	engine     *Engine
	sender     *fakeSender
	membership *fakeMembership
	source     *media.Source
	transports []*fakeTransport
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	rig := &testRig{
		sender:     &fakeSender{phase: signal.PhaseConnected},
		membership: &fakeMembership{room: "abc123", joined: true},
		source:     media.NewSource(&fakeDevice{}),
	}
	rig.engine = NewEngine(Config{
		Sender:     rig.sender,
		Membership: rig.membership,
		Media:      rig.source,
		NewTransport: func() (PeerTransport, error) {
			tr := &fakeTransport{}
			rig.transports = append(rig.transports, tr)
			return tr, nil
		},
	})
	return rig
}

func (r *testRig) startMedia(t *testing.T) {
	t.Helper()
	if _, err := r.source.Start(context.Background()); err != nil {
		t.Fatalf("start media: %v", err)
	}
}

func offerMessage(from string) signal.Message {
	return signal.Message{
		Event: signal.EventOffer,
		From:  from,
		SDP:   &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 remote-offer"},
	}
}

func answerMessage() signal.Message {
	return signal.Message{
		Event: signal.EventAnswer,
		SDP:   &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 remote-answer"},
	}
}

func candidateMessage(c string) signal.Message {
	return signal.Message{
		Event:     signal.EventCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: c},
	}
}

// ---------------------------------------------------------------------------

func TestStartOfferPreconditions(t *testing.T) {
	testCases := []struct {
		name    string
		prepare func(*testRig)
		want    error
	}{
		{
			name:    "no local media",
			prepare: func(r *testRig) {},
			want:    ErrNoLocalMedia,
		},
		{
			name: "no room joined",
			prepare: func(r *testRig) {
				r.startMedia(t)
				r.membership.joined = false
			},
			want: ErrNotInRoom,
		},
		{
			name: "channel not connected",
			prepare: func(r *testRig) {
				r.startMedia(t)
				r.sender.phase = signal.PhaseDisconnected
			},
			want: ErrChannelNotConnected,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rig := newTestRig(t)
			tc.prepare(rig)

			err := rig.engine.StartOffer()
			if !errors.Is(err, tc.want) {
				t.Fatalf("StartOffer error = %v, want %v", err, tc.want)
			}
			if len(rig.transports) != 0 {
				t.Errorf("precondition failure created %d peer connections, want 0", len(rig.transports))
			}
			if len(rig.sender.messages()) != 0 {
				t.Errorf("precondition failure sent %d messages, want 0", len(rig.sender.messages()))
			}
			if got := rig.engine.Phase(); got != PhaseIdle {
				t.Errorf("phase = %s, want idle", got)
			}
		})
	}
}

func TestStartOfferRelaysOfferWithLocalTracks(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	if got := rig.engine.Phase(); got != PhaseOffering {
		t.Fatalf("phase = %s, want offering", got)
	}
	offers := rig.sender.byEvent(signal.EventOffer)
	if len(offers) != 1 {
		t.Fatalf("sent %d offers, want 1", len(offers))
	}
	if offers[0].Room != "abc123" {
		t.Errorf("offer room = %q, want abc123", offers[0].Room)
	}
	if offers[0].SDP == nil || offers[0].SDP.SDP != "v=0 offer" {
		t.Errorf("offer does not carry the local SDP: %+v", offers[0].SDP)
	}

	tr := rig.transports[0]
	if tr.localDesc == nil {
		t.Error("local description was not set")
	}
	if len(tr.tracks) != 1 {
		t.Errorf("attached %d local tracks, want 1", len(tr.tracks))
	}
}

func TestStartOfferTearsDownActiveConnection(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("first StartOffer: %v", err)
	}
	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("second StartOffer: %v", err)
	}

	if len(rig.transports) != 2 {
		t.Fatalf("created %d peer connections, want 2", len(rig.transports))
	}
	if !rig.transports[0].isClosed() {
		t.Error("first peer connection was not closed before the second was created")
	}
	if rig.transports[1].isClosed() {
		t.Error("second peer connection should still be active")
	}
}

func TestHandleOfferAnswers(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	rig.engine.HandleOffer(offerMessage("peer-a"))

	if got := rig.engine.Phase(); got != PhaseAnswering {
		t.Fatalf("phase = %s, want answering", got)
	}
	answers := rig.sender.byEvent(signal.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("sent %d answers, want 1", len(answers))
	}
	if answers[0].SDP == nil || answers[0].SDP.SDP != "v=0 answer" {
		t.Errorf("answer does not carry the local SDP: %+v", answers[0].SDP)
	}

	tr := rig.transports[0]
	if tr.remoteDesc == nil || tr.remoteDesc.SDP != "v=0 remote-offer" {
		t.Errorf("remote description = %+v, want the inbound offer", tr.remoteDesc)
	}
	if tr.localDesc == nil {
		t.Error("local description was not set")
	}
}

func TestHandleOfferWithoutMediaStillAnswers(t *testing.T) {
	rig := newTestRig(t)

	rig.engine.HandleOffer(offerMessage("peer-a"))

	if got := rig.engine.Phase(); got != PhaseAnswering {
		t.Fatalf("phase = %s, want answering", got)
	}
	if len(rig.transports[0].tracks) != 0 {
		t.Errorf("attached %d tracks without active media, want 0", len(rig.transports[0].tracks))
	}
}

func TestHandleOfferReplacesExistingConnection(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.engine.HandleOffer(offerMessage("peer-b"))

	if !rig.transports[0].isClosed() {
		t.Error("previous connection survived an inbound offer")
	}
	if got := rig.engine.Phase(); got != PhaseAnswering {
		t.Errorf("phase = %s, want answering", got)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}

	rig.engine.HandleCandidate(candidateMessage("cand-1"))
	rig.engine.HandleCandidate(candidateMessage("cand-2"))
	rig.engine.HandleCandidate(candidateMessage("cand-3"))

	tr := rig.transports[0]
	if got := tr.appliedCandidates(); len(got) != 0 {
		t.Fatalf("%d candidates applied before remote description, want 0", len(got))
	}

	rig.engine.HandleAnswer(answerMessage())

	applied := tr.appliedCandidates()
	want := []string{"cand-1", "cand-2", "cand-3"}
	if len(applied) != len(want) {
		t.Fatalf("applied %d candidates, want %d", len(applied), len(want))
	}
	for i, c := range applied {
		if c.Candidate != want[i] {
			t.Errorf("candidate[%d] = %q, want %q (order must be receipt order)", i, c.Candidate, want[i])
		}
	}

	// Candidates after the remote description apply immediately.
	rig.engine.HandleCandidate(candidateMessage("cand-4"))
	if got := tr.appliedCandidates(); len(got) != 4 || got[3].Candidate != "cand-4" {
		t.Errorf("late candidate not applied directly: %v", got)
	}
}

func TestStrayCandidateIsNoOp(t *testing.T) {
	rig := newTestRig(t)

	rig.engine.HandleCandidate(candidateMessage("stray"))

	if len(rig.transports) != 0 {
		t.Error("stray candidate created a peer connection")
	}
	if got := rig.engine.Phase(); got != PhaseIdle {
		t.Errorf("phase = %s, want idle", got)
	}
}

func TestCandidateAfterCloseIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.engine.Hangup()

	rig.engine.HandleCandidate(candidateMessage("straggler"))

	if got := rig.transports[0].appliedCandidates(); len(got) != 0 {
		t.Errorf("straggler candidate was applied to a closed connection: %v", got)
	}
	if got := rig.engine.Phase(); got != PhaseClosed {
		t.Errorf("phase = %s, want closed", got)
	}
}

func TestHangupEmitsEndCallAndClears(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.engine.Hangup()

	ends := rig.sender.byEvent(signal.EventEndCall)
	if len(ends) != 1 {
		t.Fatalf("sent %d end-call messages, want 1", len(ends))
	}
	if ends[0].Room != "abc123" {
		t.Errorf("end-call room = %q, want abc123", ends[0].Room)
	}
	if !rig.transports[0].isClosed() {
		t.Error("peer connection not released")
	}
	if rig.engine.RemoteStream() != nil {
		t.Error("remote stream not cleared")
	}
}

func TestPeerHangupDoesNotEcho(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	rig.engine.HandleOffer(offerMessage("peer-a"))
	rig.engine.PeerHangup("peer-a")

	if !rig.transports[0].isClosed() {
		t.Error("peer connection not released")
	}
	if ends := rig.sender.byEvent(signal.EventEndCall); len(ends) != 0 {
		t.Errorf("externally-triggered close echoed %d end-call messages", len(ends))
	}
}

func TestPeerHangupForOtherPeerIgnored(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	rig.engine.HandleOffer(offerMessage("peer-a"))
	rig.engine.PeerHangup("peer-b")

	if rig.transports[0].isClosed() {
		t.Error("hangup for a different peer tore down the active connection")
	}
	if got := rig.engine.Phase(); got != PhaseAnswering {
		t.Errorf("phase = %s, want answering", got)
	}
}

func TestTransportConnectedIsObserved(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	var phases []Phase
	var mu sync.Mutex
	rig.engine.OnPhase(func(p Phase) {
		mu.Lock()
		phases = append(phases, p)
		mu.Unlock()
	})

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.transports[0].fireState(webrtc.PeerConnectionStateConnected)

	if got := rig.engine.Phase(); got != PhaseConnected {
		t.Fatalf("phase = %s, want connected", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(phases) == 0 || phases[len(phases)-1] != PhaseConnected {
		t.Errorf("observer phases = %v, want trailing connected", phases)
	}
}

func TestTransportFailureTearsDown(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.transports[0].fireState(webrtc.PeerConnectionStateFailed)

	if !rig.transports[0].isClosed() {
		t.Error("failed transport not released")
	}
	if got := rig.engine.Phase(); got != PhaseClosed {
		t.Errorf("phase = %s, want closed", got)
	}
	if ends := rig.sender.byEvent(signal.EventEndCall); len(ends) != 0 {
		t.Errorf("transport failure echoed %d end-call messages", len(ends))
	}
}

func TestNegotiationErrorTearsDownCompletely(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.transports[0].failRemote = errors.New("sdp parse failure")

	rig.engine.HandleAnswer(answerMessage())

	if !rig.transports[0].isClosed() {
		t.Error("connection left half-applied after a description failure")
	}
	if got := rig.engine.Phase(); got != PhaseClosed {
		t.Errorf("phase = %s, want closed", got)
	}
}

func TestStaleCallbacksAreDiscarded(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	old := rig.transports[0]
	rig.engine.Hangup()
	sentBefore := len(rig.sender.messages())

	// The old round's callbacks may still resolve; they must be no-ops now.
	old.fireCandidate(webrtc.ICECandidateInit{Candidate: "late"})
	old.fireState(webrtc.PeerConnectionStateConnected)

	if got := len(rig.sender.messages()); got != sentBefore {
		t.Errorf("stale candidate was relayed (%d -> %d messages)", sentBefore, got)
	}
	if got := rig.engine.Phase(); got != PhaseClosed {
		t.Errorf("stale state change moved phase to %s", got)
	}
}

func TestLocalCandidatesAreRelayed(t *testing.T) {
	rig := newTestRig(t)
	rig.startMedia(t)

	if err := rig.engine.StartOffer(); err != nil {
		t.Fatalf("StartOffer: %v", err)
	}
	rig.transports[0].fireCandidate(webrtc.ICECandidateInit{Candidate: "local-1"})
	rig.transports[0].fireCandidate(webrtc.ICECandidateInit{Candidate: "local-2"})

	cands := rig.sender.byEvent(signal.EventCandidate)
	if len(cands) != 2 {
		t.Fatalf("relayed %d candidates, want 2", len(cands))
	}
	for i, want := range []string{"local-1", "local-2"} {
		if cands[i].Candidate == nil || cands[i].Candidate.Candidate != want {
			t.Errorf("candidate[%d] = %+v, want %q", i, cands[i].Candidate, want)
		}
		if cands[i].Room != "abc123" {
			t.Errorf("candidate[%d] room = %q, want abc123", i, cands[i].Room)
		}
	}
}
