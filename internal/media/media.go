// Package media manages the local capture lifecycle. The actual device
// access sits behind the CaptureDevice interface; this package only owns
// when tracks are acquired and released.
package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/chatter-io/chatter/internal/util"
)

// CaptureDevice is the device-capture facility. Open acquires camera and
// microphone tracks or fails with a permission/device error; the returned
// release func undoes the acquisition.
type CaptureDevice interface {
	Open(ctx context.Context) (tracks []webrtc.TrackLocal, release func(), err error)
}

// Stream is the handle to an active set of local tracks. It is shared by
// reference between the source (producer) and the negotiation engine
// (consumer); ownership of the underlying tracks stays with the source.
type Stream struct {
	tracks  []webrtc.TrackLocal
	release func()
}

// Tracks returns the live local tracks.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// Source acquires and releases the local capture stream.
type Source struct {
	device CaptureDevice

	mu     sync.Mutex
	stream *Stream
	onStop func()
}

// NewSource creates a source backed by the given capture device.
func NewSource(device CaptureDevice) *Source {
	return &Source{device: device}
}

// OnStop registers a hook invoked after the stream has been released. The
// owning session uses it to end an active call when capture goes away.
func (s *Source) OnStop(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = fn
}

// Start acquires the capture device and returns the stream handle. Starting
// while already started returns the existing handle without touching the
// device again, so the user is not re-prompted. On failure no partial stream
// is exposed.
func (s *Source) Start(ctx context.Context) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return s.stream, nil
	}

	tracks, release, err := s.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}

	s.stream = &Stream{tracks: tracks, release: release}
	util.LogDebug("local capture started (%d tracks)", len(tracks))
	return s.stream, nil
}

// Stop releases all tracks. Idempotent.
func (s *Source) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	onStop := s.onStop
	s.mu.Unlock()

	if stream == nil {
		return
	}
	if stream.release != nil {
		stream.release()
	}
	util.LogDebug("local capture stopped")
	if onStop != nil {
		onStop()
	}
}

// Stream returns the active stream handle, or nil when capture is stopped.
func (s *Source) Stream() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Active reports whether capture is currently running.
func (s *Source) Active() bool {
	return s.Stream() != nil
}
