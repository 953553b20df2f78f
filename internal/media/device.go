package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// SampleDevice is the default capture device: one VP8 video track and one
// Opus audio track backed by TrackLocalStaticSample. Samples are written by
// whatever encoder the application wires up; the negotiation layer only
// needs the track handles.
type SampleDevice struct {
	streamID string
}

// NewSampleDevice creates a sample-backed device. All tracks share the given
// stream id so the remote side groups them into one stream.
func NewSampleDevice(streamID string) *SampleDevice {
	if streamID == "" {
		streamID = "chatter"
	}
	return &SampleDevice{streamID: streamID}
}

// Open creates the video and audio tracks. There is nothing to release for
// static sample tracks, so the release func only exists to satisfy the
// contract.
func (d *SampleDevice) Open(ctx context.Context) ([]webrtc.TrackLocal, func(), error) {
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", d.streamID)
	if err != nil {
		return nil, nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", d.streamID)
	if err != nil {
		return nil, nil, err
	}
	return []webrtc.TrackLocal{video, audio}, func() {}, nil
}
