package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// LocalTrack is one captured track. Disabling it mutes the track in place:
// samples are dropped, the RTP sender stays attached and no renegotiation
// happens.
type LocalTrack struct {
	kind  Kind
	track *webrtc.TrackLocalStaticSample

	enabled atomic.Bool
	ended   atomic.Bool
	done    chan struct{}

	stopOnce sync.Once
	release  func()
}

// codecFor returns the capability a track of kind is encoded with.
func codecFor(kind Kind) webrtc.RTPCodecCapability {
	if kind == KindAudio {
		return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	}
	return webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
}

// NewLocalTrack creates an enabled track. release runs once, on Stop.
func NewLocalTrack(kind Kind, streamID string, release func()) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codecFor(kind), string(kind), streamID)
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}

	t := &LocalTrack{
		kind:    kind,
		track:   track,
		done:    make(chan struct{}),
		release: release,
	}
	t.enabled.Store(true)
	return t, nil
}

func (t *LocalTrack) Kind() Kind               { return t.kind }
func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }
func (t *LocalTrack) Enabled() bool            { return t.enabled.Load() }
func (t *LocalTrack) Ended() bool              { return t.ended.Load() }

// Done is closed when the track is stopped.
func (t *LocalTrack) Done() <-chan struct{} { return t.done }

// SetEnabled mutes or unmutes the track.
func (t *LocalTrack) SetEnabled(on bool) {
	t.enabled.Store(on)
}

// WriteSample forwards s to the peer connection unless the track is
// disabled or stopped, in which case the sample is silently dropped.
func (t *LocalTrack) WriteSample(s pionmedia.Sample) error {
	if !t.enabled.Load() || t.ended.Load() {
		return nil
	}
	return t.track.WriteSample(s)
}

// Stop ends the track and releases the capture device. Safe to call more
// than once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.ended.Store(true)
		close(t.done)
		if t.release != nil {
			t.release()
		}
	})
}
