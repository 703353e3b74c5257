package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
	audioFrameSize     = 160  // roughly one 20ms Opus frame at voice bitrates
	videoFrameSize     = 1200 // one small VP8 delta frame
)

// SyntheticDevice is a headless capture device. Each acquired track is fed
// by a paced generator until stopped. It counts tracks still holding the
// device so callers can verify that hardware is released.
type SyntheticDevice struct {
	// Deny makes every GetUserMedia call fail with this error.
	Deny error

	mu       sync.Mutex
	active   int
	acquired int
}

var _ Device = (*SyntheticDevice)(nil)

// NewSyntheticDevice returns a device that always grants access.
func NewSyntheticDevice() *SyntheticDevice {
	return &SyntheticDevice{}
}

// GetUserMedia returns a stream with the requested tracks, each already
// producing samples.
func (d *SyntheticDevice) GetUserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.Deny != nil {
		return nil, fmt.Errorf("get user media: %w", d.Deny)
	}
	if !c.Audio && !c.Video {
		return nil, ErrNothingRequested
	}

	streamID := uuid.NewString()
	var tracks []*LocalTrack

	add := func(kind Kind, frameSize int, interval time.Duration) error {
		t, err := NewLocalTrack(kind, streamID, d.release)
		if err != nil {
			return err
		}
		d.hold()
		tracks = append(tracks, t)
		go pump(t, make([]byte, frameSize), interval)
		return nil
	}

	if c.Audio {
		if err := add(KindAudio, audioFrameSize, audioFrameInterval); err != nil {
			return nil, err
		}
	}
	if c.Video {
		if err := add(KindVideo, videoFrameSize, videoFrameInterval); err != nil {
			NewStream(streamID, tracks...).Stop()
			return nil, err
		}
	}

	return NewStream(streamID, tracks...), nil
}

// Active returns the number of tracks that have not been stopped.
func (d *SyntheticDevice) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Acquired returns the total number of tracks ever handed out.
func (d *SyntheticDevice) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

func (d *SyntheticDevice) hold() {
	d.mu.Lock()
	d.active++
	d.acquired++
	d.mu.Unlock()
}

func (d *SyntheticDevice) release() {
	d.mu.Lock()
	d.active--
	d.mu.Unlock()
}

// pump writes frame to t every interval until t is stopped.
func pump(t *LocalTrack, frame []byte, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
			// Errors here only mean no peer is bound yet.
			_ = t.WriteSample(pionmedia.Sample{Data: frame, Duration: interval})
		}
	}
}
