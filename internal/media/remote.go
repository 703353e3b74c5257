package media

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the part of *webrtc.TrackRemote the pipeline reads.
type RemoteTrack interface {
	Kind() webrtc.RTPCodecType
	Read(b []byte) (int, interceptor.Attributes, error)
}

// RemoteEvent is a liveness change of a remote track.
type RemoteEvent int

const (
	RemoteArrived RemoteEvent = iota
	RemoteMuted
	RemoteUnmuted
	RemoteEnded
)

func (e RemoteEvent) String() string {
	switch e {
	case RemoteArrived:
		return "arrived"
	case RemoteMuted:
		return "mute"
	case RemoteUnmuted:
		return "unmute"
	case RemoteEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// showing maps an event to the "remote video is showing" flag.
func (e RemoteEvent) showing() bool {
	return e == RemoteArrived || e == RemoteUnmuted
}

// remoteWatcher turns packet flow on a remote track into mute/unmute/ended
// events: no packet for muteAfter means muted, the next packet unmutes, and
// a read error ends the track.
type remoteWatcher struct {
	track     RemoteTrack
	muteAfter time.Duration
	onEvent   func(RemoteEvent)
	stop      chan struct{}
}

func newRemoteWatcher(track RemoteTrack, muteAfter time.Duration, onEvent func(RemoteEvent)) *remoteWatcher {
	return &remoteWatcher{
		track:     track,
		muteAfter: muteAfter,
		onEvent:   onEvent,
		stop:      make(chan struct{}),
	}
}

func (w *remoteWatcher) run() {
	packets := make(chan struct{}, 1)
	readDone := make(chan struct{})

	go func() {
		defer close(readDone)
		buf := make([]byte, 1500)
		for {
			if _, _, err := w.track.Read(buf); err != nil {
				return
			}
			select {
			case packets <- struct{}{}:
			default:
			}
		}
	}()

	timer := time.NewTimer(w.muteAfter)
	defer timer.Stop()

	muted := false
	w.onEvent(RemoteArrived)

	for {
		select {
		case <-packets:
			if muted {
				muted = false
				w.onEvent(RemoteUnmuted)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.muteAfter)

		case <-timer.C:
			if !muted {
				muted = true
				w.onEvent(RemoteMuted)
			}

		case <-readDone:
			w.onEvent(RemoteEnded)
			return

		case <-w.stop:
			return
		}
	}
}

func (w *remoteWatcher) close() {
	close(w.stop)
}
