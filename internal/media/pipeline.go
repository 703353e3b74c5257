package media

import (
	"context"
	"sync"
	"time"

	"github.com/1ureka/duocall/internal/util"
	"github.com/pion/webrtc/v4"
)

// TrackAdder is the part of a PeerConnection that local tracks attach to.
type TrackAdder interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
}

// Options configures a Pipeline.
type Options struct {
	Device      Device
	Constraints Constraints
	Timeout     time.Duration // upper bound on one GetUserMedia call
	MuteAfter   time.Duration // remote video silence before it counts as muted

	// OnLocalMedia receives the local stream after a successful Acquire and
	// nil after Stop.
	OnLocalMedia func(*Stream)

	// OnRemoteVideo is called whenever the remote video state is recomputed.
	OnRemoteVideo func(showing bool, ev RemoteEvent)
}

// Pipeline owns the local stream of the current call and watches the
// remote one. Toggle state survives Stop so a re-acquired stream starts
// with the user's last choice.
type Pipeline struct {
	opts Options

	mu        sync.Mutex
	local     *Stream
	audioOn   bool
	videoOn   bool
	showing   bool
	watchers  []*remoteWatcher
	remoteGen uint64 // bumped by Stop; events from older watchers are ignored
}

// NewPipeline returns an idle pipeline.
func NewPipeline(opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MuteAfter <= 0 {
		opts.MuteAfter = 2 * time.Second
	}
	return &Pipeline{
		opts:    opts,
		audioOn: true,
		videoOn: true,
	}
}

// Acquire captures local media and adds every track to pc. It reports
// whether local media is attached. A failure is logged and the call goes
// on without local media.
func (p *Pipeline) Acquire(ctx context.Context, pc TrackAdder) bool {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	stream, err := p.opts.Device.GetUserMedia(ctx, p.opts.Constraints)
	if err != nil {
		util.LogWarning("[media] continuing without local media: %v", err)
		return false
	}

	added := 0
	for _, t := range stream.Tracks() {
		sender, err := pc.AddTrack(t.Track())
		if err != nil {
			util.LogWarning("[media] failed to add %s track: %v", t.Kind(), err)
			continue
		}
		added++
		if sender != nil {
			go drainRTCP(sender)
		}
	}
	if added == 0 {
		stream.Stop()
		util.LogWarning("[media] no local track could be attached")
		return false
	}

	p.mu.Lock()
	prev := p.local
	p.local = stream
	for _, t := range stream.AudioTracks() {
		t.SetEnabled(p.audioOn)
	}
	for _, t := range stream.VideoTracks() {
		t.SetEnabled(p.videoOn)
	}
	p.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}
	util.LogDebug("[media] local stream %s attached (%d tracks)", stream.ID, added)

	if p.opts.OnLocalMedia != nil {
		p.opts.OnLocalMedia(stream)
	}
	return true
}

// drainRTCP reads RTCP for a sender so interceptors (NACK, reports) run.
// It returns once the sender is stopped.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ToggleAudio enables or disables local audio without renegotiating.
func (p *Pipeline) ToggleAudio(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.audioOn = on
	if p.local != nil {
		for _, t := range p.local.AudioTracks() {
			t.SetEnabled(on)
		}
	}
}

// ToggleVideo enables or disables local video without renegotiating.
func (p *Pipeline) ToggleVideo(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.videoOn = on
	if p.local != nil {
		for _, t := range p.local.VideoTracks() {
			t.SetEnabled(on)
		}
	}
}

func (p *Pipeline) AudioEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.audioOn
}

func (p *Pipeline) VideoEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.videoOn
}

// LocalStream returns the attached stream, or nil.
func (p *Pipeline) LocalStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// HasLocalMedia reports whether a local stream is attached.
func (p *Pipeline) HasLocalMedia() bool {
	return p.LocalStream() != nil
}

// RemoteVideoShowing reports the derived remote video state.
func (p *Pipeline) RemoteVideoShowing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showing
}

// ObserveRemoteTrack starts consuming a remote track. Video tracks drive
// the remote video state; audio tracks are only drained.
func (p *Pipeline) ObserveRemoteTrack(track RemoteTrack) {
	if track.Kind() != webrtc.RTPCodecTypeVideo {
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
		return
	}

	p.mu.Lock()
	gen := p.remoteGen
	w := newRemoteWatcher(track, p.opts.MuteAfter, func(ev RemoteEvent) {
		p.remoteEvent(gen, ev)
	})
	p.watchers = append(p.watchers, w)
	p.mu.Unlock()

	go w.run()
}

func (p *Pipeline) remoteEvent(gen uint64, ev RemoteEvent) {
	p.mu.Lock()
	if gen != p.remoteGen {
		p.mu.Unlock()
		return
	}
	p.showing = ev.showing()
	showing := p.showing
	p.mu.Unlock()

	util.LogDebug("[media] remote video %s", ev)
	if p.opts.OnRemoteVideo != nil {
		p.opts.OnRemoteVideo(showing, ev)
	}
}

// Stop releases the local stream and forgets remote tracks. Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	local := p.local
	watchers := p.watchers
	wasShowing := p.showing
	p.local = nil
	p.watchers = nil
	p.showing = false
	p.remoteGen++
	p.mu.Unlock()

	for _, w := range watchers {
		w.close()
	}
	if wasShowing && p.opts.OnRemoteVideo != nil {
		p.opts.OnRemoteVideo(false, RemoteEnded)
	}
	if local == nil {
		return
	}

	local.Stop()
	util.LogDebug("[media] local stream %s stopped", local.ID)

	if p.opts.OnLocalMedia != nil {
		p.opts.OnLocalMedia(nil)
	}
}
