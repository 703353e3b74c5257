package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/1ureka/duocall/internal/media"
	"github.com/pion/webrtc/v4"
)

var _ Conn = (*fakeConn)(nil)

// fakeConn models the JSEP signaling state machine without any networking.
// An SDP body of "garbage" is rejected as malformed and a candidate of "bad"
// is rejected on apply.
type fakeConn struct {
	name string

	mu           sync.Mutex
	state        webrtc.SignalingState
	remote       *webrtc.SessionDescription
	pendingLocal *webrtc.SessionDescription
	offers       int
	applied      []string
	tracks       int
	closed       bool
	dcHost       *webrtc.PeerConnection

	onState func(webrtc.PeerConnectionState)
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{name: name, state: webrtc.SignalingStateStable}
}

func (f *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks++
	return nil, nil
}

// CreateDataChannel returns a real, never-connected channel.
func (f *fakeConn) CreateDataChannel(label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dcHost == nil {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			return nil, err
		}
		f.dcHost = pc
	}
	return f.dcHost.CreateDataChannel(label, init)
}

func (f *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return webrtc.SessionDescription{}, errors.New("closed")
	}
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("%s-offer-%d", f.name, f.offers)}, nil
}

func (f *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer in %s", f.state)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.name + "-answer"}, nil
}

func (f *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case d.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.state = webrtc.SignalingStateHaveLocalOffer
		f.pendingLocal = &d
	case d.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveRemoteOffer:
		f.state = webrtc.SignalingStateStable
	case d.Type == webrtc.SDPTypeRollback && f.state == webrtc.SignalingStateHaveLocalOffer:
		f.state = webrtc.SignalingStateStable
		f.pendingLocal = nil
	default:
		return fmt.Errorf("set local %s in %s", d.Type, f.state)
	}
	return nil
}

func (f *fakeConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.SDP == "garbage" {
		return errors.New("malformed sdp")
	}
	switch {
	case d.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.state = webrtc.SignalingStateHaveRemoteOffer
	case d.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveLocalOffer:
		f.state = webrtc.SignalingStateStable
		f.pendingLocal = nil
	default:
		return fmt.Errorf("set remote %s in %s", d.Type, f.state)
	}
	f.remote = &d
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return errors.New("no remote description")
	}
	f.applied = append(f.applied, c.Candidate)
	if c.Candidate == "bad" {
		return errors.New("bad candidate")
	}
	return nil
}

func (f *fakeConn) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakeConn) PendingLocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocal
}

func (f *fakeConn) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) OnICECandidate(func(*webrtc.ICECandidate))              {}
func (f *fakeConn) OnDataChannel(func(*webrtc.DataChannel))                {}
func (f *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}
func (f *fakeConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

// fire delivers a connection state change as pion would.
func (f *fakeConn) fire(state webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.dcHost != nil {
		return f.dcHost.Close()
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.applied...)
}

// sent is one message captured by recordSignaler.
type sent struct {
	kind      string
	to        string
	sdp       webrtc.SessionDescription
	candidate webrtc.ICECandidateInit
}

// recordSignaler captures outbound messages; tests deliver them by hand.
type recordSignaler struct {
	mu   sync.Mutex
	msgs []sent
}

func (r *recordSignaler) SendOffer(to string, sdp webrtc.SessionDescription) error {
	r.add(sent{kind: "offer", to: to, sdp: sdp})
	return nil
}

func (r *recordSignaler) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	r.add(sent{kind: "answer", to: to, sdp: sdp})
	return nil
}

func (r *recordSignaler) SendCandidate(to string, c webrtc.ICECandidateInit) error {
	r.add(sent{kind: "candidate", to: to, candidate: c})
	return nil
}

func (r *recordSignaler) add(m sent) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

// take returns and forgets every captured message.
func (r *recordSignaler) take() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.msgs
	r.msgs = nil
	return out
}

func (r *recordSignaler) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.kind == kind {
			n++
		}
	}
	return n
}

// fakeMedia counts acquisitions and releases.
type fakeMedia struct {
	mu       sync.Mutex
	acquired int
	stopped  int
	deny     bool
}

func (m *fakeMedia) Acquire(_ context.Context, pc media.TrackAdder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deny {
		return false
	}
	m.acquired++
	_, _ = pc.AddTrack(nil)
	return true
}

func (m *fakeMedia) Stop() {
	m.mu.Lock()
	m.stopped++
	m.mu.Unlock()
}

func (m *fakeMedia) counts() (acquired, stopped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired, m.stopped
}

// peer is one fake-backed negotiator under test.
type peer struct {
	name  string
	neg   *Negotiator
	sig   *recordSignaler
	media *fakeMedia
	conns []*fakeConn

	mu     sync.Mutex
	phases []Phase
}

func newPeer(t *testing.T, name string) *peer {
	t.Helper()
	p := &peer{name: name, sig: &recordSignaler{}, media: &fakeMedia{}}
	p.neg = New(Config{
		NewConn: func() (Conn, error) {
			c := newFakeConn(name)
			p.conns = append(p.conns, c)
			return c, nil
		},
		Signaler: p.sig,
		Media:    p.media,
		Hooks: Hooks{
			OnPhase: func(_ string, ph Phase) {
				p.mu.Lock()
				p.phases = append(p.phases, ph)
				p.mu.Unlock()
			},
		},
	})
	t.Cleanup(p.neg.Close)
	return p
}

// conn returns the most recent connection.
func (p *peer) conn() *fakeConn {
	return p.conns[len(p.conns)-1]
}

// deliver hands every message p has sent to q, in order.
func deliver(t *testing.T, from, to *peer) {
	t.Helper()
	ctx := context.Background()
	for _, m := range from.sig.take() {
		switch m.kind {
		case "offer":
			if err := to.neg.HandleOffer(ctx, from.name, m.sdp); err != nil {
				t.Fatalf("%s HandleOffer: %v", to.name, err)
			}
		case "answer":
			if err := to.neg.HandleAnswer(from.name, m.sdp); err != nil {
				t.Fatalf("%s HandleAnswer: %v", to.name, err)
			}
		case "candidate":
			to.neg.HandleCandidate(from.name, m.candidate)
		}
	}
}
