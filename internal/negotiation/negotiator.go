package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/util"
	rtc "github.com/1ureka/duocall/internal/webrtc"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrNoSession is returned by operations that need an active call.
	ErrNoSession = errors.New("no active session")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("negotiator closed")
)

// Hooks observe a session. They are called with the negotiator's lock held
// and must not call back into the Negotiator.
type Hooks struct {
	OnDataChannel func(peerID string, dc *webrtc.DataChannel)
	OnTrack       func(peerID string, track media.RemoteTrack)
	OnPhase       func(peerID string, phase Phase)
}

// Config wires a Negotiator to its collaborators.
type Config struct {
	NewConn  func() (Conn, error)
	Signaler Signaler
	Media    Media // optional
	Hooks    Hooks
	Stats    *util.Stats // optional
}

// Negotiator runs perfect negotiation for one client. It owns at most one
// Session. Every exported method and every pion callback takes the same
// lock, so handlers run one at a time and to completion, SDP operations and
// media acquisition included.
type Negotiator struct {
	cfg Config

	mu      sync.Mutex
	session *Session
	nextID  uint64
	closed  bool
	after   []func() // run by unlock, outside the lock
}

// New returns an idle Negotiator.
func New(cfg Config) *Negotiator {
	if cfg.Stats == nil {
		cfg.Stats = util.NewStats()
	}
	return &Negotiator{cfg: cfg}
}

// Stats returns the counters the negotiator updates.
func (n *Negotiator) Stats() *util.Stats {
	return n.cfg.Stats
}

func (n *Negotiator) lock() {
	n.mu.Lock()
}

func (n *Negotiator) unlock() {
	after := n.after
	n.after = nil
	n.mu.Unlock()
	for _, fn := range after {
		fn()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Session lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Initiate starts a call to peerID as the impolite side: it builds the
// connection, attaches local media, creates the chat channel and sends one
// offer. It does nothing if a session already exists. Any failure tears the
// new session down.
func (n *Negotiator) Initiate(ctx context.Context, peerID string) error {
	n.lock()
	defer n.unlock()

	if n.closed {
		return ErrClosed
	}
	if n.session != nil {
		util.LogDebug("[negotiation] initiate %s: session with %s already exists", peerID, n.session.peerID)
		return nil
	}

	s, err := n.newSessionLocked(ctx, peerID, RoleImpolite)
	if err != nil {
		return err
	}

	dc, err := rtc.CreateChatChannel(s.conn)
	if err != nil {
		n.detachLocked(s, false)
		return fmt.Errorf("create chat channel: %w", err)
	}
	s.channel = dc
	if n.cfg.Hooks.OnDataChannel != nil {
		n.cfg.Hooks.OnDataChannel(peerID, dc)
	}

	if err := n.offerLocked(s); err != nil {
		n.detachLocked(s, false)
		return err
	}
	return nil
}

// HandleIncomingPeer prepares to be called by peerID as the polite side. No
// offer is sent. It does nothing if a session already exists.
func (n *Negotiator) HandleIncomingPeer(ctx context.Context, peerID string) error {
	n.lock()
	defer n.unlock()

	if n.closed {
		return ErrClosed
	}
	if n.session != nil {
		util.LogDebug("[negotiation] incoming %s: session with %s already exists", peerID, n.session.peerID)
		return nil
	}
	_, err := n.newSessionLocked(ctx, peerID, RolePolite)
	return err
}

// newSessionLocked builds a connection, registers its callbacks and attaches
// local media. The session is current once it returns.
func (n *Negotiator) newSessionLocked(ctx context.Context, peerID string, role Role) (*Session, error) {
	conn, err := n.cfg.NewConn()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	n.nextID++
	s := &Session{
		id:     n.nextID,
		peerID: peerID,
		role:   role,
		conn:   conn,
	}
	n.session = s

	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil {
			n.onLocalCandidate(s, c.ToJSON())
		}
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		n.onConnectionState(s, state)
	})
	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.onTrack(s, track)
	})
	if role == RolePolite {
		conn.OnDataChannel(func(dc *webrtc.DataChannel) {
			n.onDataChannel(s, dc)
		})
	}

	if n.cfg.Media != nil {
		s.hasMedia = n.cfg.Media.Acquire(ctx, conn)
	}

	util.LogInfo("[negotiation] session %d with %s created (%s)", s.id, peerID, role)
	return s, nil
}

// Teardown ends the current call, if any. The connection is closed before
// Teardown returns; local media is stopped.
func (n *Negotiator) Teardown() {
	n.lock()
	defer n.unlock()

	if s := n.session; s != nil {
		n.detachLocked(s, false)
	}
}

// Close tears down the current call and rejects every later operation.
func (n *Negotiator) Close() {
	n.lock()
	defer n.unlock()

	n.closed = true
	if s := n.session; s != nil {
		n.detachLocked(s, false)
	}
}

// detachLocked makes s no longer current and releases everything it owns.
// The connection is closed after the lock is released; async closes it on
// its own goroutine, for teardowns started from inside a pion callback.
func (n *Negotiator) detachLocked(s *Session, async bool) {
	if n.session == s {
		n.session = nil
	}
	s.setPhase(PhaseClosed)
	s.signal = SignalStable
	s.queue.Clear()
	s.channel = nil

	if n.cfg.Media != nil {
		n.cfg.Media.Stop()
	}
	if n.cfg.Hooks.OnPhase != nil {
		n.cfg.Hooks.OnPhase(s.peerID, PhaseClosed)
	}

	closeConn := func() {
		if err := s.conn.Close(); err != nil {
			util.LogDebug("[negotiation] session %d: close: %v", s.id, err)
		}
	}
	if async {
		n.after = append(n.after, func() { go closeConn() })
	} else {
		n.after = append(n.after, closeConn)
	}
	util.LogInfo("[negotiation] session %d with %s closed", s.id, s.peerID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Offer / answer
// ──────────────────────────────────────────────────────────────────────────────

// offerLocked creates, applies and sends one local offer.
func (n *Negotiator) offerLocked(s *Session) error {
	s.setSignal(SignalMakingOffer)
	defer s.setSignal(SignalStable)

	offer, err := s.conn.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}
	if err := n.cfg.Signaler.SendOffer(s.peerID, offer); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	n.cfg.Stats.OffersSent.Add(1)
	n.advanceLocked(s, PhaseNegotiating)
	util.LogDebug("[negotiation] offer sent to %s", s.peerID)
	return nil
}

// Renegotiate sends a fresh offer on the current session, under the same
// collision rules as the first one. It is skipped while another offer or
// answer is outstanding.
func (n *Negotiator) Renegotiate() error {
	n.lock()
	defer n.unlock()

	if n.closed {
		return ErrClosed
	}
	s := n.session
	if s == nil {
		return ErrNoSession
	}
	if s.signal != SignalStable || s.conn.SignalingState() != webrtc.SignalingStateStable {
		util.LogDebug("[negotiation] renegotiate skipped: %s / %s", s.signal, s.conn.SignalingState())
		return nil
	}
	return n.offerLocked(s)
}

// HandleOffer applies a remote offer and answers it. Without a session it
// first becomes the polite side for from. On collision the impolite side
// drops the offer and the polite side rolls back its own.
func (n *Negotiator) HandleOffer(ctx context.Context, from string, sdp webrtc.SessionDescription) error {
	n.lock()
	defer n.unlock()

	if n.closed {
		return ErrClosed
	}
	if n.session == nil {
		if _, err := n.newSessionLocked(ctx, from, RolePolite); err != nil {
			return err
		}
	}

	s := n.session
	if s.peerID != from {
		util.LogWarning("[negotiation] offer from %s ignored: in a call with %s", from, s.peerID)
		return nil
	}

	collision := s.signal == SignalMakingOffer || s.conn.SignalingState() != webrtc.SignalingStateStable
	if collision && s.role == RoleImpolite {
		n.cfg.Stats.OffersIgnored.Add(1)
		util.LogDebug("[negotiation] glare: ignoring offer from %s (impolite)", from)
		return nil
	}

	s.setSignal(SignalSettingRemote)
	defer s.setSignal(SignalStable)

	if collision {
		if err := rollback(s.conn); err != nil {
			util.LogWarning("[negotiation] rollback failed: %v", err)
			return fmt.Errorf("rollback local offer: %w", err)
		}
		n.cfg.Stats.Rollbacks.Add(1)
		util.LogDebug("[negotiation] glare: rolled back local offer (polite)")
	}

	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		util.LogWarning("[negotiation] bad offer from %s: %v", from, err)
		return fmt.Errorf("set remote offer: %w", err)
	}
	n.advanceLocked(s, PhaseNegotiating)
	s.flush(n.cfg.Stats)

	answer, err := s.conn.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local answer: %w", err)
	}
	if err := n.cfg.Signaler.SendAnswer(from, answer); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	n.cfg.Stats.AnswersSent.Add(1)
	util.LogDebug("[negotiation] answer sent to %s", from)
	return nil
}

// rollback abandons the pending local offer. The rollback description
// carries the pending SDP because pion rejects an empty body.
func rollback(conn Conn) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}
	if pending := conn.PendingLocalDescription(); pending != nil {
		desc.SDP = pending.SDP
	}
	return conn.SetLocalDescription(desc)
}

// HandleAnswer applies the remote answer to our outstanding offer. Answers
// that match no offer are dropped.
func (n *Negotiator) HandleAnswer(from string, sdp webrtc.SessionDescription) error {
	n.lock()
	defer n.unlock()

	if n.closed {
		return ErrClosed
	}
	s := n.session
	if s == nil {
		util.LogDebug("[negotiation] answer from %s dropped: no session", from)
		return nil
	}
	if s.peerID != from {
		util.LogWarning("[negotiation] answer from %s ignored: in a call with %s", from, s.peerID)
		return nil
	}
	if state := s.conn.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
		util.LogDebug("[negotiation] answer from %s dropped in state %s", from, state)
		return nil
	}

	s.setSignal(SignalSettingRemote)
	defer s.setSignal(SignalStable)

	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		util.LogWarning("[negotiation] bad answer from %s: %v", from, err)
		return fmt.Errorf("set remote answer: %w", err)
	}
	s.setSignal(SignalStable)
	s.flush(n.cfg.Stats)
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// ICE
// ──────────────────────────────────────────────────────────────────────────────

// HandleCandidate applies a remote candidate, or queues it until a remote
// description is in place. Apply failures are logged and swallowed.
func (n *Negotiator) HandleCandidate(from string, c webrtc.ICECandidateInit) {
	n.lock()
	defer n.unlock()

	s := n.session
	if n.closed || s == nil {
		util.LogDebug("[negotiation] candidate from %s dropped: no session", from)
		return
	}
	if s.peerID != from {
		util.LogDebug("[negotiation] candidate from %s dropped: in a call with %s", from, s.peerID)
		return
	}

	if !s.canApplyCandidates() {
		s.queue.Enqueue(from, c)
		n.cfg.Stats.CandidatesQueued.Add(1)
		return
	}

	if err := s.conn.AddICECandidate(c); err != nil {
		n.cfg.Stats.CandidateFailures.Add(1)
		util.LogWarning("[negotiation] candidate from %s rejected: %v", from, err)
		return
	}
	n.cfg.Stats.CandidatesApplied.Add(1)
}

// onLocalCandidate sends a gathered candidate. It runs under the lock so a
// candidate can never overtake the description it belongs to.
func (n *Negotiator) onLocalCandidate(s *Session, c webrtc.ICECandidateInit) {
	n.lock()
	defer n.unlock()

	if n.session != s {
		return
	}
	if err := n.cfg.Signaler.SendCandidate(s.peerID, c); err != nil {
		util.LogWarning("[negotiation] send candidate: %v", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Connection callbacks
// ──────────────────────────────────────────────────────────────────────────────

func (n *Negotiator) onConnectionState(s *Session, state webrtc.PeerConnectionState) {
	n.lock()
	defer n.unlock()

	if n.session != s {
		return
	}
	util.LogDebug("[negotiation] session %d: connection %s", s.id, state)

	switch state {
	case webrtc.PeerConnectionStateConnected:
		n.advanceLocked(s, PhaseConnected)
		util.LogSuccess("[negotiation] connected to %s", s.peerID)
	case webrtc.PeerConnectionStateDisconnected:
		util.LogWarning("[negotiation] connection to %s interrupted", s.peerID)
	case webrtc.PeerConnectionStateFailed:
		util.LogError("[negotiation] connection to %s failed", s.peerID)
		n.detachLocked(s, true)
	case webrtc.PeerConnectionStateClosed:
		n.detachLocked(s, true)
	}
}

func (n *Negotiator) onDataChannel(s *Session, dc *webrtc.DataChannel) {
	n.lock()
	defer n.unlock()

	if n.session != s {
		return
	}
	if dc.Label() != rtc.ChatLabel {
		util.LogWarning("[negotiation] unexpected data channel %q", dc.Label())
		return
	}
	s.channel = dc
	if n.cfg.Hooks.OnDataChannel != nil {
		n.cfg.Hooks.OnDataChannel(s.peerID, dc)
	}
}

func (n *Negotiator) onTrack(s *Session, track *webrtc.TrackRemote) {
	n.lock()
	defer n.unlock()

	if n.session != s {
		return
	}
	util.LogDebug("[negotiation] remote %s track from %s", track.Kind(), s.peerID)
	if n.cfg.Hooks.OnTrack != nil {
		n.cfg.Hooks.OnTrack(s.peerID, track)
	}
}

// advanceLocked moves s to p and reports the change.
func (n *Negotiator) advanceLocked(s *Session, p Phase) {
	if s.phase == PhaseConnected && p == PhaseNegotiating {
		return
	}
	if s.setPhase(p) && n.cfg.Hooks.OnPhase != nil {
		n.cfg.Hooks.OnPhase(s.peerID, p)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Introspection
// ──────────────────────────────────────────────────────────────────────────────

// State returns a snapshot of the current session.
func (n *Negotiator) State() State {
	n.lock()
	defer n.unlock()

	s := n.session
	if s == nil {
		return State{Phase: PhaseIdle}
	}
	return State{
		Active:           true,
		PeerID:           s.peerID,
		Role:             s.role,
		Phase:            s.phase,
		Signal:           s.signal,
		SignalingState:   s.conn.SignalingState(),
		QueuedCandidates: s.queue.Len(),
		HasDataChannel:   s.channel != nil,
		HasLocalMedia:    s.hasMedia,
	}
}

// PeerID returns the remote peer of the current session, or "".
func (n *Negotiator) PeerID() string {
	n.lock()
	defer n.unlock()

	if n.session == nil {
		return ""
	}
	return n.session.peerID
}
