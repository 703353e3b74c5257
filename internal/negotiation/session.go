package negotiation

import (
	"github.com/1ureka/duocall/internal/util"
	"github.com/pion/webrtc/v4"
)

// Session is all per-call state. It is created when a peer is discovered and
// detached from the Negotiator in one step on teardown; nothing in it is
// reused by the next call.
type Session struct {
	id       uint64
	peerID   string
	role     Role
	conn     Conn
	channel  *webrtc.DataChannel
	queue    CandidateQueue
	phase    Phase
	signal   SignalPhase
	hasMedia bool
}

// setPhase moves to p if the edge is legal. Repeating the current phase is a
// silent no-op.
func (s *Session) setPhase(p Phase) bool {
	if s.phase == p {
		return false
	}
	if !s.phase.canTransition(p) {
		util.LogDebug("[negotiation] session %d: ignoring phase %s -> %s", s.id, s.phase, p)
		return false
	}
	s.phase = p
	return true
}

// setSignal moves the signal phase, refusing anything but a round trip
// through SignalStable.
func (s *Session) setSignal(p SignalPhase) {
	if s.signal == p {
		return
	}
	if !s.signal.canTransition(p) {
		util.LogWarning("[negotiation] session %d: illegal signal transition %s -> %s", s.id, s.signal, p)
		return
	}
	s.signal = p
}

// canApplyCandidates reports whether remote candidates may go straight to
// the connection instead of the queue.
func (s *Session) canApplyCandidates() bool {
	return s.conn.RemoteDescription() != nil && s.signal != SignalSettingRemote
}

// flush applies every queued candidate in arrival order.
func (s *Session) flush(stats *util.Stats) {
	if s.queue.Len() == 0 {
		return
	}
	applied, failed := s.queue.Flush(s.conn.AddICECandidate)
	stats.CandidatesApplied.Add(int64(applied))
	stats.CandidateFailures.Add(int64(failed))
	util.LogDebug("[negotiation] flushed candidates: %d applied, %d failed", applied, failed)
}

// State is a point-in-time view of the negotiator.
type State struct {
	Active           bool
	PeerID           string
	Role             Role
	Phase            Phase
	Signal           SignalPhase
	SignalingState   webrtc.SignalingState
	QueuedCandidates int
	HasDataChannel   bool
	HasLocalMedia    bool
}
