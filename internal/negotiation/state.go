// Package negotiation implements perfect negotiation for a two-party call:
// one Session per call, roles fixed at construction, deterministic glare
// resolution, and a pending ICE candidate queue.
package negotiation

import (
	"fmt"
)

// Role decides who yields when both sides offer at once.
type Role int

const (
	RoleUnassigned Role = iota
	RolePolite          // joined-to side; rolls back its own offer on collision
	RoleImpolite        // initiating side; ignores colliding offers
)

func (r Role) String() string {
	switch r {
	case RolePolite:
		return "polite"
	case RoleImpolite:
		return "impolite"
	default:
		return "unassigned"
	}
}

// Phase is the connection-level lifecycle of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNegotiating
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// canTransition lists every legal phase edge. Closed is terminal: a new call
// needs a new Session.
func (p Phase) canTransition(to Phase) bool {
	switch p {
	case PhaseIdle:
		return to == PhaseNegotiating || to == PhaseClosed
	case PhaseNegotiating:
		return to == PhaseConnected || to == PhaseClosed
	case PhaseConnected:
		return to == PhaseClosed
	case PhaseClosed:
		return false
	default:
		return false
	}
}

// SignalPhase tracks which SDP operation the Session is in the middle of.
// It replaces a pair of makingOffer / settingRemote flags, so the two can
// never be set together.
type SignalPhase int

const (
	SignalStable SignalPhase = iota
	SignalMakingOffer
	SignalSettingRemote
)

func (s SignalPhase) String() string {
	switch s {
	case SignalStable:
		return "stable"
	case SignalMakingOffer:
		return "making-offer"
	case SignalSettingRemote:
		return "setting-remote"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

// canTransition only allows leaving and returning to SignalStable.
func (s SignalPhase) canTransition(to SignalPhase) bool {
	switch s {
	case SignalStable:
		return to == SignalMakingOffer || to == SignalSettingRemote
	case SignalMakingOffer, SignalSettingRemote:
		return to == SignalStable
	default:
		return false
	}
}
