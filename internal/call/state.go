package call

import (
	"github.com/1ureka/duocall/internal/chat"
	"github.com/1ureka/duocall/internal/control"
	"github.com/1ureka/duocall/internal/negotiation"
)

// Status is what the call screen shows.
type Status int

const (
	StatusIdle Status = iota
	StatusJoining
	StatusWaiting // in the room, no peer
	StatusConnecting
	StatusConnected
	StatusRoomFull
	StatusDisconnected // relay unreachable after reconnect attempts
	StatusLeft
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusJoining:
		return "joining"
	case StatusWaiting:
		return "waiting for peer"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusRoomFull:
		return "room full"
	case StatusDisconnected:
		return "disconnected"
	case StatusLeft:
		return "left"
	default:
		return "unknown"
	}
}

// State is a snapshot of everything the call screen renders.
type State struct {
	Status Status
	RoomID string
	SelfID string
	PeerID string
	Phase  negotiation.Phase

	AudioOn       bool
	VideoOn       bool
	HasLocalMedia bool
	RemoteVideo   bool

	ChatOpen bool
	Messages []chat.Message
	Control  control.State

	LastError string
}
