// Package signaling is the client side of the relay protocol: a persistent,
// reconnecting WebSocket that carries join, peer discovery, SDP/ICE and
// control envelopes.
package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of envelope.
type MessageType string

const (
	TypeJoin       MessageType = "join"
	TypePeers      MessageType = "peers"
	TypePeerJoined MessageType = "peer-joined"
	TypePeerLeft   MessageType = "peer-left"
	TypeOffer      MessageType = "offer"
	TypeAnswer     MessageType = "answer"
	TypeCandidate  MessageType = "candidate"
	TypeError      MessageType = "error"

	TypeCompilerToggle   MessageType = "compiler:toggle"
	TypeCompilerTab      MessageType = "compiler:tab"
	TypeCompilerLanguage MessageType = "compiler:language"
	TypeCompilerOutput   MessageType = "compiler:output"
	TypeCompilerRunning  MessageType = "compiler:running"
	TypeVisibilityHidden MessageType = "visibility:hidden"
	TypeWindowBlur       MessageType = "window:blur"
)

// ReasonRoomFull is the error text the relay sends to a third joiner before
// disconnecting it.
const ReasonRoomFull = "room full"

// ControlTypes lists every control envelope type, in a stable order.
var ControlTypes = []MessageType{
	TypeCompilerToggle,
	TypeCompilerTab,
	TypeCompilerLanguage,
	TypeCompilerOutput,
	TypeCompilerRunning,
	TypeVisibilityHidden,
	TypeWindowBlur,
}

// IsControl reports whether t is relayed to the whole room rather than to
// one addressed peer.
func (t MessageType) IsControl() bool {
	for _, c := range ControlTypes {
		if t == c {
			return true
		}
	}
	return false
}

// IsDirected reports whether t is forwarded to the peer named in To.
func (t MessageType) IsDirected() bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}

// Envelope is the JSON object carried in one WebSocket text frame.
type Envelope struct {
	Type      MessageType                `json:"type"`
	RoomID    string                     `json:"roomId,omitempty"`
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	ID        string                     `json:"id,omitempty"`       // own peer id in "peers"; previous id in a re-"join"
	SocketID  string                     `json:"socketId,omitempty"` // new peer id, in "peer-joined"
	Peers     []string                   `json:"peers,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Payload   json.RawMessage            `json:"payload,omitempty"`
	Token     string                     `json:"token,omitempty"`
	Error     string                     `json:"error,omitempty"`
}
