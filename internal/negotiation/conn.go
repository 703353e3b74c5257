package negotiation

import (
	"context"

	"github.com/1ureka/duocall/internal/media"
	"github.com/pion/webrtc/v4"
)

// Conn is the part of *webrtc.PeerConnection a Session drives.
type Conn interface {
	media.TrackAdder

	CreateDataChannel(label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
	CreateOffer(opts *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(opts *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error

	RemoteDescription() *webrtc.SessionDescription
	PendingLocalDescription() *webrtc.SessionDescription
	SignalingState() webrtc.SignalingState

	OnICECandidate(fn func(*webrtc.ICECandidate))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnDataChannel(fn func(*webrtc.DataChannel))
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))

	Close() error
}

var _ Conn = (*webrtc.PeerConnection)(nil)

// Signaler delivers negotiation messages to the remote peer.
type Signaler interface {
	SendOffer(to string, sdp webrtc.SessionDescription) error
	SendAnswer(to string, sdp webrtc.SessionDescription) error
	SendCandidate(to string, c webrtc.ICECandidateInit) error
}

// Media attaches local media to a new connection and releases it on
// teardown. *media.Pipeline satisfies it.
type Media interface {
	Acquire(ctx context.Context, pc media.TrackAdder) bool
	Stop()
}

var _ Media = (*media.Pipeline)(nil)
