// Package webrtc provides helpers for creating PeerConnections and the chat
// DataChannel wrapper used by a call.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// DefaultSTUNServers are used when no ICE servers are configured. No TURN:
// calls rely on direct P2P connectivity.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ChatLabel is the label of the single data channel negotiated per call.
const ChatLabel = "chat"

// Options configures PeerConnection construction.
type Options struct {
	STUN []string

	// IncludeLoopback keeps 127.0.0.1 host candidates, which is what lets
	// two peers on the same machine (and tests) connect without a network.
	IncludeLoopback bool

	// LoggerFactory receives pion's internal logging; nil keeps pion's default.
	LoggerFactory logging.LoggerFactory
}

// Factory builds PeerConnections that share one configured pion API
// (media engine with default codecs, default interceptors, setting engine).
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewFactory prepares a pion API from opts.
func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(opts.IncludeLoopback)
	if opts.LoggerFactory != nil {
		settingEngine.LoggerFactory = opts.LoggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(settingEngine),
	)

	var servers []webrtc.ICEServer
	if len(opts.STUN) > 0 {
		servers = []webrtc.ICEServer{{URLs: opts.STUN}}
	}

	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: servers},
	}, nil
}

// NewPeerConnection creates a PeerConnection from the factory's API.
func (f *Factory) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(f.config)
}

// ChannelCreator is satisfied by *webrtc.PeerConnection.
type ChannelCreator interface {
	CreateDataChannel(label string, init *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
}

// CreateChatChannel creates the ordered, reliable chat DataChannel. Only the
// initiating side calls this; the answering side receives the channel
// through OnDataChannel.
func CreateChatChannel(pc ChannelCreator) (*webrtc.DataChannel, error) {
	ordered := true
	return pc.CreateDataChannel(ChatLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
}
