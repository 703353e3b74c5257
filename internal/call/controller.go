// Package call drives one two-party call: it joins a relay room, reacts to
// peer discovery, hands SDP and ICE to the negotiator, and keeps the state
// the UI renders.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duocall/internal/chat"
	"github.com/1ureka/duocall/internal/compiler"
	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/control"
	"github.com/1ureka/duocall/internal/media"
	"github.com/1ureka/duocall/internal/negotiation"
	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
	rtc "github.com/1ureka/duocall/internal/webrtc"
)

// ErrNotJoined is returned by operations that need a joined room.
var ErrNotJoined = errors.New("not joined to a room")

// Options wires a Controller.
type Options struct {
	SignalURL string
	Token     string
	Reconnect config.ReconnectConfig

	NewConn  func() (negotiation.Conn, error)
	Media    media.Options    // OnLocalMedia and OnRemoteVideo are set by the controller
	Compiler *compiler.Client // optional
	Stats    *util.Stats      // optional
	Now      func() time.Time // defaults to time.Now
}

// NewOptions builds Options from a loaded configuration and a capture
// device.
func NewOptions(cfg *config.Config, device media.Device) (Options, error) {
	factory, err := rtc.NewFactory(rtc.Options{
		STUN:            cfg.ICE.STUN,
		IncludeLoopback: cfg.ICE.IncludeLoopback,
		LoggerFactory:   &util.PionLoggerFactory{Verbose: cfg.ICE.PionVerbose},
	})
	if err != nil {
		return Options{}, err
	}

	var comp *compiler.Client
	if cfg.Compiler.URL != "" {
		comp = compiler.NewClient(cfg.Compiler)
	}

	return Options{
		SignalURL: cfg.Signal.URL,
		Token:     cfg.Signal.Token,
		Reconnect: cfg.Signal.Reconnect,
		NewConn: func() (negotiation.Conn, error) {
			pc, err := factory.NewPeerConnection()
			if err != nil {
				return nil, err
			}
			return pc, nil
		},
		Media: media.Options{
			Device:      device,
			Constraints: media.Constraints{Audio: cfg.Media.Audio, Video: cfg.Media.Video},
			Timeout:     cfg.Media.AcquireTimeout,
			MuteAfter:   cfg.Media.MuteAfter,
		},
		Compiler: comp,
	}, nil
}

// Controller is the call lifecycle of one client. The media pipeline and
// the chat log live as long as the controller; the signaling client and
// the negotiator are rebuilt on every Join.
type Controller struct {
	opts     Options
	stats    *util.Stats
	pipeline *media.Pipeline
	chat     *chat.Chat

	mu        sync.Mutex
	joined    bool
	ctx       context.Context
	cancel    context.CancelFunc
	client    *signaling.Client
	neg       *negotiation.Negotiator
	unsubs    []func()
	channel   *rtc.DataChannel
	rejoining bool // a re-join is in flight after a reconnect
	refusals  int  // "room full" answers to re-joins since the last "peers"
	state     State
	listeners map[uint64]func(State)
	nextID    uint64
}

// New returns an idle controller.
func New(opts Options) *Controller {
	if opts.Stats == nil {
		opts.Stats = util.NewStats()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		opts:      opts,
		stats:     opts.Stats,
		listeners: make(map[uint64]func(State)),
	}

	mediaOpts := opts.Media
	mediaOpts.OnLocalMedia = func(s *media.Stream) {
		c.update(func(st *State) { st.HasLocalMedia = s != nil })
	}
	mediaOpts.OnRemoteVideo = func(showing bool, _ media.RemoteEvent) {
		c.update(func(st *State) { st.RemoteVideo = showing })
	}
	c.pipeline = media.NewPipeline(mediaOpts)

	c.chat = chat.New(chat.Options{
		Stats:     opts.Stats,
		Now:       opts.Now,
		OnMessage: func(chat.Message) { c.notify() },
	})
	return c
}

// Stats returns the counters shared by every layer of the call.
func (c *Controller) Stats() *util.Stats {
	return c.stats
}

// ──────────────────────────────────────────────────────────────────────────────
// Join / leave
// ──────────────────────────────────────────────────────────────────────────────

// Join connects to the relay and joins roomID. It returns once the join
// envelope is sent; the call itself starts when a peer is discovered.
// Calling Join while joined does nothing.
func (c *Controller) Join(ctx context.Context, roomID string) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return nil
	}

	client := signaling.NewClient(c.opts.SignalURL, c.opts.Reconnect)
	neg := negotiation.New(negotiation.Config{
		NewConn:  c.opts.NewConn,
		Signaler: client,
		Media:    c.pipeline,
		Stats:    c.stats,
		Hooks: negotiation.Hooks{
			OnDataChannel: c.onDataChannel,
			OnTrack:       c.onTrack,
			OnPhase:       c.onPhase,
		},
	})

	c.joined = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.client = client
	c.neg = neg
	c.rejoining, c.refusals = false, 0
	c.state.Status = StatusJoining
	c.state.RoomID = roomID
	c.state.LastError = ""
	c.unsubs = c.subscribe(client, neg, roomID)
	c.mu.Unlock()
	c.notify()

	if err := client.Connect(ctx); err != nil {
		c.abort(client)
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	if err := c.sendJoin(client, roomID, ""); err != nil {
		c.abort(client)
		return fmt.Errorf("join %s: %w", roomID, err)
	}

	c.update(func(st *State) {
		if st.Status == StatusJoining {
			st.Status = StatusWaiting
		}
	})
	util.LogInfo("[call] joined room %s", roomID)
	return nil
}

// sendJoin asks the relay for a seat in roomID. previousID is the peer id
// of the connection that dropped, so the relay can free its seat.
func (c *Controller) sendJoin(client *signaling.Client, roomID, previousID string) error {
	return client.Send(signaling.Envelope{
		Type:   signaling.TypeJoin,
		RoomID: roomID,
		ID:     previousID,
		Token:  c.opts.Token,
	})
}

// abort undoes a Join whose setup failed.
func (c *Controller) abort(client *signaling.Client) {
	c.stop(client, StatusIdle)
}

// stop leaves the room with final status if client still belongs to the
// current join. After it, Join starts over.
func (c *Controller) stop(client *signaling.Client, final Status) {
	c.mu.Lock()
	if c.client != client {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.leave(final)
}

// Leave ends the call and leaves the room. Idempotent.
func (c *Controller) Leave() {
	c.leave(StatusLeft)
}

func (c *Controller) leave(final Status) {
	c.mu.Lock()
	if !c.joined {
		c.mu.Unlock()
		return
	}
	c.joined = false
	unsubs, client, neg, cancel := c.unsubs, c.client, c.neg, c.cancel
	c.unsubs, c.client, c.neg, c.cancel = nil, nil, nil, nil
	c.channel = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	neg.Close()
	c.pipeline.Stop()
	c.chat.Detach()
	c.chat.Clear()
	if err := client.Close(); err != nil {
		util.LogDebug("[call] close signaling: %v", err)
	}
	cancel()

	c.update(func(st *State) {
		lastErr := st.LastError
		*st = State{Status: final}
		if final != StatusLeft {
			st.LastError = lastErr
		}
	})
	util.LogInfo("[call] left room")
}

// subscribe registers every envelope handler of one join.
func (c *Controller) subscribe(client *signaling.Client, neg *negotiation.Negotiator, roomID string) []func() {
	unsubs := []func(){
		client.On(signaling.TypePeers, func(env signaling.Envelope) { c.onPeers(neg, env) }),
		client.On(signaling.TypePeerJoined, func(env signaling.Envelope) { c.onPeerJoined(neg, env) }),
		client.On(signaling.TypePeerLeft, func(env signaling.Envelope) { c.onPeerLeft(neg, env) }),
		client.On(signaling.TypeOffer, func(env signaling.Envelope) { c.onOffer(neg, env) }),
		client.On(signaling.TypeAnswer, func(env signaling.Envelope) { c.onAnswer(neg, env) }),
		client.On(signaling.TypeCandidate, func(env signaling.Envelope) { c.onCandidate(neg, env) }),
		client.On(signaling.TypeError, func(env signaling.Envelope) { c.onError(client, env) }),
		client.OnReconnect(func() { c.onReconnect(client, neg, roomID) }),
		client.OnDisconnect(func(err error) { c.onDisconnect(client, neg, err) }),
	}
	for _, t := range signaling.ControlTypes {
		unsubs = append(unsubs, client.On(t, c.onControl))
	}
	return unsubs
}

// callCtx is the context of the current join, cancelled by Leave.
func (c *Controller) callCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// ──────────────────────────────────────────────────────────────────────────────
// Envelope handlers (signaling reader goroutine)
// ──────────────────────────────────────────────────────────────────────────────

func (c *Controller) onPeers(neg *negotiation.Negotiator, env signaling.Envelope) {
	c.mu.Lock()
	c.rejoining, c.refusals = false, 0
	c.mu.Unlock()
	c.update(func(st *State) { st.SelfID = env.ID })
	if len(env.Peers) == 0 {
		util.LogInfo("[call] waiting for peer")
		return
	}

	peerID := env.Peers[0]
	c.update(func(st *State) {
		st.PeerID = peerID
		st.Status = StatusConnecting
	})
	if err := neg.HandleIncomingPeer(c.callCtx(), peerID); err != nil {
		c.fail("prepare call with %s: %v", peerID, err)
	}
}

func (c *Controller) onPeerJoined(neg *negotiation.Negotiator, env signaling.Envelope) {
	if env.SocketID == "" {
		util.LogWarning("[call] peer-joined without socketId")
		return
	}
	util.LogInfo("[call] %s joined, calling", env.SocketID)
	c.update(func(st *State) {
		st.PeerID = env.SocketID
		st.Status = StatusConnecting
	})
	if err := neg.Initiate(c.callCtx(), env.SocketID); err != nil {
		c.fail("call %s: %v", env.SocketID, err)
	}
}

func (c *Controller) onPeerLeft(neg *negotiation.Negotiator, env signaling.Envelope) {
	if current := neg.PeerID(); current != "" && env.From != "" && env.From != current {
		util.LogDebug("[call] ignoring peer-left for %s", env.From)
		return
	}
	util.LogInfo("[call] peer left, waiting for peer")
	neg.Teardown()
	c.resetPeer()
}

// resetPeer returns the screen to "waiting for peer". The chat log belongs
// to the call that just ended.
func (c *Controller) resetPeer() {
	c.chat.Detach()
	c.chat.Clear()
	c.mu.Lock()
	c.channel = nil
	c.mu.Unlock()
	c.update(func(st *State) {
		st.PeerID = ""
		st.Phase = negotiation.PhaseIdle
		st.RemoteVideo = false
		if st.Status != StatusLeft {
			st.Status = StatusWaiting
		}
	})
}

func (c *Controller) onOffer(neg *negotiation.Negotiator, env signaling.Envelope) {
	if env.SDP == nil {
		util.LogWarning("[call] offer from %s without sdp", env.From)
		return
	}
	if err := neg.HandleOffer(c.callCtx(), env.From, *env.SDP); err != nil {
		util.LogWarning("[call] offer from %s: %v", env.From, err)
	}
}

func (c *Controller) onAnswer(neg *negotiation.Negotiator, env signaling.Envelope) {
	if env.SDP == nil {
		util.LogWarning("[call] answer from %s without sdp", env.From)
		return
	}
	if err := neg.HandleAnswer(env.From, *env.SDP); err != nil {
		util.LogWarning("[call] answer from %s: %v", env.From, err)
	}
}

func (c *Controller) onCandidate(neg *negotiation.Negotiator, env signaling.Envelope) {
	if env.Candidate == nil {
		util.LogWarning("[call] candidate from %s without body", env.From)
		return
	}
	neg.HandleCandidate(env.From, *env.Candidate)
}

func (c *Controller) onControl(env signaling.Envelope) {
	m, err := control.Decode(env)
	if err != nil {
		util.LogWarning("[call] dropping control message: %v", err)
		return
	}
	c.stats.ControlRecv.Add(1)
	now := c.opts.Now()
	c.update(func(st *State) { st.Control.Apply(m, now) })
}

// onError records a relay error. "room full" on the first join ends the
// join. On a re-join it may be our own stale seat, so the refusal is
// retried: the relay drops the socket and the client redials under its
// backoff policy, at most Reconnect.MaxRetries times.
func (c *Controller) onError(client *signaling.Client, env signaling.Envelope) {
	util.LogError("[call] relay error: %s", env.Error)
	c.update(func(st *State) { st.LastError = env.Error })
	if env.Error != signaling.ReasonRoomFull {
		return
	}

	c.mu.Lock()
	retry := c.client == client && c.rejoining && c.refusals < c.opts.Reconnect.MaxRetries
	if retry {
		c.refusals++
	}
	refusals := c.refusals
	c.mu.Unlock()

	if retry {
		util.LogWarning("[call] rejoin refused (%d/%d), retrying", refusals, c.opts.Reconnect.MaxRetries)
		return
	}
	c.stop(client, StatusRoomFull)
}

// onReconnect re-joins after the relay connection came back. The relay
// hands out a new peer id, so the old call cannot continue.
func (c *Controller) onReconnect(client *signaling.Client, neg *negotiation.Negotiator, roomID string) {
	util.LogInfo("[call] rejoining room %s", roomID)
	neg.Teardown()
	c.resetPeer()

	c.mu.Lock()
	c.rejoining = true
	previousID := c.state.SelfID
	c.mu.Unlock()

	if err := c.sendJoin(client, roomID, previousID); err != nil {
		c.fail("rejoin %s: %v", roomID, err)
	}
}

// onDisconnect runs once the client gave up reconnecting.
func (c *Controller) onDisconnect(client *signaling.Client, neg *negotiation.Negotiator, err error) {
	neg.Teardown()
	c.update(func(st *State) { st.LastError = err.Error() })
	c.stop(client, StatusDisconnected)
}

func (c *Controller) fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	util.LogError("[call] %s", msg)
	c.update(func(st *State) { st.LastError = msg })
}

// ──────────────────────────────────────────────────────────────────────────────
// Negotiator hooks (called under the negotiator's lock)
// ──────────────────────────────────────────────────────────────────────────────

func (c *Controller) onDataChannel(_ string, raw *webrtc.DataChannel) {
	dc := rtc.NewDataChannel(raw)
	dc.OnOpen(c.notify)
	dc.OnClose(c.notify)

	c.mu.Lock()
	c.channel = dc
	c.mu.Unlock()
	c.chat.Attach(dc)
}

func (c *Controller) onTrack(_ string, track media.RemoteTrack) {
	c.pipeline.ObserveRemoteTrack(track)
}

func (c *Controller) onPhase(_ string, phase negotiation.Phase) {
	if phase == negotiation.PhaseClosed {
		c.chat.Detach()
		c.chat.Clear()
		c.mu.Lock()
		c.channel = nil
		c.mu.Unlock()
	}

	c.update(func(st *State) {
		st.Phase = phase
		switch phase {
		case negotiation.PhaseConnected:
			if st.Status == StatusConnecting {
				st.Status = StatusConnected
			}
		case negotiation.PhaseClosed:
			if st.Status == StatusConnecting || st.Status == StatusConnected {
				st.Status = StatusWaiting
			}
			st.PeerID = ""
			st.RemoteVideo = false
		}
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// User actions
// ──────────────────────────────────────────────────────────────────────────────

// SendChat sends text to the peer and appends it to the log.
func (c *Controller) SendChat(ctx context.Context, text string) (chat.Message, error) {
	return c.chat.Send(ctx, text)
}

// ToggleAudio enables or disables the local microphone without
// renegotiating.
func (c *Controller) ToggleAudio(on bool) {
	c.pipeline.ToggleAudio(on)
	c.notify()
}

// ToggleVideo enables or disables the local camera without renegotiating.
func (c *Controller) ToggleVideo(on bool) {
	c.pipeline.ToggleVideo(on)
	c.notify()
}

// SendControl applies m locally, when it describes shared state, and
// relays it to the peer.
func (c *Controller) SendControl(m control.Message) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return ErrNotJoined
	}

	env, err := control.Encode(m)
	if err != nil {
		return err
	}
	if control.Local(m) {
		now := c.opts.Now()
		c.update(func(st *State) { st.Control.Apply(m, now) })
	}
	if err := client.Send(env); err != nil {
		return err
	}
	c.stats.ControlSent.Add(1)
	return nil
}

// RunCode executes req on the compiler service and shares the running flag
// and the output with the peer.
func (c *Controller) RunCode(ctx context.Context, req compiler.Request) (compiler.Result, error) {
	if c.opts.Compiler == nil {
		return compiler.Result{}, compiler.ErrNotConfigured
	}

	c.sendControlBestEffort(control.Running{Running: true})
	defer c.sendControlBestEffort(control.Running{Running: false})

	res, err := c.opts.Compiler.Run(ctx, req)
	output := res.Text()
	if err != nil {
		output = err.Error()
	}
	c.sendControlBestEffort(control.Output{Output: output})
	return res, err
}

func (c *Controller) sendControlBestEffort(m control.Message) {
	if err := c.SendControl(m); err != nil {
		util.LogWarning("[call] %s not relayed: %v", m.Type(), err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// State
// ──────────────────────────────────────────────────────────────────────────────

// State returns a snapshot of the call.
func (c *Controller) State() State {
	c.mu.Lock()
	st := c.state
	ch := c.channel
	c.mu.Unlock()

	st.AudioOn = c.pipeline.AudioEnabled()
	st.VideoOn = c.pipeline.VideoEnabled()
	st.ChatOpen = ch != nil && ch.IsOpen()
	st.Messages = c.chat.Messages()
	return st
}

// OnChange registers fn to receive a snapshot after every change. fn runs
// on whichever goroutine made the change and must not block.
func (c *Controller) OnChange(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	if len(fns) == 0 {
		return
	}

	st := c.State()
	for _, fn := range fns {
		fn(st)
	}
}
