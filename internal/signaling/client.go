package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/1ureka/duocall/internal/config"
	"github.com/1ureka/duocall/internal/util"
)

var (
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("signaling client closed")

	// ErrNotConnected is returned by Send while no connection is up.
	ErrNotConnected = errors.New("signaling client not connected")

	// ErrReconnectExhausted is passed to OnDisconnect handlers when every
	// reconnect attempt failed.
	ErrReconnectExhausted = errors.New("signaling reconnect attempts exhausted")
)

// Handler receives one envelope. Handlers run on the client's reader
// goroutine, one at a time, in arrival order.
type Handler func(Envelope)

// Client is an explicitly owned signaling connection. Connect dials once;
// after a dropped connection the client redials with exponential backoff
// and notifies OnReconnect handlers, which must re-join their room.
type Client struct {
	url    string
	policy config.ReconnectConfig

	pongWait   time.Duration
	pingPeriod time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	sender      *sender
	started     bool
	closed      bool
	nextID      uint64
	handlers    map[MessageType]map[uint64]Handler
	reconnected map[uint64]func()
	disconnect  map[uint64]func(error)
}

// NewClient returns an unconnected client for the relay at url.
func NewClient(url string, policy config.ReconnectConfig) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		policy:      policy,
		pongWait:    pongWait,
		pingPeriod:  pingPeriod,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		handlers:    make(map[MessageType]map[uint64]Handler),
		reconnected: make(map[uint64]func()),
		disconnect:  make(map[uint64]func(error)),
	}
}

// Connect dials the relay once and starts reading. Calling it again while
// connected does nothing. A dial failure is returned, not retried.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	conn, err := dial(ctx, c.url)
	if err != nil {
		c.mu.Lock()
		c.started = false
		if c.closed {
			close(c.done)
		}
		c.mu.Unlock()
		return fmt.Errorf("connect to relay: %w", err)
	}

	s := &sender{conn: conn}
	c.mu.Lock()
	if c.closed {
		close(c.done)
		c.mu.Unlock()
		_ = s.close()
		return ErrClosed
	}
	c.sender = s
	c.mu.Unlock()

	util.LogInfo("[signaling] connected to %s", c.url)
	go c.run(s)
	return nil
}

// Connected reports whether a connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sender != nil
}

// Done is closed once the client has stopped for good, after Close or
// after reconnecting failed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send writes one envelope.
func (c *Client) Send(env Envelope) error {
	c.mu.Lock()
	s, closed := c.sender, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if s == nil {
		return ErrNotConnected
	}
	if err := s.send(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// On registers h for envelopes of type t and returns a function that
// removes it.
func (c *Client) On(t MessageType, h Handler) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[uint64]Handler)
	}
	c.handlers[t][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[t], id)
	}
}

// OnReconnect registers fn to run after every successful redial.
func (c *Client) OnReconnect(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.reconnected[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.reconnected, id)
	}
}

// OnDisconnect registers fn to run once the client gives up reconnecting.
func (c *Client) OnDisconnect(fn func(error)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.disconnect[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.disconnect, id)
	}
}

// Close shuts the connection and stops reconnecting. It does not wait for
// the reader; use Done for that. Safe to call more than once, including
// from a handler.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sender
	c.sender = nil
	started := c.started
	c.mu.Unlock()

	c.cancel()
	if !started {
		close(c.done)
	}
	if s != nil {
		return s.close()
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// run reads from s until it fails, then redials, for the client's lifetime.
func (c *Client) run(s *sender) {
	defer close(c.done)

	for {
		stop := make(chan struct{})
		go s.keepalive(c.pingPeriod, stop)
		r := &receiver{conn: s.conn, pongWait: c.pongWait, dispatch: c.dispatch}
		err := r.watch()
		close(stop)

		c.mu.Lock()
		if c.sender == s {
			c.sender = nil
		}
		c.mu.Unlock()
		_ = s.conn.Close()

		if c.isClosed() {
			return
		}
		util.LogWarning("[signaling] connection lost: %v", err)

		next, err := c.reconnect()
		if err != nil {
			if c.isClosed() {
				return
			}
			util.LogError("[signaling] giving up: %v", err)
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.notifyDisconnect(fmt.Errorf("%w: %v", ErrReconnectExhausted, err))
			return
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = next.close()
			return
		}
		c.sender = next
		c.mu.Unlock()

		util.LogSuccess("[signaling] reconnected to %s", c.url)
		s = next
		c.notifyReconnect()
	}
}

// reconnect redials under the configured backoff policy.
func (c *Client) reconnect() (*sender, error) {
	var next *sender
	operation := func() error {
		conn, err := dial(c.ctx, c.url)
		if err != nil {
			return err
		}
		next = &sender{conn: conn}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		util.LogWarning("[signaling] reconnect failed (%v), retrying in %s", err, wait.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(), notify); err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.Initial
	b.MaxInterval = c.policy.Max
	b.Multiplier = c.policy.Multiplier
	b.RandomizationFactor = c.policy.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.policy.MaxRetries)), c.ctx)
}

// dispatch calls every handler for env.Type. A panicking handler is logged
// and does not stop the reader.
func (c *Client) dispatch(env Envelope) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[env.Type]))
	for _, h := range c.handlers[env.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	if len(hs) == 0 {
		util.LogDebug("[signaling] no handler for %q", env.Type)
		return
	}
	for _, h := range hs {
		safeCall(env.Type, func() { h(env) })
	}
}

func (c *Client) notifyReconnect() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.reconnected))
	for _, fn := range c.reconnected {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		safeCall("reconnect", fn)
	}
}

func (c *Client) notifyDisconnect(err error) {
	c.mu.Lock()
	fns := make([]func(error), 0, len(c.disconnect))
	for _, fn := range c.disconnect {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		safeCall("disconnect", func() { fn(err) })
	}
}

func safeCall[T ~string](what T, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			util.LogError("[signaling] %s handler panicked: %v", what, r)
		}
	}()
	fn()
}
