// Package chat is the in-call chat carried over the negotiated data
// channel. Delivery is best-effort and the log keeps local arrival order.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1ureka/duocall/internal/util"
	rtc "github.com/1ureka/duocall/internal/webrtc"
)

// ErrEmptyMessage is returned by Send for blank text.
var ErrEmptyMessage = errors.New("empty chat message")

const typeChat = "chat"

// Message is one entry of the chat log.
type Message struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Self      bool   `json:"self"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
}

// wireMessage is the data channel payload.
type wireMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	TS   *int64 `json:"ts,omitempty"`
}

// Channel is the sending side of a data channel. *rtc.DataChannel
// satisfies it.
type Channel interface {
	IsOpen() bool
	SendJSON(ctx context.Context, v any) error
}

var _ Channel = (*rtc.DataChannel)(nil)

// Options configures a Chat.
type Options struct {
	Stats     *util.Stats      // optional
	OnMessage func(Message)    // called for every appended entry
	Now       func() time.Time // defaults to time.Now
}

// Chat holds the log of the current call and the channel it sends on.
type Chat struct {
	opts Options

	mu  sync.Mutex
	log []Message
	ch  Channel
	gen uint64 // bumped on every attach/detach
}

// New returns an empty chat with no channel.
func New(opts Options) *Chat {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stats == nil {
		opts.Stats = util.NewStats()
	}
	return &Chat{opts: opts}
}

// Attach makes dc the channel of the current call and starts reading it.
// Messages from a previously attached channel are ignored from then on.
func (c *Chat) Attach(dc *rtc.DataChannel) {
	gen := c.AttachChannel(dc)
	dc.OnText(func(data []byte) {
		c.mu.Lock()
		current := c.gen == gen
		c.mu.Unlock()
		if current {
			c.HandleMessage(data)
		}
	})
}

// AttachChannel sets the outbound channel and returns its generation.
func (c *Chat) AttachChannel(ch Channel) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.ch = ch
	return c.gen
}

// Detach forgets the channel. The log is kept.
func (c *Chat) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.ch = nil
}

// Send appends a self-authored entry and, when the channel is open, sends
// it to the peer. The entry is appended even if nothing could be sent.
func (c *Chat) Send(ctx context.Context, text string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	now := c.opts.Now().UnixMilli()
	msg := Message{ID: uuid.NewString(), Text: text, Self: true, Timestamp: now}

	c.mu.Lock()
	ch := c.ch
	c.log = append(c.log, msg)
	c.mu.Unlock()

	switch {
	case ch == nil || !ch.IsOpen():
		util.LogDebug("[chat] channel not open, message kept locally")
	default:
		if err := ch.SendJSON(ctx, wireMessage{Type: typeChat, Text: text, TS: &now}); err != nil {
			util.LogWarning("[chat] send failed: %v", err)
		} else {
			c.opts.Stats.ChatSent.Add(1)
		}
	}

	c.notify(msg)
	return msg, nil
}

// HandleMessage parses one inbound payload. Malformed JSON and unknown types
// are logged and dropped.
func (c *Chat) HandleMessage(data []byte) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		c.opts.Stats.ChatDropped.Add(1)
		util.LogWarning("[chat] dropping malformed message: %v", err)
		return
	}
	if wire.Type != typeChat {
		c.opts.Stats.ChatDropped.Add(1)
		util.LogWarning("[chat] dropping message of unknown type %q", wire.Type)
		return
	}

	ts := c.opts.Now().UnixMilli()
	if wire.TS != nil {
		ts = *wire.TS
	}
	msg := Message{ID: uuid.NewString(), Text: wire.Text, Self: false, Timestamp: ts}

	c.mu.Lock()
	c.log = append(c.log, msg)
	c.mu.Unlock()

	c.opts.Stats.ChatRecv.Add(1)
	c.notify(msg)
}

func (c *Chat) notify(msg Message) {
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

// Messages returns a copy of the log.
func (c *Chat) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.log...)
}

// Len returns the number of entries.
func (c *Chat) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.log)
}

// Clear empties the log.
func (c *Chat) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
}
