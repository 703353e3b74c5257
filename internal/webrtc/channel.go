package webrtc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"
)

const (
	HighWaterMark = 256 * 1024 // pause sending when bufferedAmount exceeds this
	LowWaterMark  = 64 * 1024  // resume sending when bufferedAmount drops below this
)

// ErrChannelNotOpen is returned when sending on a channel that is not open.
var ErrChannelNotOpen = errors.New("data channel is not open")

// DataChannel wraps a pion DataChannel carrying JSON text messages, with
// backpressure on the send side.
type DataChannel struct {
	raw       *webrtc.DataChannel
	sendReady chan struct{}
}

// NewDataChannel wraps raw and initializes the backpressure signal.
func NewDataChannel(raw *webrtc.DataChannel) *DataChannel {
	ch := &DataChannel{
		raw:       raw,
		sendReady: make(chan struct{}, 1),
	}

	raw.SetBufferedAmountLowThreshold(uint64(LowWaterMark))
	raw.OnBufferedAmountLow(func() {
		select {
		case ch.sendReady <- struct{}{}:
		default:
		}
	})

	return ch
}

// IsOpen reports whether the channel can currently send.
func (c *DataChannel) IsOpen() bool {
	return c.raw.ReadyState() == webrtc.DataChannelStateOpen
}

// SendJSON encodes v and sends it as a text message. It blocks while the
// buffered amount is above the high water mark, until it drains or ctx is
// cancelled.
func (c *DataChannel) SendJSON(ctx context.Context, v any) error {
	if !c.IsOpen() {
		return ErrChannelNotOpen
	}

	if c.raw.BufferedAmount() > uint64(HighWaterMark) {
		select {
		case <-c.sendReady:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.raw.SendText(string(data))
}

// OnText registers a callback for every inbound message. Binary messages are
// passed through as-is; the payload is expected to be JSON either way.
func (c *DataChannel) OnText(fn func([]byte)) {
	c.raw.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// OnOpen / OnClose / Label / Raw proxy the underlying channel.
func (c *DataChannel) OnOpen(fn func())         { c.raw.OnOpen(fn) }
func (c *DataChannel) OnClose(fn func())        { c.raw.OnClose(fn) }
func (c *DataChannel) Label() string            { return c.raw.Label() }
func (c *DataChannel) Raw() *webrtc.DataChannel { return c.raw }
