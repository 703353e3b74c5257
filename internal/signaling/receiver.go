package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/util"
)

// ErrPeerUnresponsive is returned by the reader when the relay stopped
// answering pings.
var ErrPeerUnresponsive = errors.New("relay stopped responding")

// receiver reads envelopes from one connection and hands each to dispatch,
// in arrival order, on the calling goroutine.
type receiver struct {
	conn     *websocket.Conn
	pongWait time.Duration
	dispatch func(Envelope)
}

// watch runs until the connection fails or goes quiet for pongWait. Frames
// that are not valid envelopes are logged and skipped.
func (r *receiver) watch() error {
	r.extend()
	r.conn.SetPongHandler(func(string) error {
		r.extend()
		return nil
	})
	r.conn.SetPingHandler(func(data string) error {
		r.extend()
		err := r.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) || isTimeout(err) {
			return nil
		}
		return err
	})

	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("read envelope: %w", ErrPeerUnresponsive)
			}
			return fmt.Errorf("read envelope: %w", err)
		}
		r.extend()

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			util.LogWarning("[signaling] dropping malformed envelope: %v", err)
			continue
		}
		if env.Type == "" {
			util.LogWarning("[signaling] dropping envelope without type")
			continue
		}

		r.dispatch(env)
	}
}

func (r *receiver) extend() {
	_ = r.conn.SetReadDeadline(time.Now().Add(r.pongWait))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
