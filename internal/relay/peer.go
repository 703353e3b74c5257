package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	sendQueueLen = 256
	maxFrameSize = 1 << 20
)

// peer is one WebSocket connection. Only writePump writes to conn.
type peer struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	quit   chan struct{}
	once   sync.Once
	roomID string // guarded by Hub.mu
}

func newPeer(id string, conn *websocket.Conn) *peer {
	return &peer{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendQueueLen),
		quit: make(chan struct{}),
	}
}

// enqueue queues env without blocking. A full queue drops the envelope.
func (p *peer) enqueue(env signaling.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		util.LogError("[relay] marshal %s: %v", env.Type, err)
		return
	}

	select {
	case p.send <- data:
	default:
		util.LogWarning("[relay] send queue full for peer %s, dropping %s", p.id, env.Type)
	}
}

// kick closes the connection once everything already queued is written.
func (p *peer) kick() {
	p.once.Do(func() { close(p.quit) })
}

// readPump hands every envelope to handle until the connection fails.
func (p *peer) readPump(handle func(signaling.Envelope)) {
	p.conn.SetReadLimit(maxFrameSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				util.LogWarning("[relay] peer %s: %v", p.id, err)
			}
			return
		}

		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			util.LogWarning("[relay] peer %s sent malformed envelope: %v", p.id, err)
			continue
		}
		handle(env)
	}
}

// writePump writes queued envelopes and keeps the connection alive with
// pings. After kick it flushes the queue and closes.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case data := <-p.send:
			if err := p.write(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.quit:
			for {
				select {
				case data := <-p.send:
					if err := p.write(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = p.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (p *peer) write(messageType int, data []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}
