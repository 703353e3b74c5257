package signaling

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

// sender serializes writes to one WebSocket connection.
type sender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// send writes env as one JSON text frame.
func (s *sender) send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(env)
}

// keepalive pings every period until stop is closed or a ping fails. A
// failed ping is left for the reader to notice.
func (s *sender) keepalive(period time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// close sends a normal closure frame and closes the connection.
func (s *sender) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

// SendOffer sends an offer to peer to.
func (c *Client) SendOffer(to string, sdp webrtc.SessionDescription) error {
	return c.Send(Envelope{Type: TypeOffer, To: to, SDP: &sdp})
}

// SendAnswer sends an answer to peer to.
func (c *Client) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	return c.Send(Envelope{Type: TypeAnswer, To: to, SDP: &sdp})
}

// SendCandidate sends a trickled ICE candidate to peer to.
func (c *Client) SendCandidate(to string, candidate webrtc.ICECandidateInit) error {
	return c.Send(Envelope{Type: TypeCandidate, To: to, Candidate: &candidate})
}
