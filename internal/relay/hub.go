package relay

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/1ureka/duocall/internal/signaling"
	"github.com/1ureka/duocall/internal/util"
)

// RoomCapacity is the maximum number of peers in one room.
const RoomCapacity = 2

// ErrRoomFull is returned when a third peer tries to join a room.
var ErrRoomFull = errors.New(signaling.ReasonRoomFull)

// room keeps its peers in join order.
type room struct {
	id    string
	peers []*peer
}

func (r *room) find(id string) *peer {
	for _, p := range r.peers {
		if p.id == id {
			return p
		}
	}
	return nil
}

// Hub is the room registry. It pairs at most two peers per room and routes
// envelopes between them.
type Hub struct {
	presence Presence

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub returns an empty hub mirroring membership into presence.
func NewHub(presence Presence) *Hub {
	if presence == nil {
		presence = NopPresence{}
	}
	return &Hub{
		presence: presence,
		rooms:    make(map[string]*room),
	}
}

// join adds p to roomID. The joiner receives the existing occupants in a
// "peers" envelope and every occupant receives "peer-joined". Both are
// queued under the lock so they precede anything the occupants send next.
//
// A non-empty previousID names the socket the joiner held before its
// connection dropped. That entry is evicted first, so a client whose old
// socket has not timed out yet still gets its seat back.
func (h *Hub) join(p *peer, roomID, previousID string) error {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{id: roomID}
		h.rooms[roomID] = r
	}
	var stale *peer
	if previousID != "" && previousID != p.id {
		stale = r.find(previousID)
	}
	if stale != nil {
		h.evictLocked(r, stale)
	}
	if len(r.peers) >= RoomCapacity {
		h.mu.Unlock()
		return ErrRoomFull
	}

	existing := make([]string, 0, len(r.peers))
	for _, other := range r.peers {
		existing = append(existing, other.id)
	}
	r.peers = append(r.peers, p)
	p.roomID = roomID

	p.enqueue(signaling.Envelope{Type: signaling.TypePeers, RoomID: roomID, ID: p.id, Peers: existing})
	for _, other := range r.peers[:len(r.peers)-1] {
		other.enqueue(signaling.Envelope{Type: signaling.TypePeerJoined, RoomID: roomID, SocketID: p.id})
	}
	h.mu.Unlock()

	if stale != nil {
		util.LogInfo("[relay] peer %s replaced stale socket %s in room %s", p.id, stale.id, roomID)
		stale.kick()
		h.mirror(func(ctx context.Context) error { return h.presence.Remove(ctx, roomID, stale.id) })
	}
	util.LogInfo("[relay] peer %s joined room %s (%d/%d)", p.id, roomID, len(existing)+1, RoomCapacity)
	h.mirror(func(ctx context.Context) error { return h.presence.Add(ctx, roomID, p.id) })
	return nil
}

// leave removes p from its room and tells the remaining occupant.
func (h *Hub) leave(p *peer) {
	h.mu.Lock()
	roomID := p.roomID
	r, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	h.evictLocked(r, p)
	if len(r.peers) == 0 {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	util.LogInfo("[relay] peer %s left room %s", p.id, roomID)
	h.mirror(func(ctx context.Context) error { return h.presence.Remove(ctx, roomID, p.id) })
}

// evictLocked drops p from r and tells the others. Clearing p.roomID makes
// a later leave(p) a no-op.
func (h *Hub) evictLocked(r *room, p *peer) {
	r.peers = slices.DeleteFunc(r.peers, func(other *peer) bool { return other == p })
	p.roomID = ""
	for _, other := range r.peers {
		other.enqueue(signaling.Envelope{Type: signaling.TypePeerLeft, RoomID: r.id, From: p.id})
	}
}

// route forwards an envelope from p. Offers, answers and candidates go to
// the addressed peer (or the only other one when To is empty); control
// envelopes go to everyone else in the room.
func (h *Hub) route(p *peer, env signaling.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[p.roomID]
	if !ok {
		return
	}
	env.From = p.id
	env.RoomID = r.id

	switch {
	case env.Type.IsDirected():
		var target *peer
		if env.To != "" {
			target = r.find(env.To)
		} else {
			for _, other := range r.peers {
				if other != p {
					target = other
				}
			}
		}
		if target == nil || target == p {
			util.LogWarning("[relay] %s from %s: target %q not in room %s", env.Type, p.id, env.To, r.id)
			return
		}
		target.enqueue(env)

	case env.Type.IsControl():
		for _, other := range r.peers {
			if other != p {
				other.enqueue(env)
			}
		}

	default:
		p.enqueue(signaling.Envelope{Type: signaling.TypeError, Error: "unknown type " + string(env.Type)})
	}
}

// Occupants returns the peer ids in roomID, in join order.
func (h *Hub) Occupants(roomID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.peers))
	for _, p := range r.peers {
		ids = append(ids, p.id)
	}
	return ids
}

// Rooms returns the number of non-empty rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// mirror runs a presence update with a short deadline; failures are only
// logged since the in-memory registry is authoritative.
func (h *Hub) mirror(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		util.LogWarning("[relay] presence update failed: %v", err)
	}
}
