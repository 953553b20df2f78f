// Package relay implements the signaling relay: a message bus that fans
// room-scoped messages out to the other member of a two-party room. Clients
// treat it as opaque; nothing in the client packages imports it.
package relay

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatter-io/chatter/internal/signal"
	"github.com/chatter-io/chatter/internal/util"
)

// maxPeers caps a room at the two parties of a call. A third join is
// acknowledged without a peer id, which the client reports as a rejection.
const maxPeers = 2

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// Hub tracks rooms and their members.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*hubRoom
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*hubRoom)}
}

type hubRoom struct {
	id string

	mu    sync.RWMutex
	peers map[string]*client
}

// join adds the client to the room, acks the join, and announces the
// arrival. A full room acks without a peer id and adds nobody.
func (h *Hub) join(roomID string, c *client) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if !ok {
		r = &hubRoom{id: roomID, peers: make(map[string]*client)}
		h.rooms[roomID] = r
	}
	h.mu.Unlock()

	r.mu.Lock()
	if len(r.peers) >= maxPeers {
		r.mu.Unlock()
		util.LogWarning("room %s is full, rejecting %s", roomID, c.id)
		c.enqueue(signal.Message{Event: signal.EventRoomJoined, Room: roomID})
		return
	}
	r.peers[c.id] = c
	c.room = r
	r.mu.Unlock()

	util.LogInfo("peer %s joined room %s", c.id, roomID)
	c.enqueue(signal.Message{Event: signal.EventRoomJoined, Room: roomID, PeerID: c.id})
	r.broadcast(signal.Message{Event: signal.EventUserJoined, UserID: c.id}, c.id)
}

// leave removes the client from its room, announces the departure, and
// drops the room once empty.
func (h *Hub) leave(c *client) {
	r := c.room
	if r == nil {
		return
	}
	c.room = nil

	r.mu.Lock()
	delete(r.peers, c.id)
	empty := len(r.peers) == 0
	r.mu.Unlock()

	if empty {
		h.mu.Lock()
		delete(h.rooms, r.id)
		h.mu.Unlock()
	}

	util.LogInfo("peer %s left room %s", c.id, r.id)
	r.broadcast(signal.Message{Event: signal.EventUserLeft, UserID: c.id}, c.id)
}

// broadcast sends to every room member except the originator.
func (r *hubRoom) broadcast(msg signal.Message, exclude string) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.LogError("marshal %s: %v", msg.Event, err)
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, peer := range r.peers {
		if id == exclude {
			continue
		}
		select {
		case peer.send <- data:
		default:
			util.LogWarning("peer %s send buffer full, dropping %s", id, msg.Event)
		}
	}
}

// client is one WebSocket connection to the relay.
type client struct {
	id   string
	room *hubRoom
	conn *websocket.Conn
	send chan []byte
}

func (c *client) enqueue(msg signal.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		util.LogError("marshal %s: %v", msg.Event, err)
		return
	}
	select {
	case c.send <- data:
	default:
		util.LogWarning("peer %s send buffer full, dropping %s", c.id, msg.Event)
	}
}

// readPump routes inbound messages until the connection drops, then cleans
// the client out of its room.
func (c *client) readPump(h *Hub) {
	// c.send is never closed; writePump exits via the connection error on
	// its next write once the socket is gone.
	defer func() {
		h.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg signal.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				util.LogDebug("peer %s read: %v", c.id, err)
			}
			return
		}

		switch msg.Event {
		case signal.EventJoinRoom:
			if c.room != nil {
				// Already joined; a second join on the same socket is a
				// client bug, ack the current room again.
				c.enqueue(signal.Message{Event: signal.EventRoomJoined, Room: c.room.id, PeerID: c.id})
				continue
			}
			h.join(msg.Room, c)

		case signal.EventOffer, signal.EventAnswer, signal.EventCandidate:
			if c.room == nil {
				continue
			}
			msg.From = c.id
			c.room.broadcast(msg, c.id)

		case signal.EventEndCall:
			if c.room == nil {
				continue
			}
			c.room.broadcast(signal.Message{Event: signal.EventEndCall, UserID: c.id}, c.id)

		default:
			util.LogDebug("peer %s sent unknown event %q", c.id, msg.Event)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
