// Package hub routes signaling traffic between participants grouped into
// rooms. It never interprets session descriptions or candidates: directed
// messages are forwarded with the sender id attached, room events are
// broadcast to every other member.
package hub

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mossy-p/video-relay/config"
	"github.com/mossy-p/video-relay/internal/models"
	"github.com/mossy-p/video-relay/internal/presence"
)

var (
	ErrNotRegistered = errors.New("participant not registered")
	ErrDuplicateID   = errors.New("participant id already registered")
	ErrEmptyRoom     = errors.New("roomId is required")
	ErrAlreadyInRoom = errors.New("participant already joined another room")
	ErrRoomFull      = errors.New("room is full")
)

const presenceTimeout = 2 * time.Second

// Channel is the hub's view of one participant connection. Send must not
// block; it reports false when the message could not be queued.
type Channel interface {
	ID() string
	Send(msg models.SignalMessage) bool
}

type participant struct {
	ch   Channel
	room atomic.Pointer[Room]
}

// Room holds the current members of one room. Membership changes and the
// notifications they trigger happen under mu.
type Room struct {
	ID      string
	mu      sync.Mutex
	members map[string]*participant
	// closed is set once the last member leaves; a joiner that raced with
	// the removal retries with a fresh room.
	closed bool
}

type handlerFunc func(from *participant, msg models.SignalMessage)

// Hub is the process-wide router shared by every connection.
type Hub struct {
	cfg      config.HubConfig
	presence presence.Store

	// channels is read on every relayed message and needs no room lock.
	channels *hashmap.Map[string, *participant]

	roomsMu sync.Mutex
	rooms   map[string]*Room

	handlers map[models.SignalType]handlerFunc
}

// New creates a hub. A nil store disables presence mirroring.
func New(cfg config.HubConfig, store presence.Store) *Hub {
	if store == nil {
		store = presence.Nop{}
	}
	h := &Hub{
		cfg:      cfg,
		presence: store,
		channels: hashmap.New[string, *participant](),
		rooms:    make(map[string]*Room),
	}
	h.handlers = map[models.SignalType]handlerFunc{
		models.SignalTypeJoinRoom: h.handleJoin,
		models.SignalTypeChat:     h.handleChat,
	}
	for _, t := range models.ClientSignalTypes {
		if t.Directed() {
			h.handlers[t] = h.handleDirected
		}
	}
	return h
}

// Register adds a connection to the id table. It must be called once per
// connection before any message from it is dispatched.
func (h *Hub) Register(ch Channel) error {
	if !h.channels.Insert(ch.ID(), &participant{ch: ch}) {
		return ErrDuplicateID
	}
	return nil
}

// Dispatch routes one inbound message from the participant with id from.
func (h *Hub) Dispatch(from string, msg models.SignalMessage) {
	p, ok := h.channels.Get(from)
	if !ok {
		log.Printf("Dropping %s from unregistered participant %s", msg.Type, from)
		return
	}
	handle, ok := h.handlers[msg.Type]
	if !ok {
		log.Printf("Unknown message type: %s", msg.Type)
		return
	}
	handle(p, msg)
}

func (h *Hub) handleJoin(p *participant, msg models.SignalMessage) {
	if err := h.Join(p.ch.ID(), msg.RoomID); err != nil {
		log.Printf("Peer %s failed to join room %q: %v", p.ch.ID(), msg.RoomID, err)
		p.ch.Send(models.SignalMessage{
			Type:   models.SignalTypeError,
			RoomID: msg.RoomID,
			Error:  err.Error(),
		})
	}
}

func (h *Hub) handleDirected(p *participant, msg models.SignalMessage) {
	h.relay(p, msg)
}

func (h *Hub) handleChat(p *participant, msg models.SignalMessage) {
	r := p.room.Load()
	if r == nil {
		log.Printf("Dropping chat from peer %s: not in a room", p.ch.ID())
		return
	}
	msg.From = ""
	msg.To = ""
	msg.SenderID = p.ch.ID()
	h.BroadcastToRoom(r.ID, msg, p.ch.ID())
}

// Join adds the participant to roomID and notifies the other members. A
// repeated join to the same room is a no-op.
func (h *Hub) Join(id, roomID string) error {
	p, ok := h.channels.Get(id)
	if !ok {
		return ErrNotRegistered
	}
	if roomID == "" {
		return ErrEmptyRoom
	}
	if cur := p.room.Load(); cur != nil {
		if cur.ID == roomID {
			return nil
		}
		return ErrAlreadyInRoom
	}

	for {
		r := h.getOrCreateRoom(roomID)
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			continue
		}
		if h.cfg.MaxRoomSize > 0 && len(r.members) >= h.cfg.MaxRoomSize {
			r.mu.Unlock()
			return ErrRoomFull
		}
		r.members[id] = p
		p.room.Store(r)
		size := len(r.members)
		r.broadcastLocked(models.SignalMessage{
			Type:   models.SignalTypeUserJoined,
			PeerID: id,
		}, id)
		r.mu.Unlock()

		log.Printf("Peer %s joined room %s - %d members", id, roomID, size)
		h.mirror(func(ctx context.Context) error {
			return h.presence.Add(ctx, roomID, id)
		})
		return nil
	}
}

// Relay forwards a directed message from the participant with id from to
// msg.To. Unknown or out-of-room recipients are dropped silently, as are
// messages of a type that is not addressed to a single peer.
func (h *Hub) Relay(from string, msg models.SignalMessage) {
	p, ok := h.channels.Get(from)
	if !ok {
		return
	}
	h.relay(p, msg)
}

func (h *Hub) relay(p *participant, msg models.SignalMessage) {
	if !msg.Type.Directed() || msg.To == "" {
		log.Printf("Dropping %s from peer %s: not addressed to a peer", msg.Type, p.ch.ID())
		return
	}
	room := p.room.Load()
	if room == nil {
		log.Printf("Dropping %s from peer %s: not in a room", msg.Type, p.ch.ID())
		return
	}

	target, ok := h.channels.Get(msg.To)
	if !ok {
		log.Printf("Target peer %s not found, dropping %s", msg.To, msg.Type)
		return
	}
	if h.cfg.EnforceRoomScope && target.room.Load() != room {
		log.Printf("Target peer %s not in room %s, dropping %s", msg.To, room.ID, msg.Type)
		return
	}

	msg.From = p.ch.ID()
	msg.To = ""
	if !target.ch.Send(msg) {
		log.Printf("Failed to send message to peer %s, buffer full", target.ch.ID())
	}
}

// BroadcastToRoom sends msg to every member of roomID except exclude.
func (h *Hub) BroadcastToRoom(roomID string, msg models.SignalMessage, exclude string) {
	h.roomsMu.Lock()
	r, ok := h.rooms[roomID]
	h.roomsMu.Unlock()
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(msg, exclude)
}

// Leave removes the participant from the id table and its room, notifying
// the remaining members. The transport calls it when the connection ends.
func (h *Hub) Leave(id string) {
	p, ok := h.channels.Get(id)
	if !ok {
		return
	}
	h.channels.Del(id)

	r := p.room.Swap(nil)
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.members, id)
	empty := len(r.members) == 0
	if empty {
		r.closed = true
	} else {
		r.broadcastLocked(models.SignalMessage{
			Type:   models.SignalTypeUserLeft,
			PeerID: id,
		}, id)
	}
	r.mu.Unlock()

	if empty {
		h.roomsMu.Lock()
		if h.rooms[r.ID] == r {
			delete(h.rooms, r.ID)
		}
		h.roomsMu.Unlock()
		log.Printf("Removed empty room: %s", r.ID)
	}

	log.Printf("Peer %s left room %s", id, r.ID)
	h.mirror(func(ctx context.Context) error {
		return h.presence.Remove(ctx, r.ID, id)
	})
}

// Members returns the sorted ids currently registered under roomID.
func (h *Hub) Members(roomID string) []string {
	h.roomsMu.Lock()
	r, ok := h.rooms[roomID]
	h.roomsMu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// RoomOf returns the room the participant has joined, or "".
func (h *Hub) RoomOf(id string) string {
	p, ok := h.channels.Get(id)
	if !ok {
		return ""
	}
	if r := p.room.Load(); r != nil {
		return r.ID
	}
	return ""
}

// PresenceCount returns the membership size recorded in the presence store.
func (h *Hub) PresenceCount(ctx context.Context, roomID string) (int64, bool) {
	if _, ok := h.presence.(presence.Nop); ok {
		return 0, false
	}
	n, err := h.presence.Count(ctx, roomID)
	if err != nil {
		log.Printf("Failed to read presence for room %s: %v", roomID, err)
		return 0, false
	}
	return n, true
}

func (h *Hub) getOrCreateRoom(roomID string) *Room {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	room, exists := h.rooms[roomID]
	if !exists {
		room = &Room{
			ID:      roomID,
			members: make(map[string]*participant),
		}
		h.rooms[roomID] = room
		log.Printf("Created new room: %s", roomID)
	}
	return room
}

func (h *Hub) mirror(op func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := op(ctx); err != nil {
		log.Printf("Presence mirror failed: %v", err)
	}
}

func (r *Room) broadcastLocked(msg models.SignalMessage, exclude string) {
	for id, member := range r.members {
		if id == exclude {
			continue
		}
		if !member.ch.Send(msg) {
			log.Printf("Failed to send message to peer %s, buffer full", id)
		}
	}
}
