package http

import (
	"encoding/json"
	"sync"

	"gameroom-service/internal/domain"
	"go.uber.org/zap"
)

const sendBuffer = 256

// client is one socket as seen by the hub. Only the hub loop touches rooms
// membership and closes send.
type client struct {
	id   string
	send chan []byte
}

type hubOpKind int

const (
	opRegister hubOpKind = iota
	opUnregister
	opAttach
	opDetach
	opBroadcast
	opDirect
	opCloseRoom
)

type hubOp struct {
	kind   hubOpKind
	client *client
	roomID string
	msg    domain.WebSocketMessage
}

// Hub fans room events out to sockets. Every operation goes through a single
// ordered queue, so a socket sees events in exactly the order they were published.
type Hub struct {
	ops  chan hubOp
	done chan struct{}
	log  *zap.Logger

	// owned by the run loop
	clients map[*client]string
	rooms   map[string]map[*client]struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		ops:     make(chan hubOp, 4096),
		done:    make(chan struct{}),
		log:     log,
		clients: make(map[*client]string),
		rooms:   make(map[string]map[*client]struct{}),
		stopped: make(chan struct{}),
	}
}

// Run processes hub operations until Stop is called.
func (h *Hub) Run() {
	defer close(h.stopped)
	for {
		select {
		case op := <-h.ops:
			h.apply(op)
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// Stop ends the run loop and closes every socket's send queue.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	<-h.stopped
}

func (h *Hub) enqueue(op hubOp) {
	select {
	case h.ops <- op:
	case <-h.done:
	}
}

// Publish implements app.EventPublisher.
func (h *Hub) Publish(msg domain.WebSocketMessage) {
	h.enqueue(hubOp{kind: opBroadcast, roomID: msg.RoomID, msg: msg})
}

// RoomOpened implements app.RoomLifecycle.
func (h *Hub) RoomOpened(string) {}

// RoomClosed detaches every socket still following a purged room.
func (h *Hub) RoomClosed(roomID string) {
	h.enqueue(hubOp{kind: opCloseRoom, roomID: roomID})
}

func (h *Hub) register(c *client)   { h.enqueue(hubOp{kind: opRegister, client: c}) }
func (h *Hub) unregister(c *client) { h.enqueue(hubOp{kind: opUnregister, client: c}) }
func (h *Hub) detach(c *client)     { h.enqueue(hubOp{kind: opDetach, client: c}) }

func (h *Hub) attach(c *client, roomID string) {
	h.enqueue(hubOp{kind: opAttach, client: c, roomID: roomID})
}

func (h *Hub) direct(c *client, msg domain.WebSocketMessage) {
	h.enqueue(hubOp{kind: opDirect, client: c, msg: msg})
}

func (h *Hub) apply(op hubOp) {
	switch op.kind {
	case opRegister:
		h.clients[op.client] = ""
	case opUnregister:
		if _, ok := h.clients[op.client]; ok {
			h.drop(op.client)
		}
	case opAttach:
		if _, ok := h.clients[op.client]; !ok {
			return
		}
		h.leaveRoom(op.client)
		members, ok := h.rooms[op.roomID]
		if !ok {
			members = make(map[*client]struct{})
			h.rooms[op.roomID] = members
		}
		members[op.client] = struct{}{}
		h.clients[op.client] = op.roomID
	case opDetach:
		if _, ok := h.clients[op.client]; ok {
			h.leaveRoom(op.client)
			h.clients[op.client] = ""
		}
	case opBroadcast:
		members := h.rooms[op.roomID]
		if len(members) == 0 {
			return
		}
		raw, ok := h.encode(op.msg)
		if !ok {
			return
		}
		for c := range members {
			h.deliver(c, raw)
		}
	case opDirect:
		if _, ok := h.clients[op.client]; !ok {
			return
		}
		if raw, ok := h.encode(op.msg); ok {
			h.deliver(op.client, raw)
		}
	case opCloseRoom:
		for c := range h.rooms[op.roomID] {
			h.clients[c] = ""
		}
		delete(h.rooms, op.roomID)
	}
}

func (h *Hub) encode(msg domain.WebSocketMessage) ([]byte, bool) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode event", zap.String("type", string(msg.Type)), zap.Error(err))
		return nil, false
	}
	return raw, true
}

// deliver never blocks the loop: a socket that cannot keep up is dropped.
func (h *Hub) deliver(c *client, raw []byte) {
	select {
	case c.send <- raw:
	default:
		h.log.Warn("dropping slow socket", zap.String("conn_id", c.id))
		h.drop(c)
	}
}

func (h *Hub) leaveRoom(c *client) {
	roomID := h.clients[c]
	if roomID == "" {
		return
	}
	if members, ok := h.rooms[roomID]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *Hub) drop(c *client) {
	h.leaveRoom(c)
	delete(h.clients, c)
	close(c.send)
}
