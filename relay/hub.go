package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Bounded size of each room's in-memory chat log.
const maxChatLog = 100

type eventKind int

const (
	evRegister eventKind = iota
	evUnregister
	evMessage
)

type event struct {
	kind   eventKind
	client *Client
	data   []byte
}

// Room is the volatile, relay-side view of an active VR session: who is
// connected right now and the live shared-object state. Distinct from the
// persisted VRSession record; the two are reconciled only at the join/leave
// HTTP endpoints.
type Room struct {
	id        string
	createdAt time.Time
	members   map[uint]*Client
	objects   map[string]*SharedObject
}

// Hub owns the roster, the active-room table and the per-room chat logs.
// All of them are mutated exclusively by the run goroutine, so no handler
// ever observes another handler's partial mutation.
type Hub struct {
	events chan event

	clients  map[*Client]bool
	byUser   map[uint]*Client
	rooms    map[string]*Room
	chatLogs map[string][]ChatEntry

	log *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		events:   make(chan event, 512),
		clients:  make(map[*Client]bool),
		byUser:   make(map[uint]*Client),
		rooms:    make(map[string]*Room),
		chatLogs: make(map[string][]ChatEntry),
		log:      logrus.WithField("component", "relay"),
	}
}

// Run drains the event queue on a single goroutine. It returns when Stop
// closes the queue.
func (h *Hub) Run() {
	h.log.Info("relay hub running")
	for ev := range h.events {
		switch ev.kind {
		case evRegister:
			h.onRegister(ev.client)
		case evUnregister:
			h.onUnregister(ev.client)
		case evMessage:
			h.onMessage(ev.client, ev.data)
		}
	}
	h.log.Info("relay hub stopped")
}

// Stop shuts the hub down after in-flight events drain.
func (h *Hub) Stop() {
	close(h.events)
}

func (h *Hub) register(c *Client)   { h.queue(event{kind: evRegister, client: c}) }
func (h *Hub) unregister(c *Client) { h.queue(event{kind: evUnregister, client: c}) }

func (h *Hub) dispatch(c *Client, data []byte) {
	h.queue(event{kind: evMessage, client: c, data: data})
}

func (h *Hub) queue(ev event) {
	select {
	case h.events <- ev:
	default:
		h.log.WithField("user_id", ev.client.userID).Warn("event queue full, dropping event")
	}
}

// --- dispatch-goroutine handlers ---

func (h *Hub) onRegister(c *Client) {
	h.clients[c] = true
	h.byUser[c.userID] = c
	h.log.WithFields(logrus.Fields{
		"user_id": c.userID,
		"online":  len(h.clients),
	}).Info("client connected")
	h.broadcastRoster()
}

func (h *Hub) onUnregister(c *Client) {
	if !h.clients[c] {
		return
	}
	h.leaveRoom(c)
	delete(h.clients, c)
	if h.byUser[c.userID] == c {
		delete(h.byUser, c.userID)
	}
	close(c.send)
	h.log.WithFields(logrus.Fields{
		"user_id": c.userID,
		"online":  len(h.clients),
	}).Info("client disconnected")
	h.broadcastRoster()
}

// onMessage routes one inbound frame. Malformed frames and references to
// unknown rooms, objects or users all no-op: the interactive path favors
// availability over error visibility and there is no error channel back.
func (h *Hub) onMessage(c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case EventJoinSession:
		h.onJoin(c, env.Payload)
	case EventPositionUpdate:
		h.onPosition(c, env.Payload)
	case EventCreateObject:
		h.onCreateObject(c, env.Payload)
	case EventUpdateObject:
		h.onUpdateObject(c, env.Payload)
	case EventSendChat:
		h.onChat(c, env.Payload)
	case EventGetChatHistory:
		h.onChatHistory(c, env.Payload)
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICECandidate:
		h.onSignal(c, env.Type, env.Payload)
	default:
		h.log.WithField("type", env.Type).Debug("unknown event type")
	}
}

func (h *Hub) onJoin(c *Client, payload json.RawMessage) {
	var p joinPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomID == "" {
		return
	}
	// Joining the current room again is a resync: the caller gets a fresh
	// snapshot but the room is not notified twice.
	rejoin := c.roomID == p.RoomID
	if !rejoin {
		h.leaveRoom(c)
	}

	room, ok := h.rooms[p.RoomID]
	if !ok {
		room = &Room{
			id:        p.RoomID,
			createdAt: time.Now(),
			members:   make(map[uint]*Client),
			objects:   make(map[string]*SharedObject),
		}
		h.rooms[p.RoomID] = room
		h.log.WithField("room_id", p.RoomID).Info("room created")
	}
	room.members[c.userID] = c
	c.roomID = p.RoomID

	// Join confirmation to the caller: member list plus object snapshot
	members := make([]MemberEntry, 0, len(room.members))
	for _, m := range room.members {
		members = append(members, MemberEntry{
			UserID:      m.userID,
			DisplayName: m.displayName,
			Position:    m.position,
			Rotation:    m.rotation,
		})
	}
	objects := make([]*SharedObject, 0, len(room.objects))
	for _, o := range room.objects {
		objects = append(objects, o)
	}
	h.sendTo(c, EventSessionJoined, map[string]interface{}{
		"roomID":  room.id,
		"members": members,
		"objects": objects,
	})

	if rejoin {
		return
	}
	h.broadcastRoom(room, EventUserJoined, map[string]interface{}{
		"roomID":      room.id,
		"userID":      c.userID,
		"displayName": c.displayName,
	}, c)
}

func (h *Hub) onPosition(c *Client, payload json.RawMessage) {
	var p positionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	pos, rot := p.Position, p.Rotation
	c.position, c.rotation = &pos, &rot

	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	// The sender already has authoritative local state, so no echo back
	h.broadcastRoom(room, EventPositionUpdate, map[string]interface{}{
		"userID":   c.userID,
		"position": p.Position,
		"rotation": p.Rotation,
	}, c)
}

func (h *Hub) onCreateObject(c *Client, payload json.RawMessage) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	var p createObjectPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	isPublic := true
	if p.IsPublic != nil {
		isPublic = *p.IsPublic
	}
	obj := &SharedObject{
		ID:         p.ID,
		Type:       p.Type,
		Position:   p.Position,
		Rotation:   p.Rotation,
		Scale:      p.Scale,
		Properties: p.Properties,
		CreatorID:  c.userID,
		Editors:    p.Editors,
		Deleters:   p.Deleters,
		IsPublic:   isPublic,
	}
	// Re-creating an existing id overwrites it wholesale (last writer wins,
	// same as update semantics)
	room.objects[obj.ID] = obj

	// Full object to the entire room, caller included
	h.broadcastRoom(room, EventObjectCreated, obj, nil)
}

func (h *Hub) onUpdateObject(c *Client, payload json.RawMessage) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	var p ObjectPatch
	if err := json.Unmarshal(payload, &p); err != nil || p.ID == "" {
		return
	}
	obj, ok := room.objects[p.ID]
	if !ok {
		return
	}
	obj.Apply(p)

	// Patch (not the merged object) to the room, excluding the caller
	h.broadcastRoom(room, EventObjectUpdated, json.RawMessage(payload), c)
}

func (h *Hub) onChat(c *Client, payload json.RawMessage) {
	var p chatPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Content == "" {
		return
	}
	tag := p.RoomTag
	if tag == "" {
		tag = c.roomID
	}
	if tag == "" {
		return
	}

	entry := ChatEntry{
		ID:         uuid.NewString(),
		SenderID:   c.userID,
		SenderName: c.displayName,
		Content:    p.Content,
		RoomTag:    tag,
		Position:   p.Position,
		SentAt:     time.Now(),
	}
	log := append(h.chatLogs[tag], entry)
	if len(log) > maxChatLog {
		log = log[len(log)-maxChatLog:]
	}
	h.chatLogs[tag] = log

	if tag == GlobalRoom {
		h.broadcastAll(EventChatMessage, entry)
		return
	}
	if room, ok := h.rooms[tag]; ok {
		h.broadcastRoom(room, EventChatMessage, entry, nil)
	}
}

func (h *Hub) onChatHistory(c *Client, payload json.RawMessage) {
	var p chatHistoryPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.RoomTag == "" {
		return
	}
	entries := h.chatLogs[p.RoomTag]
	if entries == nil {
		entries = []ChatEntry{}
	}
	h.sendTo(c, EventChatHistory, map[string]interface{}{
		"roomTag":  p.RoomTag,
		"messages": entries,
	})
}

// onSignal forwards WebRTC offers/answers/candidates to the target user's
// connection only, with the sender's id attached.
func (h *Hub) onSignal(c *Client, eventType string, payload json.RawMessage) {
	var fields map[string]interface{}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return
	}
	targetID, ok := fields["targetUserID"].(float64)
	if !ok {
		return
	}
	target, ok := h.byUser[uint(targetID)]
	if !ok {
		return
	}
	fields["fromUserID"] = c.userID
	h.sendTo(target, eventType, fields)
}

// leaveRoom removes the client from its current room, notifies the remaining
// members and destroys the room (objects and chat log included) when its
// member set empties.
func (h *Hub) leaveRoom(c *Client) {
	if c.roomID == "" {
		return
	}
	roomID := c.roomID
	c.roomID = ""

	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	delete(room.members, c.userID)
	if len(room.members) == 0 {
		delete(h.rooms, roomID)
		delete(h.chatLogs, roomID)
		h.log.WithField("room_id", roomID).Info("room empty, destroyed")
		return
	}
	h.broadcastRoom(room, EventUserLeft, map[string]interface{}{
		"roomID":      roomID,
		"userID":      c.userID,
		"displayName": c.displayName,
	}, nil)
}

// --- fan-out ---

func (h *Hub) marshal(eventType string, payload interface{}) []byte {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.log.WithError(err).Error("marshal payload failed")
		return nil
	}
	data, err := json.Marshal(Envelope{Type: eventType, Payload: raw})
	if err != nil {
		return nil
	}
	return data
}

func (h *Hub) sendTo(c *Client, eventType string, payload interface{}) {
	data := h.marshal(eventType, payload)
	if data == nil {
		return
	}
	h.push(c, data)
}

// broadcastRoom fans out to a room's members, skipping exclude when set.
// Cost is O(room size), never O(all connections).
func (h *Hub) broadcastRoom(room *Room, eventType string, payload interface{}, exclude *Client) {
	data := h.marshal(eventType, payload)
	if data == nil {
		return
	}
	for _, member := range room.members {
		if member == exclude {
			continue
		}
		h.push(member, data)
	}
}

func (h *Hub) broadcastAll(eventType string, payload interface{}) {
	data := h.marshal(eventType, payload)
	if data == nil {
		return
	}
	for client := range h.clients {
		h.push(client, data)
	}
}

func (h *Hub) push(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.log.WithField("user_id", c.userID).Warn("send queue full, dropping message")
	}
}

func (h *Hub) broadcastRoster() {
	roster := make([]RosterEntry, 0, len(h.clients))
	for client := range h.clients {
		roster = append(roster, RosterEntry{
			UserID:      client.userID,
			DisplayName: client.displayName,
			RoomID:      client.roomID,
		})
	}
	h.broadcastAll(EventRoster, map[string]interface{}{"users": roster})
}
