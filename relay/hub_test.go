package relay

import (
	"encoding/json"
	"fmt"
	"testing"
)

// newTestClient builds a client wired to the hub with a buffered send queue
// and no underlying socket. Handlers only ever touch the queue.
func newTestClient(h *Hub, userID uint, name string) *Client {
	return &Client{
		hub:         h,
		send:        make(chan []byte, 256),
		userID:      userID,
		displayName: name,
	}
}

func recvEvent(t *testing.T, c *Client) (Envelope, bool) {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		return env, true
	default:
		return Envelope{}, false
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func mustRaw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func joinRoom(t *testing.T, h *Hub, c *Client, roomID string) {
	t.Helper()
	h.onJoin(c, mustRaw(t, map[string]string{"roomID": roomID}))
}

func TestJoinSendsSnapshotAndNotifiesRoom(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	b := newTestClient(h, 2, "bob")
	h.onRegister(a)
	h.onRegister(b)
	drain(a)
	drain(b)

	joinRoom(t, h, a, "42")
	env, ok := recvEvent(t, a)
	if !ok || env.Type != EventSessionJoined {
		t.Fatalf("expected %s to caller, got %+v", EventSessionJoined, env)
	}

	drain(a)
	joinRoom(t, h, b, "42")

	var joined struct {
		RoomID  string         `json:"roomID"`
		Members []MemberEntry  `json:"members"`
		Objects []SharedObject `json:"objects"`
	}
	env, ok = recvEvent(t, b)
	if !ok || env.Type != EventSessionJoined {
		t.Fatalf("expected %s to joiner, got %+v", EventSessionJoined, env)
	}
	if err := json.Unmarshal(env.Payload, &joined); err != nil {
		t.Fatalf("unmarshal join payload: %v", err)
	}
	if joined.RoomID != "42" || len(joined.Members) != 2 {
		t.Fatalf("expected both members in snapshot, got %+v", joined)
	}

	env, ok = recvEvent(t, a)
	if !ok || env.Type != EventUserJoined {
		t.Fatalf("expected %s to existing member, got %+v", EventUserJoined, env)
	}
}

func TestSameRoomJoinResyncsWithoutRenotifying(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	b := newTestClient(h, 2, "bob")
	h.onRegister(a)
	h.onRegister(b)
	joinRoom(t, h, a, "42")
	joinRoom(t, h, b, "42")
	h.onCreateObject(a, mustRaw(t, map[string]interface{}{
		"id": "cube-1", "objectType": "box",
	}))
	drain(a)
	drain(b)

	// Joining the room a client is already in returns a fresh snapshot
	joinRoom(t, h, a, "42")

	env, ok := recvEvent(t, a)
	if !ok || env.Type != EventSessionJoined {
		t.Fatalf("rejoin should resend %s, got %+v", EventSessionJoined, env)
	}
	var joined struct {
		Members []MemberEntry  `json:"members"`
		Objects []SharedObject `json:"objects"`
	}
	json.Unmarshal(env.Payload, &joined)
	if len(joined.Members) != 2 || len(joined.Objects) != 1 {
		t.Fatalf("rejoin snapshot should carry current state, got %+v", joined)
	}

	// The rest of the room is not told about a join that never happened
	if env, ok := recvEvent(t, b); ok {
		t.Fatalf("peer should not be renotified on rejoin, got %s", env.Type)
	}
	if len(h.rooms["42"].members) != 2 {
		t.Fatalf("membership should be unchanged, got %d", len(h.rooms["42"].members))
	}
}

func TestRoomDestroyedWhenLastMemberLeaves(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)
	joinRoom(t, h, a, "9")
	h.onCreateObject(a, mustRaw(t, map[string]interface{}{
		"id": "cube-1", "objectType": "box",
	}))
	h.onChat(a, mustRaw(t, map[string]string{"content": "hi", "roomTag": "9"}))
	h.onUnregister(a)

	if _, ok := h.rooms["9"]; ok {
		t.Fatal("room should be destroyed when empty")
	}
	if _, ok := h.chatLogs["9"]; ok {
		t.Fatal("room chat log should be destroyed with the room")
	}

	// A later joiner gets a fresh room with no leftover objects
	b := newTestClient(h, 2, "bob")
	h.onRegister(b)
	drain(b)
	joinRoom(t, h, b, "9")

	env, ok := recvEvent(t, b)
	if !ok || env.Type != EventSessionJoined {
		t.Fatalf("expected %s, got %+v", EventSessionJoined, env)
	}
	var joined struct {
		Objects []SharedObject `json:"objects"`
	}
	json.Unmarshal(env.Payload, &joined)
	if len(joined.Objects) != 0 {
		t.Fatalf("fresh room should have no objects, got %d", len(joined.Objects))
	}
}

func TestCreateObjectDuplicateIDOverwrites(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)
	joinRoom(t, h, a, "r")
	drain(a)

	h.onCreateObject(a, mustRaw(t, map[string]interface{}{
		"id": "obj-1", "objectType": "box",
		"properties": map[string]interface{}{"color": "red"},
	}))
	h.onCreateObject(a, mustRaw(t, map[string]interface{}{
		"id": "obj-1", "objectType": "sphere",
	}))

	room := h.rooms["r"]
	if len(room.objects) != 1 {
		t.Fatalf("expected 1 object, got %d", len(room.objects))
	}
	obj := room.objects["obj-1"]
	if obj.Type != "sphere" {
		t.Fatalf("expected overwrite to win, got type %q", obj.Type)
	}
	if obj.Properties != nil && obj.Properties["color"] == "red" {
		t.Fatal("overwrite should not retain old properties")
	}
}

func TestCreateObjectGeneratesIDWhenMissing(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)
	joinRoom(t, h, a, "r")
	drain(a)

	h.onCreateObject(a, mustRaw(t, map[string]interface{}{"objectType": "text"}))

	env, ok := recvEvent(t, a)
	if !ok || env.Type != EventObjectCreated {
		t.Fatalf("creator should receive %s, got %+v", EventObjectCreated, env)
	}
	var obj SharedObject
	json.Unmarshal(env.Payload, &obj)
	if obj.ID == "" {
		t.Fatal("expected generated object id")
	}
	if obj.CreatorID != 1 {
		t.Fatalf("expected creator id 1, got %d", obj.CreatorID)
	}
	if !obj.IsPublic {
		t.Fatal("objects default to public")
	}
}

func TestUpdateObjectMergesPatch(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	b := newTestClient(h, 2, "bob")
	h.onRegister(a)
	h.onRegister(b)
	joinRoom(t, h, a, "r")
	joinRoom(t, h, b, "r")

	h.onCreateObject(a, mustRaw(t, map[string]interface{}{
		"id": "obj-1", "objectType": "box",
		"position":   [3]float64{1, 2, 3},
		"scale":      [3]float64{2, 2, 2},
		"properties": map[string]interface{}{"color": "red", "opacity": 0.5},
	}))
	drain(a)
	drain(b)

	h.onUpdateObject(b, mustRaw(t, map[string]interface{}{
		"id":         "obj-1",
		"position":   [3]float64{9, 9, 9},
		"properties": map[string]interface{}{"color": "blue"},
	}))

	obj := h.rooms["r"].objects["obj-1"]
	if obj.Position != (Vector3{9, 9, 9}) {
		t.Fatalf("position not updated: %v", obj.Position)
	}
	if obj.Scale != (Vector3{2, 2, 2}) {
		t.Fatalf("untouched field changed: %v", obj.Scale)
	}
	if obj.Properties["color"] != "blue" {
		t.Fatalf("patched property not applied: %v", obj.Properties["color"])
	}
	if obj.Properties["opacity"] != 0.5 {
		t.Fatalf("unpatched property lost: %v", obj.Properties["opacity"])
	}

	// Patch goes to the other member, not back to the sender
	if env, ok := recvEvent(t, b); ok {
		t.Fatalf("sender should not receive its own patch, got %s", env.Type)
	}
	env, ok := recvEvent(t, a)
	if !ok || env.Type != EventObjectUpdated {
		t.Fatalf("peer should receive %s, got %+v", EventObjectUpdated, env)
	}
}

func TestPositionUpdateNotEchoedToSender(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	b := newTestClient(h, 2, "bob")
	h.onRegister(a)
	h.onRegister(b)
	joinRoom(t, h, a, "r")
	joinRoom(t, h, b, "r")
	drain(a)
	drain(b)

	h.onPosition(a, mustRaw(t, map[string]interface{}{
		"position": [3]float64{1, 0, 1},
		"rotation": [3]float64{0, 90, 0},
	}))

	if env, ok := recvEvent(t, a); ok {
		t.Fatalf("sender should not be echoed, got %s", env.Type)
	}
	env, ok := recvEvent(t, b)
	if !ok || env.Type != EventPositionUpdate {
		t.Fatalf("peer should receive %s, got %+v", EventPositionUpdate, env)
	}
	var p struct {
		UserID   uint    `json:"userID"`
		Position Vector3 `json:"position"`
	}
	json.Unmarshal(env.Payload, &p)
	if p.UserID != 1 || p.Position != (Vector3{1, 0, 1}) {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestChatLogIsBounded(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)
	joinRoom(t, h, a, "r")
	drain(a)

	for i := 0; i < maxChatLog+50; i++ {
		h.onChat(a, mustRaw(t, map[string]string{
			"content": fmt.Sprintf("msg %d", i),
			"roomTag": "r",
		}))
	}
	drain(a)

	h.onChatHistory(a, mustRaw(t, map[string]string{"roomTag": "r"}))
	env, ok := recvEvent(t, a)
	if !ok || env.Type != EventChatHistory {
		t.Fatalf("expected %s, got %+v", EventChatHistory, env)
	}
	var hist struct {
		Messages []ChatEntry `json:"messages"`
	}
	json.Unmarshal(env.Payload, &hist)
	if len(hist.Messages) != maxChatLog {
		t.Fatalf("expected log capped at %d, got %d", maxChatLog, len(hist.Messages))
	}
	if hist.Messages[len(hist.Messages)-1].Content != fmt.Sprintf("msg %d", maxChatLog+49) {
		t.Fatalf("expected newest message retained, got %q", hist.Messages[len(hist.Messages)-1].Content)
	}
}

func TestGlobalChatReachesEveryConnection(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	b := newTestClient(h, 2, "bob")
	c := newTestClient(h, 3, "carol")
	h.onRegister(a)
	h.onRegister(b)
	h.onRegister(c)
	joinRoom(t, h, a, "r")
	// b and c never join a room
	drain(a)
	drain(b)
	drain(c)

	h.onChat(a, mustRaw(t, map[string]string{"content": "hello all", "roomTag": GlobalRoom}))

	for _, cl := range []*Client{a, b, c} {
		env, ok := recvEvent(t, cl)
		if !ok || env.Type != EventChatMessage {
			t.Fatalf("user %d should receive global chat, got %+v", cl.userID, env)
		}
	}
}

func TestSignalForwardedToTargetOnly(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	b := newTestClient(h, 2, "bob")
	c := newTestClient(h, 3, "carol")
	h.onRegister(a)
	h.onRegister(b)
	h.onRegister(c)
	drain(a)
	drain(b)
	drain(c)

	h.onSignal(a, EventWebRTCOffer, mustRaw(t, map[string]interface{}{
		"targetUserID": 2,
		"sdp":          "v=0 fake offer",
	}))

	env, ok := recvEvent(t, b)
	if !ok || env.Type != EventWebRTCOffer {
		t.Fatalf("target should receive offer, got %+v", env)
	}
	var fields map[string]interface{}
	json.Unmarshal(env.Payload, &fields)
	if fields["fromUserID"] != float64(1) {
		t.Fatalf("expected sender id attached, got %v", fields["fromUserID"])
	}
	if _, ok := recvEvent(t, a); ok {
		t.Fatal("sender should not receive the forwarded offer")
	}
	if _, ok := recvEvent(t, c); ok {
		t.Fatal("third parties should not receive the offer")
	}
}

func TestSignalToUnknownTargetIsDropped(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)
	drain(a)

	h.onSignal(a, EventWebRTCAnswer, mustRaw(t, map[string]interface{}{
		"targetUserID": 99,
		"sdp":          "v=0 fake answer",
	}))

	if env, ok := recvEvent(t, a); ok {
		t.Fatalf("expected silent drop, got %s", env.Type)
	}
}

func TestRosterBroadcastOnConnectAndDisconnect(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)

	env, ok := recvEvent(t, a)
	if !ok || env.Type != EventRoster {
		t.Fatalf("expected %s on connect, got %+v", EventRoster, env)
	}

	b := newTestClient(h, 2, "bob")
	h.onRegister(b)
	env, ok = recvEvent(t, a)
	if !ok || env.Type != EventRoster {
		t.Fatalf("expected %s when peer connects, got %+v", EventRoster, env)
	}
	var roster struct {
		Users []RosterEntry `json:"users"`
	}
	json.Unmarshal(env.Payload, &roster)
	if len(roster.Users) != 2 {
		t.Fatalf("expected 2 users in roster, got %d", len(roster.Users))
	}

	drain(a)
	h.onUnregister(b)
	env, ok = recvEvent(t, a)
	if !ok || env.Type != EventRoster {
		t.Fatalf("expected %s when peer disconnects, got %+v", EventRoster, env)
	}
	json.Unmarshal(env.Payload, &roster)
	if len(roster.Users) != 1 {
		t.Fatalf("expected 1 user in roster, got %d", len(roster.Users))
	}
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	h := NewHub()
	a := newTestClient(h, 1, "alice")
	h.onRegister(a)
	drain(a)

	h.onMessage(a, []byte("{not json"))
	h.onMessage(a, mustRaw(t, Envelope{Type: "no_such_event"}))
	h.onJoin(a, mustRaw(t, map[string]string{}))

	if env, ok := recvEvent(t, a); ok {
		t.Fatalf("malformed input should no-op, got %s", env.Type)
	}
	if len(h.rooms) != 0 {
		t.Fatal("no room should exist")
	}
}
