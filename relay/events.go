package relay

import (
	"encoding/json"
	"time"
)

// Vector3 is a position/rotation/scale triple as sent by VR clients.
type Vector3 [3]float64

// Envelope is the wire format for every relay event, in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound event types
const (
	EventJoinSession        = "join_vr_session"
	EventPositionUpdate     = "vr_position_update"
	EventCreateObject       = "create_shared_object"
	EventUpdateObject       = "update_shared_object"
	EventSendChat           = "send_chat_message"
	EventGetChatHistory     = "get_chat_history"
	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCICECandidate = "webrtc_ice_candidate"
)

// Outbound event types
const (
	EventRoster        = "user_list"
	EventSessionJoined = "vr_session_joined"
	EventUserJoined    = "user_joined_session"
	EventUserLeft      = "user_left_session"
	EventObjectCreated = "shared_object_created"
	EventObjectUpdated = "shared_object_updated"
	EventChatMessage   = "chat_message"
	EventChatHistory   = "chat_history"
)

// GlobalRoom is the reserved chat room that fans out to every connection.
const GlobalRoom = "global"

// SharedObject is the live state of a manipulable VR entity inside a room.
type SharedObject struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"objectType"` // box, sphere, text, model, ...
	Position   Vector3                `json:"position"`
	Rotation   Vector3                `json:"rotation"`
	Scale      Vector3                `json:"scale"`
	Properties map[string]interface{} `json:"properties"` // color, material, texture, text, opacity, ...
	CreatorID  uint                   `json:"creatorID"`
	Editors    []uint                 `json:"editors"`
	Deleters   []uint                 `json:"deleters"`
	IsPublic   bool                   `json:"isPublic"`
}

// ObjectPatch carries a partial update for a shared object. Nil fields are
// left untouched; Properties merges key by key over the existing bag.
type ObjectPatch struct {
	ID         string                 `json:"id"`
	Type       *string                `json:"objectType"`
	Position   *Vector3               `json:"position"`
	Rotation   *Vector3               `json:"rotation"`
	Scale      *Vector3               `json:"scale"`
	Properties map[string]interface{} `json:"properties"`
	Editors    *[]uint                `json:"editors"`
	Deleters   *[]uint                `json:"deleters"`
	IsPublic   *bool                  `json:"isPublic"`
}

// Apply merges the patch into the object field by field.
func (o *SharedObject) Apply(p ObjectPatch) {
	if p.Type != nil {
		o.Type = *p.Type
	}
	if p.Position != nil {
		o.Position = *p.Position
	}
	if p.Rotation != nil {
		o.Rotation = *p.Rotation
	}
	if p.Scale != nil {
		o.Scale = *p.Scale
	}
	if p.Properties != nil {
		if o.Properties == nil {
			o.Properties = make(map[string]interface{}, len(p.Properties))
		}
		for k, v := range p.Properties {
			o.Properties[k] = v
		}
	}
	if p.Editors != nil {
		o.Editors = *p.Editors
	}
	if p.Deleters != nil {
		o.Deleters = *p.Deleters
	}
	if p.IsPublic != nil {
		o.IsPublic = *p.IsPublic
	}
}

type joinPayload struct {
	RoomID string `json:"roomID"`
}

type positionPayload struct {
	Position Vector3 `json:"position"`
	Rotation Vector3 `json:"rotation"`
}

type createObjectPayload struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"objectType"`
	Position   Vector3                `json:"position"`
	Rotation   Vector3                `json:"rotation"`
	Scale      Vector3                `json:"scale"`
	Properties map[string]interface{} `json:"properties"`
	Editors    []uint                 `json:"editors"`
	Deleters   []uint                 `json:"deleters"`
	IsPublic   *bool                  `json:"isPublic"`
}

type chatPayload struct {
	Content  string   `json:"content"`
	RoomTag  string   `json:"roomTag"`
	Position *Vector3 `json:"position"`
}

type chatHistoryPayload struct {
	RoomTag string `json:"roomTag"`
}

// ChatEntry is one message in a room's bounded in-memory log. These never
// touch the Chat Store; the durable log is written by the HTTP chat routes.
type ChatEntry struct {
	ID         string    `json:"id"`
	SenderID   uint      `json:"senderID"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	RoomTag    string    `json:"roomTag"`
	Position   *Vector3  `json:"position,omitempty"`
	SentAt     time.Time `json:"sentAt"`
}

// RosterEntry is one connected user in the global roster snapshot.
type RosterEntry struct {
	UserID      uint   `json:"userID"`
	DisplayName string `json:"displayName"`
	RoomID      string `json:"roomID,omitempty"`
}

// MemberEntry is one room member in a join confirmation.
type MemberEntry struct {
	UserID      uint     `json:"userID"`
	DisplayName string   `json:"displayName"`
	Position    *Vector3 `json:"position,omitempty"`
	Rotation    *Vector3 `json:"rotation,omitempty"`
}
