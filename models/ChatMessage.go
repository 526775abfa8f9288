package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// How long the author may edit a message after sending it
const ChatEditWindow = 15 * time.Minute

// ChatMessage stores a single durable message tagged with a room.
// Soft-deleted messages stay in storage but are excluded from normal reads.
type ChatMessage struct {
	ID uint `json:"id" gorm:"primaryKey"`

	SenderID   uint   `json:"senderID" gorm:"not null;index"`
	Sender     User   `json:"sender" gorm:"foreignKey:SenderID"`
	SenderName string `json:"senderName" gorm:"size:80"` // denormalized for history reads

	Content string `json:"content" gorm:"type:text"`
	RoomTag string `json:"roomTag" gorm:"size:64;not null;index"`
	Type    string `json:"type" gorm:"size:12;default:text"` // text, image, voice, system

	// Optional position of the sender inside the VR scene at send time
	Position datatypes.JSON `json:"position"` // [x, y, z]

	CreatedAt time.Time      `json:"createdAt" gorm:"index"`
	EditedAt  *time.Time     `json:"editedAt"`
	DeletedAt gorm.DeletedAt `json:"deletedAt" gorm:"index"`
}

// CanEdit reports whether the given user may still edit this message.
func (m *ChatMessage) CanEdit(userID uint, now time.Time) bool {
	if m.SenderID != userID {
		return false
	}
	return now.Sub(m.CreatedAt) <= ChatEditWindow
}
