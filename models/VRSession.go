package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Session environments selectable at creation time
var SessionEnvironments = []string{"default", "space", "forest", "ocean", "city", "custom"}

// VRSession is the durable record of a VR session. The relay keeps its own
// volatile room state; the two are reconciled only at the join/leave endpoints.
type VRSession struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:80;not null"`
	Description string `json:"description" gorm:"size:512"`

	HostID uint `json:"hostID" gorm:"not null;index"`
	Host   User `json:"host" gorm:"foreignKey:HostID"`

	Environment string `json:"environment" gorm:"size:16;default:default"`
	MaxUsers    int    `json:"maxUsers" gorm:"default:10"`

	Members       []SessionMember `json:"members" gorm:"foreignKey:SessionID"`
	SharedObjects []SessionObject `json:"sharedObjects" gorm:"foreignKey:SessionID"`

	Private        *bool `json:"private"`
	RequireInvite  *bool `json:"requireInvite"`
	VoiceEnabled   *bool `json:"voiceEnabled"`
	HandTracking   *bool `json:"handTracking"`
	PhysicsEnabled *bool `json:"physicsEnabled"`

	InviteCode   string         `json:"inviteCode" gorm:"uniqueIndex;size:12"`
	InvitedUsers datatypes.JSON `json:"invitedUsers"` // []uint
	BannedUsers  datatypes.JSON `json:"bannedUsers"`  // []SessionBan

	IsActive        bool       `json:"isActive" gorm:"default:true;index"`
	EndedAt         *time.Time `json:"endedAt"`
	DurationSeconds int64      `json:"durationSeconds"`
}

// SessionMember tracks a user's membership inside a session.
// Current membership is left_at IS NULL.
type SessionMember struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	SessionID uint `json:"sessionID" gorm:"not null;index"`

	UserID uint `json:"userID" gorm:"not null;index"`
	User   User `json:"user" gorm:"foreignKey:UserID"`

	JoinedAt  time.Time      `json:"joinedAt"`
	LeftAt    *time.Time     `json:"leftAt"`
	Position  datatypes.JSON `json:"position"` // [x, y, z]
	AvatarURL string         `json:"avatarURL" gorm:"size:512"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionObject is the persisted snapshot of a shared object. The relay owns
// the live copy; snapshots are written when a session is updated or ended.
type SessionObject struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	SessionID uint   `json:"sessionID" gorm:"not null;index"`
	ObjectID  string `json:"objectID" gorm:"size:64;index"`

	Type     string         `json:"type" gorm:"size:24"` // box, sphere, text, model, ...
	Position datatypes.JSON `json:"position"`
	Rotation datatypes.JSON `json:"rotation"`
	Scale    datatypes.JSON `json:"scale"`

	Properties datatypes.JSON `json:"properties"` // color, material, texture, text, opacity, ...

	CreatorID uint           `json:"creatorID" gorm:"index"`
	Editors   datatypes.JSON `json:"editors"`  // []uint
	Deleters  datatypes.JSON `json:"deleters"` // []uint
	IsPublic  bool           `json:"isPublic" gorm:"default:true"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionBan records a banned user and the reason given by the host.
type SessionBan struct {
	UserID uint   `json:"userID"`
	Reason string `json:"reason"`
}

// Bans returns the decoded ban list, empty when unset.
func (s *VRSession) Bans() []SessionBan {
	bans := []SessionBan{}
	if s.BannedUsers != nil {
		json.Unmarshal(s.BannedUsers, &bans)
	}
	return bans
}

// InvitedIDs returns the decoded invited-user list, empty when unset.
func (s *VRSession) InvitedIDs() []uint {
	ids := []uint{}
	if s.InvitedUsers != nil {
		json.Unmarshal(s.InvitedUsers, &ids)
	}
	return ids
}

// IsBanned reports whether the user appears on the ban list.
func (s *VRSession) IsBanned(userID uint) bool {
	for _, ban := range s.Bans() {
		if ban.UserID == userID {
			return true
		}
	}
	return false
}

// IsInvited reports whether the user appears on the invited list.
func (s *VRSession) IsInvited(userID uint) bool {
	for _, id := range s.InvitedIDs() {
		if id == userID {
			return true
		}
	}
	return false
}

// RequiresInvite reports whether joining is gated on an invite or the code.
func (s *VRSession) RequiresInvite() bool {
	return s.RequireInvite != nil && *s.RequireInvite
}

// IsPrivate reports whether the session is hidden from public listings.
func (s *VRSession) IsPrivate() bool {
	return s.Private != nil && *s.Private
}

// Close deactivates the session and stamps its end. The stamp is written at
// most once: closing an already-inactive session leaves EndedAt and
// DurationSeconds untouched. Reports whether this call performed the close.
func (s *VRSession) Close(now time.Time) bool {
	if !s.IsActive {
		return false
	}
	s.IsActive = false
	s.EndedAt = &now
	s.DurationSeconds = int64(now.Sub(s.CreatedAt).Seconds())
	return true
}

// CanUserJoin checks join eligibility against the loaded session state.
// The ban check runs first so a banned user is rejected as banned even when
// presenting a valid invite code. When an invite is required, presenting the
// current invite code counts the same as being on the invited list.
func (s *VRSession) CanUserJoin(userID uint, memberCount int, inviteCode string) (bool, string) {
	if s.IsBanned(userID) {
		return false, "banned"
	}
	if memberCount >= s.MaxUsers {
		return false, "capacity"
	}
	if s.RequiresInvite() && !s.IsInvited(userID) && inviteCode != s.InviteCode {
		return false, "invite"
	}
	return true, ""
}
