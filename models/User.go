package models

import (
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username            string         `json:"username" gorm:"uniqueIndex"`
	Email               string         `json:"email" gorm:"uniqueIndex"`
	Password            string         `json:"password"`
	DisplayName         string         `json:"displayName"`
	SocialLogin         bool           `json:"socialLogin"`
	SocialProvider      string         `json:"socialProvider"`
	AvatarURL           string         `json:"avatarURL"`
	Bio                 string         `json:"bio"`
	Friends             datatypes.JSON `json:"friends"`
	PushTokens          datatypes.JSON `json:"pushTokens"`
	AllowsNotifications *bool          `json:"allowsNotifications"`
	Role                string         `json:"role" gorm:"type:varchar(20);default:user;index"` // user, admin, super_admin

	// VR usage statistics, maintained by the chat and session routes
	SessionsJoined     int   `json:"sessionsJoined"`
	MessagesSent       int   `json:"messagesSent"`
	TotalVRSeconds     int64 `json:"totalVRSeconds"`
	CurrentVRSessionID *uint `json:"currentVRSessionID" gorm:"index"`
}

// Custom JSON marshaling to handle JSON fields properly
func (u *User) MarshalJSON() ([]byte, error) {
	type Alias User
	aux := &struct {
		Password   string   `json:"password,omitempty"`
		Friends    []uint   `json:"friends"`
		PushTokens []string `json:"pushTokens,omitempty"`
		*Alias
	}{
		Friends:    []uint{},
		PushTokens: []string{},
		Alias:      (*Alias)(u),
	}

	// Parse Friends JSON
	if u.Friends != nil {
		var friends []uint
		if err := json.Unmarshal(u.Friends, &friends); err == nil {
			aux.Friends = friends
		}
	}

	// Parse PushTokens JSON
	if u.PushTokens != nil {
		var pushTokens []string
		if err := json.Unmarshal(u.PushTokens, &pushTokens); err == nil {
			aux.PushTokens = pushTokens
		}
	}

	// Never expose the password hash
	aux.Password = ""

	return json.Marshal(aux)
}

// FriendIDs returns the decoded friend list, empty when unset.
func (u *User) FriendIDs() []uint {
	ids := []uint{}
	if u.Friends != nil {
		json.Unmarshal(u.Friends, &ids)
	}
	return ids
}
