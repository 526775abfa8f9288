package services

import (
	"encoding/json"
	"fmt"
	"log"
	"time"
	"vr-sessions-server/models"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"
)

// NotificationService handles all push notification logic
type NotificationService struct{}

// NewNotificationService creates a new notification service instance
func NewNotificationService() *NotificationService {
	return &NotificationService{}
}

// NotificationData represents the data payload for notifications
type NotificationData struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	// Deep linking data
	Screen string `json:"screen"`           // Target screen to navigate to
	Params string `json:"params"`           // JSON string of navigation parameters
	Action string `json:"action,omitempty"` // Specific action to perform
}

// getUserPushTokens retrieves all push tokens for a user
func (ns *NotificationService) getUserPushTokens(userID uint) ([]string, error) {
	var user models.User
	if err := storage.DB.First(&user, userID).Error; err != nil {
		return nil, fmt.Errorf("user not found: %v", err)
	}

	if user.AllowsNotifications == nil || !*user.AllowsNotifications || user.PushTokens == nil {
		return nil, fmt.Errorf("user has notifications disabled or no tokens")
	}

	var tokens []string
	if err := json.Unmarshal(user.PushTokens, &tokens); err != nil {
		return nil, fmt.Errorf("failed to unmarshal push tokens: %v", err)
	}

	return tokens, nil
}

// SendNotificationToUser sends a notification to a specific user
func (ns *NotificationService) SendNotificationToUser(userID uint, title, body string, data NotificationData) error {
	tokens, err := ns.getUserPushTokens(userID)
	if err != nil {
		log.Printf("Failed to get push tokens for user %d: %v", userID, err)
		return err
	}

	dataMap := map[string]string{
		"type":      data.Type,
		"id":        data.ID,
		"sessionId": data.SessionID,
		"userId":    data.UserID,
		"screen":    data.Screen,
		"params":    data.Params,
		"action":    data.Action,
	}

	var lastError error
	for _, token := range tokens {
		if err := utils.SendNotification(token, title, body, dataMap); err != nil {
			log.Printf("Failed to send notification to token %s: %v", token, err)
			lastError = err
		}
	}

	return lastError
}

// SendFriendAddedNotification sends notification when someone adds the user as a friend
func (ns *NotificationService) SendFriendAddedNotification(userID uint, friendName string) error {
	title := "👋 New Friend!"
	body := fmt.Sprintf("%s added you as a friend", friendName)

	params := fmt.Sprintf(`{"friendName": "%s"}`, friendName)

	data := NotificationData{
		Type:   "friend_added",
		UserID: fmt.Sprintf("%d", userID),
		Screen: "Friends",
		Params: params,
		Action: "view_friends",
	}

	err := ns.SendNotificationToUser(userID, title, body, data)
	if err != nil {
		log.Printf("❌ NOTIFICATION ERROR: Failed to send friend notification: %v", err)
	}
	return err
}

// SendSessionInviteNotification sends notification when a host invites the user to a session
func (ns *NotificationService) SendSessionInviteNotification(userID uint, hostName, sessionName string) error {
	title := "🥽 VR Session Invite!"
	body := fmt.Sprintf("%s invited you to join '%s'", hostName, sessionName)

	params := fmt.Sprintf(`{"hostName": "%s", "sessionName": "%s"}`, hostName, sessionName)

	data := NotificationData{
		Type:   "session_invite",
		UserID: fmt.Sprintf("%d", userID),
		Screen: "Sessions",
		Params: params,
		Action: "view_invite",
	}

	err := ns.SendNotificationToUser(userID, title, body, data)
	if err != nil {
		log.Printf("❌ NOTIFICATION ERROR: Failed to send session invite notification: %v", err)
	}
	return err
}

// SendSessionEndedNotification tells a member the session they were in has ended
func (ns *NotificationService) SendSessionEndedNotification(userID, sessionID uint, sessionName string) error {
	title := "🏁 Session Ended"
	body := fmt.Sprintf("'%s' has ended", sessionName)

	data := NotificationData{
		Type:      "session_ended",
		ID:        fmt.Sprintf("%d", sessionID),
		SessionID: fmt.Sprintf("%d", sessionID),
		UserID:    fmt.Sprintf("%d", userID),
		Screen:    "Sessions",
	}

	return ns.SendNotificationToUser(userID, title, body, data)
}

// SendWelcomeNotificationToNewUser sends welcome notification to new users
func (ns *NotificationService) SendWelcomeNotificationToNewUser(userID uint, displayName string) error {
	title := "🎉 Welcome!"
	body := fmt.Sprintf("Hi %s! Jump into a VR session and meet people.", displayName)

	data := NotificationData{
		Type:   "welcome",
		UserID: fmt.Sprintf("%d", userID),
	}

	// Wait a bit to ensure push token is registered
	time.Sleep(2 * time.Second)
	return ns.SendNotificationToUser(userID, title, body, data)
}

// Global notification service instance
var NotificationServiceInstance = NewNotificationService()
