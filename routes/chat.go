package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"vr-sessions-server/models"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"

	"github.com/kataras/iris/v12"
	jsonWT "github.com/kataras/iris/v12/middleware/jwt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var chatMessageTypes = []string{"text", "image", "voice", "system"}

// GetChatHistory returns a page of messages for a room, oldest first.
// Deleted messages never show up here; they stay visible to moderation only.
func GetChatHistory(ctx iris.Context) {
	params := ctx.Params()
	roomTag := params.Get("roomTag")

	page := ctx.URLParamIntDefault("page", 1)
	if page < 1 {
		page = 1
	}
	perPage := ctx.URLParamIntDefault("perPage", 50)
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	messages := []models.ChatMessage{}
	messagesErr := storage.DB.Where("room_tag = ?", roomTag).
		Order("id DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&messages).Error
	if messagesErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	// reverse to chronological
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	ctx.JSON(iris.Map{
		"success":  true,
		"roomTag":  roomTag,
		"page":     page,
		"messages": messages,
	})
}

func SendChatMessage(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	roomTag := params.Get("roomTag")

	var messageInput SendChatMessageInput
	err := ctx.ReadJSON(&messageInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	messageType := messageInput.Type
	if messageType == "" {
		messageType = "text"
	}
	found := false
	for _, t := range chatMessageTypes {
		if t == messageType {
			found = true
		}
	}
	if !found {
		utils.CreateError(iris.StatusBadRequest, "Invalid Type", "Unknown message type.", ctx)
		return
	}

	var sender models.User
	senderExists, senderErr := getUserRecordByID(&sender, claims.ID)
	if senderErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if senderExists == false {
		utils.CreateNotFound(ctx)
		return
	}
	senderName := sender.DisplayName
	if senderName == "" {
		senderName = sender.Username
	}

	message := models.ChatMessage{
		SenderID:   claims.ID,
		SenderName: senderName,
		Content:    messageInput.Content,
		RoomTag:    roomTag,
		Type:       messageType,
	}
	if messageInput.Position != nil {
		position, _ := json.Marshal(messageInput.Position)
		message.Position = datatypes.JSON(position)
	}

	createErr := storage.DB.Create(&message).Error
	if createErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	storage.DB.Model(&sender).Update("messages_sent", gorm.Expr("messages_sent + 1"))

	ctx.JSON(iris.Map{"success": true, "message": message})
}

func EditChatMessage(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var editInput EditChatMessageInput
	err := ctx.ReadJSON(&editInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var message models.ChatMessage
	messageErr := storage.DB.First(&message, id).Error
	if messageErr != nil {
		if messageErr == gorm.ErrRecordNotFound {
			utils.CreateNotFound(ctx)
			return
		}
		utils.CreateInternalServerError(ctx)
		return
	}

	now := time.Now()
	if !message.CanEdit(claims.ID, now) {
		utils.CreateForbidden(ctx)
		return
	}

	updateErr := storage.DB.Model(&message).Updates(map[string]interface{}{
		"content":   editInput.Content,
		"edited_at": now,
	}).Error
	if updateErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"success": true, "message": message})
}

func DeleteChatMessage(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var message models.ChatMessage
	messageErr := storage.DB.First(&message, id).Error
	if messageErr != nil {
		if messageErr == gorm.ErrRecordNotFound {
			utils.CreateNotFound(ctx)
			return
		}
		utils.CreateInternalServerError(ctx)
		return
	}

	if message.SenderID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}

	deleteErr := storage.DB.Delete(&message).Error
	if deleteErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.StatusCode(http.StatusNoContent)
}

// ListChatRooms returns the most recently active rooms with a message count
// and a preview of the latest message.
func ListChatRooms(ctx iris.Context) {
	type roomRow struct {
		RoomTag  string    `json:"roomTag"`
		Messages int64     `json:"messages"`
		LastAt   time.Time `json:"lastAt"`
	}

	rows := []roomRow{}
	rowsErr := storage.DB.Model(&models.ChatMessage{}).
		Select("room_tag, COUNT(*) AS messages, MAX(created_at) AS last_at").
		Group("room_tag").
		Order("last_at DESC").
		Limit(20).
		Scan(&rows).Error
	if rowsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	rooms := []iris.Map{}
	for _, row := range rows {
		var last models.ChatMessage
		storage.DB.Where("room_tag = ?", row.RoomTag).Order("id DESC").First(&last)
		rooms = append(rooms, iris.Map{
			"roomTag":  row.RoomTag,
			"messages": row.Messages,
			"lastAt":   row.LastAt,
			"preview":  last.Content,
		})
	}

	ctx.JSON(iris.Map{"success": true, "rooms": rooms})
}

// Typing indicator: set a short-lived key in Redis for 5 seconds
func Typing(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	roomTag := params.Get("roomTag")

	key := typingKey(roomTag, claims.ID)
	storage.Redis.Set(ctx, key, "1", 5*time.Second)
	ctx.JSON(iris.Map{"success": true})
}

// ListTyping scans the room's typing keys and resolves them to display names
func ListTyping(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	roomTag := params.Get("roomTag")

	keys, keysErr := storage.Redis.Keys(ctx, "typing:"+roomTag+":*").Result()
	if keysErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	typing := []iris.Map{}
	for _, key := range keys {
		parts := strings.Split(key, ":")
		userID, parseErr := strconv.ParseUint(parts[len(parts)-1], 10, 64)
		if parseErr != nil || uint(userID) == claims.ID {
			continue
		}
		var user models.User
		if err := storage.DB.Select("id, username, display_name").First(&user, userID).Error; err != nil {
			continue
		}
		name := user.DisplayName
		if name == "" {
			name = user.Username
		}
		typing = append(typing, iris.Map{
			"userID": user.ID,
			"name":   name,
		})
	}

	ctx.JSON(iris.Map{"success": true, "typing": typing})
}

func typingKey(roomTag string, userID uint) string {
	return fmt.Sprintf("typing:%s:%d", roomTag, userID)
}

type SendChatMessageInput struct {
	Content  string      `json:"content" validate:"required,max=1000"`
	Type     string      `json:"type" validate:"omitempty,max=12"`
	Position *[3]float64 `json:"position"`
}

type EditChatMessageInput struct {
	Content string `json:"content" validate:"required,max=1000"`
}
