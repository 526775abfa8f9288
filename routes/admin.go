package routes

import (
	"net/http"
	"strings"
	"time"
	"vr-sessions-server/models"
	"vr-sessions-server/services"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"

	"github.com/kataras/iris/v12"
)

// ListUsers - GET /admin/users?role=&q=&page=&per_page=
func AdminListUsers(ctx iris.Context) {
	// Basic pagination
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	var users []models.User
	q := strings.TrimSpace(ctx.URLParamDefault("q", ""))
	role := strings.TrimSpace(ctx.URLParamDefault("role", ""))

	query := storage.DB.Model(&models.User{})
	if role != "" {
		query = query.Where("role = ?", role)
	}
	if q != "" {
		like := "%" + strings.ToLower(q) + "%"
		query = query.Where("lower(username) LIKE ? OR lower(display_name) LIKE ? OR lower(email) LIKE ?", like, like, like)
	}

	var total int64
	query.Count(&total)
	query = query.Offset((page - 1) * perPage).Limit(perPage)
	if err := query.Find(&users).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	utils.JSONPage(ctx, users, page, perPage, total)
}

// Change role - PATCH /admin/users/:id/role
func AdminChangeUserRole(ctx iris.Context) {
	// Middleware enforces super admin. Here perform change.
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithJSON(http.StatusBadRequest, iris.Map{"error": "invalid_id"})
		return
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := ctx.ReadJSON(&body); err != nil || (body.Role != "user" && body.Role != "admin" && body.Role != "super_admin") {
		ctx.StopWithJSON(http.StatusBadRequest, iris.Map{"error": "invalid_role"})
		return
	}

	var user models.User
	if err := storage.DB.First(&user, id).Error; err != nil {
		ctx.StopWithJSON(http.StatusNotFound, iris.Map{"error": "not_found"})
		return
	}

	before := user
	user.Role = body.Role
	if err := storage.DB.Save(&user).Error; err != nil {
		ctx.StopWithJSON(http.StatusInternalServerError, iris.Map{"error": "server_error"})
		return
	}

	utils.Audit(ctx, "user.role_update", "user", user.ID, before, user)

	ctx.JSON(iris.Map{"data": user})
}

// ListSessions - GET /admin/sessions?active=&page=&per_page=
// Private and ended sessions included; this is the operator view.
func AdminListSessions(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	query := storage.DB.Model(&models.VRSession{})
	if active := ctx.URLParam("active"); active != "" {
		query = query.Where("is_active = ?", active == "true")
	}

	var total int64
	query.Count(&total)

	var sessions []models.VRSession
	if err := query.Preload("Host").
		Order("created_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&sessions).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	utils.JSONPage(ctx, sessions, page, perPage, total)
}

// Force end - POST /admin/sessions/:id/end
func AdminEndSession(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithJSON(http.StatusBadRequest, iris.Map{"error": "invalid_id"})
		return
	}

	var session models.VRSession
	if err := storage.DB.First(&session, id).Error; err != nil {
		ctx.StopWithJSON(http.StatusNotFound, iris.Map{"error": "not_found"})
		return
	}

	before := session
	now := time.Now()
	members := []models.SessionMember{}
	storage.DB.Where("session_id = ? AND left_at IS NULL", session.ID).Find(&members)
	for i := range members {
		detachMember(&members[i], now)
	}
	closeSession(&session, now)

	for _, member := range members {
		go services.NotificationServiceInstance.SendSessionEndedNotification(member.UserID, session.ID, session.Name)
	}

	utils.Audit(ctx, "session.force_end", "vr_session", session.ID, before, session)

	ctx.JSON(iris.Map{"data": session})
}

// Deleted messages - GET /admin/messages/deleted?page=&per_page=
// Soft-deleted rows are invisible everywhere else; moderation reads them here.
func AdminListDeletedMessages(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	query := storage.DB.Unscoped().Model(&models.ChatMessage{}).
		Where("deleted_at IS NOT NULL")
	if roomTag := ctx.URLParam("roomTag"); roomTag != "" {
		query = query.Where("room_tag = ?", roomTag)
	}

	var total int64
	query.Count(&total)

	var messages []models.ChatMessage
	if err := query.Order("deleted_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&messages).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	utils.JSONPage(ctx, messages, page, perPage, total)
}

// Moderation delete - DELETE /admin/messages/:id
func AdminRemoveMessage(ctx iris.Context) {
	id, err := ctx.Params().GetUint("id")
	if err != nil {
		ctx.StopWithJSON(http.StatusBadRequest, iris.Map{"error": "invalid_id"})
		return
	}

	var message models.ChatMessage
	if err := storage.DB.First(&message, id).Error; err != nil {
		ctx.StopWithJSON(http.StatusNotFound, iris.Map{"error": "not_found"})
		return
	}

	before := message
	if err := storage.DB.Delete(&message).Error; err != nil {
		ctx.StopWithJSON(http.StatusInternalServerError, iris.Map{"error": "server_error"})
		return
	}

	utils.Audit(ctx, "message.remove", "chat_message", message.ID, before, nil)

	ctx.StatusCode(http.StatusNoContent)
}

// Audit trail - GET /admin/audit?page=&per_page=
func AdminListAuditLog(ctx iris.Context) {
	page := ctx.URLParamIntDefault("page", 1)
	perPage := ctx.URLParamIntDefault("per_page", 25)
	if perPage <= 0 || perPage > 100 {
		perPage = 25
	}

	query := storage.DB.Model(&models.AuditLog{})
	if action := ctx.URLParam("action"); action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	query.Count(&total)

	var entries []models.AuditLog
	if err := query.Order("created_at DESC").
		Offset((page - 1) * perPage).Limit(perPage).
		Find(&entries).Error; err != nil {
		utils.JSONError(ctx, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	utils.JSONPage(ctx, entries, page, perPage, total)
}
