package routes

import (
	"encoding/json"
	"time"
	"vr-sessions-server/models"
	"vr-sessions-server/services"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"

	"github.com/kataras/iris/v12"
	jsonWT "github.com/kataras/iris/v12/middleware/jwt"
	"golang.org/x/exp/slices"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func CreateSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)

	var sessionInput CreateSessionInput
	err := ctx.ReadJSON(&sessionInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	if !slices.Contains(models.SessionEnvironments, sessionInput.Environment) {
		utils.CreateError(iris.StatusBadRequest, "Invalid Environment", "Unknown session environment.", ctx)
		return
	}

	var host models.User
	hostExists, hostErr := getUserRecordByID(&host, claims.ID)
	if hostErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if hostExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	now := time.Now()
	session := models.VRSession{
		Name:           sessionInput.Name,
		Description:    sessionInput.Description,
		HostID:         claims.ID,
		Environment:    sessionInput.Environment,
		MaxUsers:       sessionInput.MaxUsers,
		Private:        sessionInput.Private,
		RequireInvite:  sessionInput.RequireInvite,
		VoiceEnabled:   sessionInput.VoiceEnabled,
		HandTracking:   sessionInput.HandTracking,
		PhysicsEnabled: sessionInput.PhysicsEnabled,
		InviteCode:     utils.GenerateShortToken(3),
		IsActive:       true,
		Members: []models.SessionMember{{
			UserID:    claims.ID,
			JoinedAt:  now,
			AvatarURL: host.AvatarURL,
		}},
	}

	createErr := storage.DB.Create(&session).Error
	if createErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	storage.DB.Model(&host).Updates(map[string]interface{}{
		"sessions_joined":       gorm.Expr("sessions_joined + 1"),
		"current_vr_session_id": session.ID,
	})

	ctx.JSON(session)
}

// GetSessions lists sessions for an authenticated user. Private sessions show
// up only for their host or invited users.
func GetSessions(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)

	sessions := []models.VRSession{}
	query := storage.DB.Preload("Host").Preload("Members", "left_at IS NULL")

	if ctx.URLParamDefault("active", "true") == "true" {
		query = query.Where("is_active = true")
	}
	if environment := ctx.URLParam("environment"); environment != "" {
		query = query.Where("environment = ?", environment)
	}
	if ctx.URLParam("mine") == "true" {
		query = query.Where("host_id = ?", claims.ID)
	}

	sessionsErr := query.Order("created_at DESC").Find(&sessions).Error
	if sessionsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	visible := []models.VRSession{}
	for _, session := range sessions {
		if session.IsPrivate() && session.HostID != claims.ID && !session.IsInvited(claims.ID) {
			continue
		}
		hideSessionSecrets(&session, claims.ID)
		visible = append(visible, session)
	}

	ctx.JSON(visible)
}

// GetPublicSessions is the unauthenticated session browser: active, public
// sessions only, invite codes stripped.
func GetPublicSessions(ctx iris.Context) {
	sessions := []models.VRSession{}
	query := storage.DB.Preload("Host").Preload("Members", "left_at IS NULL").
		Where("is_active = true").
		Where("private IS NULL OR private = false")

	if environment := ctx.URLParam("environment"); environment != "" {
		query = query.Where("environment = ?", environment)
	}

	sessionsErr := query.Order("created_at DESC").Find(&sessions).Error
	if sessionsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	for i := range sessions {
		hideSessionSecrets(&sessions[i], 0)
	}

	ctx.JSON(sessions)
}

func GetSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var session models.VRSession
	sessionExists, sessionErr := getSessionWithAssociationsByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.IsPrivate() && session.HostID != claims.ID && !session.IsInvited(claims.ID) {
		utils.CreateForbidden(ctx)
		return
	}

	hideSessionSecrets(&session, claims.ID)
	ctx.JSON(session)
}

func JoinSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var joinInput JoinSessionInput
	err := ctx.ReadJSON(&joinInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.IsActive == false {
		utils.CreateError(iris.StatusConflict, "Session Ended", "This session has already ended.", ctx)
		return
	}

	memberCount, countErr := activeMemberCount(session.ID)
	if countErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	var existing models.SessionMember
	existingErr := storage.DB.Where("session_id = ? AND user_id = ? AND left_at IS NULL", session.ID, claims.ID).
		First(&existing).Error
	if existingErr == nil {
		utils.CreateError(iris.StatusConflict, "Already Joined", "You are already in this session.", ctx)
		return
	} else if existingErr != gorm.ErrRecordNotFound {
		utils.CreateInternalServerError(ctx)
		return
	}

	allowed, reason := session.CanUserJoin(claims.ID, memberCount, joinInput.InviteCode)
	if !allowed {
		switch reason {
		case "banned":
			utils.CreateError(iris.StatusForbidden, "Banned", "You are banned from this session.", ctx)
		case "capacity":
			utils.CreateError(iris.StatusConflict, "Session Full", "This session is at capacity.", ctx)
		default:
			utils.CreateError(iris.StatusForbidden, "Invite Required", "A valid invite or invite code is required.", ctx)
		}
		return
	}

	var user models.User
	userExists, userErr := getUserRecordByID(&user, claims.ID)
	if userErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if userExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	member := models.SessionMember{
		SessionID: session.ID,
		UserID:    claims.ID,
		JoinedAt:  time.Now(),
		AvatarURL: user.AvatarURL,
	}
	memberErr := storage.DB.Create(&member).Error
	if memberErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	storage.DB.Model(&user).Updates(map[string]interface{}{
		"sessions_joined":       gorm.Expr("sessions_joined + 1"),
		"current_vr_session_id": session.ID,
	})

	ctx.JSON(iris.Map{
		"success": true,
		"session": session,
		"member":  member,
	})
}

func LeaveSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	var member models.SessionMember
	memberErr := storage.DB.Where("session_id = ? AND user_id = ? AND left_at IS NULL", session.ID, claims.ID).
		First(&member).Error
	if memberErr == gorm.ErrRecordNotFound {
		utils.CreateError(iris.StatusConflict, "Not A Member", "You are not in this session.", ctx)
		return
	} else if memberErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	now := time.Now()
	detachMember(&member, now)

	remaining, countErr := activeMemberCount(session.ID)
	if countErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if remaining == 0 {
		closeSession(&session, now)
	}

	ctx.JSON(iris.Map{"success": true})
}

func UpdateSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var updateInput UpdateSessionInput
	err := ctx.ReadJSON(&updateInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.HostID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}

	updates := make(map[string]interface{})
	if updateInput.Name != nil {
		updates["name"] = *updateInput.Name
	}
	if updateInput.Description != nil {
		updates["description"] = *updateInput.Description
	}
	if updateInput.Environment != nil {
		if !slices.Contains(models.SessionEnvironments, *updateInput.Environment) {
			utils.CreateError(iris.StatusBadRequest, "Invalid Environment", "Unknown session environment.", ctx)
			return
		}
		updates["environment"] = *updateInput.Environment
	}
	if updateInput.MaxUsers != nil {
		updates["max_users"] = *updateInput.MaxUsers
	}
	if updateInput.Private != nil {
		updates["private"] = *updateInput.Private
	}
	if updateInput.RequireInvite != nil {
		updates["require_invite"] = *updateInput.RequireInvite
	}
	if updateInput.VoiceEnabled != nil {
		updates["voice_enabled"] = *updateInput.VoiceEnabled
	}
	if updateInput.HandTracking != nil {
		updates["hand_tracking"] = *updateInput.HandTracking
	}
	if updateInput.PhysicsEnabled != nil {
		updates["physics_enabled"] = *updateInput.PhysicsEnabled
	}

	if len(updates) > 0 {
		updateErr := storage.DB.Model(&session).Updates(updates).Error
		if updateErr != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	}

	ctx.JSON(session)
}

// EndSession terminates a session for everyone in it. Host only; leaving is
// the per-user exit.
func EndSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.HostID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}

	now := time.Now()
	members := []models.SessionMember{}
	membersErr := storage.DB.Where("session_id = ? AND left_at IS NULL", session.ID).Find(&members).Error
	if membersErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	for i := range members {
		detachMember(&members[i], now)
	}

	closeSession(&session, now)

	for _, member := range members {
		if member.UserID == session.HostID {
			continue
		}
		go services.NotificationServiceInstance.SendSessionEndedNotification(member.UserID, session.ID, session.Name)
	}

	ctx.JSON(iris.Map{
		"success":         true,
		"endedAt":         session.EndedAt,
		"durationSeconds": session.DurationSeconds,
	})
}

func RegenerateInviteCode(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.HostID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}

	code := utils.GenerateShortToken(3)
	codeErr := storage.DB.Model(&session).Update("invite_code", code).Error
	if codeErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"inviteCode": code})
}

func InviteUsersToSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var inviteInput InviteUsersInput
	err := ctx.ReadJSON(&inviteInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.HostID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}

	var host models.User
	hostExists, hostErr := getUserRecordByID(&host, claims.ID)
	if hostErr != nil || hostExists == false {
		utils.CreateInternalServerError(ctx)
		return
	}

	invited := session.InvitedIDs()
	added := []uint{}
	for _, userID := range inviteInput.UserIDs {
		if userID == session.HostID || slices.Contains(invited, userID) || session.IsBanned(userID) {
			continue
		}
		invited = append(invited, userID)
		added = append(added, userID)
	}

	invitedJSON, _ := json.Marshal(invited)
	updateErr := storage.DB.Model(&session).Update("invited_users", datatypes.JSON(invitedJSON)).Error
	if updateErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	notificationService := services.NewNotificationService()
	for _, userID := range added {
		notificationService.SendSessionInviteNotification(userID, host.DisplayName, session.Name)
	}

	ctx.JSON(iris.Map{"invitedUsers": invited})
}

// BanUserFromSession puts a user on the ban list and ejects them if they are
// currently in the session. Bans also revoke any standing invite.
func BanUserFromSession(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var banInput BanUserInput
	err := ctx.ReadJSON(&banInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.HostID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}
	if banInput.UserID == session.HostID {
		utils.CreateError(iris.StatusBadRequest, "Invalid Ban", "The host cannot be banned.", ctx)
		return
	}

	bans := session.Bans()
	if !session.IsBanned(banInput.UserID) {
		bans = append(bans, models.SessionBan{UserID: banInput.UserID, Reason: banInput.Reason})
	}
	bansJSON, _ := json.Marshal(bans)

	invited := []uint{}
	for _, userID := range session.InvitedIDs() {
		if userID != banInput.UserID {
			invited = append(invited, userID)
		}
	}
	invitedJSON, _ := json.Marshal(invited)

	updateErr := storage.DB.Model(&session).Updates(map[string]interface{}{
		"banned_users":  datatypes.JSON(bansJSON),
		"invited_users": datatypes.JSON(invitedJSON),
	}).Error
	if updateErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	var member models.SessionMember
	memberErr := storage.DB.Where("session_id = ? AND user_id = ? AND left_at IS NULL", session.ID, banInput.UserID).
		First(&member).Error
	if memberErr == nil {
		detachMember(&member, time.Now())
	}

	ctx.JSON(iris.Map{"success": true, "bannedUsers": bans})
}

// SaveSessionObjects replaces the persisted shared-object snapshot for a
// session. The relay owns the live objects; hosts call this to make the scene
// survive a restart.
func SaveSessionObjects(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)
	params := ctx.Params()
	id := params.Get("id")

	var objectsInput SaveSessionObjectsInput
	err := ctx.ReadJSON(&objectsInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var session models.VRSession
	sessionExists, sessionErr := getSessionByID(&session, id)
	if sessionErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if sessionExists == false {
		utils.CreateNotFound(ctx)
		return
	}

	if session.HostID != claims.ID {
		utils.CreateForbidden(ctx)
		return
	}

	objects := make([]models.SessionObject, 0, len(objectsInput.Objects))
	for _, input := range objectsInput.Objects {
		position, _ := json.Marshal(input.Position)
		rotation, _ := json.Marshal(input.Rotation)
		scale, _ := json.Marshal(input.Scale)
		properties, _ := json.Marshal(input.Properties)
		editors, _ := json.Marshal(input.Editors)
		deleters, _ := json.Marshal(input.Deleters)
		objects = append(objects, models.SessionObject{
			SessionID:  session.ID,
			ObjectID:   input.ObjectID,
			Type:       input.Type,
			Position:   datatypes.JSON(position),
			Rotation:   datatypes.JSON(rotation),
			Scale:      datatypes.JSON(scale),
			Properties: datatypes.JSON(properties),
			CreatorID:  input.CreatorID,
			Editors:    datatypes.JSON(editors),
			Deleters:   datatypes.JSON(deleters),
			IsPublic:   input.IsPublic,
		})
	}

	deleteErr := storage.DB.Where("session_id = ?", session.ID).Delete(&models.SessionObject{}).Error
	if deleteErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if len(objects) > 0 {
		createErr := storage.DB.Create(&objects).Error
		if createErr != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	}

	ctx.JSON(iris.Map{"success": true, "count": len(objects)})
}

func getUserRecordByID(user *models.User, id uint) (bool, error) {
	userErr := storage.DB.First(user, id).Error
	if userErr != nil {
		if userErr == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, userErr
	}
	return true, nil
}

func getSessionByID(session *models.VRSession, id string) (bool, error) {
	sessionErr := storage.DB.First(session, id).Error
	if sessionErr != nil {
		if sessionErr == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, sessionErr
	}
	return true, nil
}

func getSessionWithAssociationsByID(session *models.VRSession, id string) (bool, error) {
	sessionErr := storage.DB.
		Preload("Host").
		Preload("Members", "left_at IS NULL").
		Preload("Members.User").
		Preload("SharedObjects").
		First(session, id).Error
	if sessionErr != nil {
		if sessionErr == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, sessionErr
	}
	return true, nil
}

func activeMemberCount(sessionID uint) (int, error) {
	var count int64
	countErr := storage.DB.Model(&models.SessionMember{}).
		Where("session_id = ? AND left_at IS NULL", sessionID).
		Count(&count).Error
	return int(count), countErr
}

// detachMember stamps the membership closed and credits the user's VR time.
func detachMember(member *models.SessionMember, now time.Time) {
	seconds := int64(now.Sub(member.JoinedAt).Seconds())
	if seconds < 0 {
		seconds = 0
	}
	storage.DB.Model(member).Update("left_at", now)
	storage.DB.Model(&models.User{}).Where("id = ?", member.UserID).Updates(map[string]interface{}{
		"total_vr_seconds":      gorm.Expr("total_vr_seconds + ?", seconds),
		"current_vr_session_id": nil,
	})
}

// closeSession persists the one-time deactivation stamp.
func closeSession(session *models.VRSession, now time.Time) {
	if !session.Close(now) {
		return
	}
	storage.DB.Model(session).Updates(map[string]interface{}{
		"is_active":        false,
		"ended_at":         now,
		"duration_seconds": session.DurationSeconds,
	})
}

// hideSessionSecrets strips host-only fields before returning a session to a
// non-host viewer.
func hideSessionSecrets(session *models.VRSession, viewerID uint) {
	if session.HostID == viewerID {
		return
	}
	session.InviteCode = ""
	session.BannedUsers = nil
	session.InvitedUsers = nil
}

type CreateSessionInput struct {
	Name           string `json:"name" validate:"required,max=80"`
	Description    string `json:"description" validate:"max=512"`
	Environment    string `json:"environment" validate:"required"`
	MaxUsers       int    `json:"maxUsers" validate:"required,gte=2,lte=100"`
	Private        *bool  `json:"private"`
	RequireInvite  *bool  `json:"requireInvite"`
	VoiceEnabled   *bool  `json:"voiceEnabled"`
	HandTracking   *bool  `json:"handTracking"`
	PhysicsEnabled *bool  `json:"physicsEnabled"`
}

type JoinSessionInput struct {
	InviteCode string `json:"inviteCode" validate:"max=12"`
}

type UpdateSessionInput struct {
	Name           *string `json:"name" validate:"omitempty,max=80"`
	Description    *string `json:"description" validate:"omitempty,max=512"`
	Environment    *string `json:"environment"`
	MaxUsers       *int    `json:"maxUsers" validate:"omitempty,gte=2,lte=100"`
	Private        *bool   `json:"private"`
	RequireInvite  *bool   `json:"requireInvite"`
	VoiceEnabled   *bool   `json:"voiceEnabled"`
	HandTracking   *bool   `json:"handTracking"`
	PhysicsEnabled *bool   `json:"physicsEnabled"`
}

type InviteUsersInput struct {
	UserIDs []uint `json:"userIDs" validate:"required,min=1"`
}

type BanUserInput struct {
	UserID uint   `json:"userID" validate:"required"`
	Reason string `json:"reason" validate:"max=200"`
}

type SessionObjectInput struct {
	ObjectID   string                 `json:"objectID" validate:"required,max=64"`
	Type       string                 `json:"objectType" validate:"required,max=24"`
	Position   [3]float64             `json:"position"`
	Rotation   [3]float64             `json:"rotation"`
	Scale      [3]float64             `json:"scale"`
	Properties map[string]interface{} `json:"properties"`
	CreatorID  uint                   `json:"creatorID"`
	Editors    []uint                 `json:"editors"`
	Deleters   []uint                 `json:"deleters"`
	IsPublic   bool                   `json:"isPublic"`
}

type SaveSessionObjectsInput struct {
	Objects []SessionObjectInput `json:"objects" validate:"dive"`
}
