package routes

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"vr-sessions-server/models"
	"vr-sessions-server/services"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"github.com/kataras/iris/v12"
	jsonWT "github.com/kataras/iris/v12/middleware/jwt"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slices"
	"gorm.io/gorm"
)

var googleUserInfoEndpoint = "https://www.googleapis.com/userinfo/v2/me"

func Register(ctx iris.Context) {
	var userInput RegisterUserInput
	err := ctx.ReadJSON(&userInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var newUser models.User
	usernameTaken, usernameErr := getAndHandleUserExistsByUsername(&newUser, userInput.Username)
	if usernameErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if usernameTaken == true {
		utils.CreateUsernameAlreadyRegistered(ctx)
		return
	}

	emailTaken, emailErr := getAndHandleUserExists(&newUser, userInput.Email)
	if emailErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if emailTaken == true {
		utils.CreateEmailAlreadyRegistered(ctx)
		return
	}

	hashedPassword, hashErr := hashAndSaltPassword(userInput.Password)
	if hashErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	displayName := userInput.DisplayName
	if displayName == "" {
		displayName = userInput.Username
	}

	newUser = models.User{
		Username:    strings.ToLower(userInput.Username),
		Email:       strings.ToLower(userInput.Email),
		Password:    hashedPassword,
		DisplayName: displayName,
		SocialLogin: false}

	storage.DB.Create(&newUser)

	go services.NotificationServiceInstance.SendWelcomeNotificationToNewUser(newUser.ID, newUser.DisplayName)

	returnUser(newUser, ctx)
}

func Login(ctx iris.Context) {
	var userInput LoginUserInput
	err := ctx.ReadJSON(&userInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var existingUser models.User
	errorMsg := "Invalid email or password."
	userExists, userExistsErr := getAndHandleUserExists(&existingUser, userInput.Email)
	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if userExists == false {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", errorMsg, ctx)
		return
	}

	if existingUser.SocialLogin == true {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", "Social Login Account", ctx)
		return
	}

	passwordErr := bcrypt.CompareHashAndPassword([]byte(existingUser.Password), []byte(userInput.Password))
	if passwordErr != nil {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", errorMsg, ctx)
		return
	}

	returnUser(existingUser, ctx)
}

func GoogleLoginOrSignUp(ctx iris.Context) {
	var userInput GoogleUserInput
	err := ctx.ReadJSON(&userInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	client := &http.Client{}
	req, _ := http.NewRequest("GET", googleUserInfoEndpoint, nil)
	req.Header.Set("Authorization", "Bearer "+userInput.AccessToken)
	res, googleErr := client.Do(req)
	if googleErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	defer res.Body.Close()
	body, bodyErr := io.ReadAll(res.Body)
	if bodyErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	var googleBody GoogleUserRes
	json.Unmarshal(body, &googleBody)

	if googleBody.Email == "" {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", "Invalid access token.", ctx)
		return
	}

	var user models.User
	userExists, userExistsErr := getAndHandleUserExists(&user, googleBody.Email)

	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if userExists == false {
		user = models.User{
			Username:       usernameFromEmail(googleBody.Email),
			Email:          strings.ToLower(googleBody.Email),
			DisplayName:    googleBody.Name,
			SocialLogin:    true,
			SocialProvider: "Google"}
		storage.DB.Create(&user)

		returnUser(user, ctx)
		return
	}

	if user.SocialLogin == true && user.SocialProvider == "Google" {
		returnUser(user, ctx)
		return
	}

	utils.CreateEmailAlreadyRegistered(ctx)
}

func AppleLoginOrSignUp(ctx iris.Context) {
	var userInput AppleUserInput
	err := ctx.ReadJSON(&userInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	res, httpErr := http.Get("https://appleid.apple.com/auth/keys")
	if httpErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	defer res.Body.Close()

	body, bodyErr := io.ReadAll(res.Body)
	if bodyErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	jwks, jwksErr := keyfunc.NewJSON(body)
	if jwksErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	// Keyfunc selects the JWKS key matching the token's kid
	token, tokenErr := jwt.Parse(userInput.IdentityToken, jwks.Keyfunc)
	if tokenErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if !token.Valid {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	email := fmt.Sprint(token.Claims.(jwt.MapClaims)["email"])
	if email == "" || email == "<nil>" {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", "Invalid user token.", ctx)
		return
	}

	var user models.User
	userExists, userExistsErr := getAndHandleUserExists(&user, email)

	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if userExists == false {
		user = models.User{
			Username:       usernameFromEmail(email),
			Email:          strings.ToLower(email),
			DisplayName:    usernameFromEmail(email),
			SocialLogin:    true,
			SocialProvider: "Apple"}
		storage.DB.Create(&user)

		returnUser(user, ctx)
		return
	}

	if user.SocialLogin == true && user.SocialProvider == "Apple" {
		returnUser(user, ctx)
		return
	}

	utils.CreateEmailAlreadyRegistered(ctx)
}

func ForgotPassword(ctx iris.Context) {
	var emailInput EmailRegisteredInput
	err := ctx.ReadJSON(&emailInput)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var user models.User
	userExists, userExistsErr := getAndHandleUserExists(&user, emailInput.Email)

	if userExistsErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if !userExists {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", "Invalid email.", ctx)
		return
	}

	if user.SocialLogin {
		utils.CreateError(iris.StatusUnauthorized, "Credentials Error", "Social Login Account", ctx)
		return
	}

	token, tokenErr := utils.CreateForgotPasswordToken(user.ID, user.Email)
	if tokenErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	link := "vrsessions://resetpassword/" + token
	subject := "Forgot Your Password?"

	html := `
	<p>It looks like you forgot your password.
	If you did, please click the link below to reset it.
	If you did not, disregard this email. Please update your password
	within 10 minutes, otherwise you will have to repeat this
	process. <a href=` + link + `>Click to Reset Password</a>
	</p><br />`

	emailSent, emailSentErr := utils.SendMail(user.Email, subject, html)
	if emailSentErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"emailSent": emailSent})
}

func ResetPassword(ctx iris.Context) {
	var password ResetPasswordInput
	err := ctx.ReadJSON(&password)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	hashedPassword, hashErr := hashAndSaltPassword(password.Password)
	if hashErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	claims := jsonWT.Get(ctx).(*utils.ForgotPasswordToken)

	var user models.User
	storage.DB.Model(&user).Where("id = ?", claims.ID).Update("password", hashedPassword)

	ctx.JSON(iris.Map{
		"passwordReset": true,
	})
}

// SearchUsers allows searching users by username, display name or email (auth required)
func SearchUsers(ctx iris.Context) {
	q := ctx.URLParamDefault("q", "")
	limit := ctx.URLParamIntDefault("limit", 20)
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if len(q) < 1 {
		ctx.JSON(iris.Map{"success": true, "users": []interface{}{}})
		return
	}
	var users []models.User
	search := "%" + q + "%"
	storage.DB.Limit(limit).
		Where("lower(username) LIKE lower(?) OR lower(display_name) LIKE lower(?) OR lower(email) LIKE lower(?)", search, search, search).
		Select("id, username, display_name, avatar_url").
		Find(&users)
	ctx.JSON(iris.Map{"success": true, "users": users})
}

func GetUser(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	ctx.JSON(user)
}

func UpdateUserProfile(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	var req UpdateProfileInput
	err := ctx.ReadJSON(&req)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	updates := make(map[string]interface{})
	if req.DisplayName != nil {
		updates["display_name"] = *req.DisplayName
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.AvatarBase64 != nil && *req.AvatarBase64 != "" {
		if user.AvatarURL != "" {
			storage.DeleteImageFromCloudinary(user.AvatarURL)
		}
		publicID := "avatar_" + strconv.FormatUint(uint64(user.ID), 10)
		uploaded := storage.UploadBase64Image(*req.AvatarBase64, publicID)
		if uploaded["url"] == "" {
			utils.CreateInternalServerError(ctx)
			return
		}
		updates["avatar_url"] = uploaded["url"]
	}

	if len(updates) > 0 {
		if err := storage.DB.Model(user).Updates(updates).Error; err != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	}

	ctx.JSON(user)
}

// GetUserFriends returns the full user records on the caller's friend list
func GetUserFriends(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	friendIDs := user.FriendIDs()
	friends := []models.User{}
	if len(friendIDs) > 0 {
		if err := storage.DB.Where("id IN ?", friendIDs).
			Select("id, username, display_name, avatar_url, current_vr_session_id").
			Find(&friends).Error; err != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	}

	ctx.JSON(iris.Map{"success": true, "friends": friends})
}

// AlterUserFriends adds or removes a friend on both users' lists
func AlterUserFriends(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	var req AlterFriendsInput
	err := ctx.ReadJSON(&req)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	if req.FriendID == user.ID {
		utils.CreateError(iris.StatusBadRequest, "Bad Request", "Cannot friend yourself.", ctx)
		return
	}

	var friend models.User
	if err := storage.DB.First(&friend, req.FriendID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	if err := alterFriendList(user, friend.ID, req.Op); err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if err := alterFriendList(&friend, user.ID, req.Op); err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	if req.Op == "add" {
		notificationService := services.NewNotificationService()
		go notificationService.SendFriendAddedNotification(friend.ID, user.DisplayName)
	}

	ctx.JSON(user)
}

// GetUserStats returns the VR usage counters maintained by the session and chat routes
func GetUserStats(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	ctx.JSON(iris.Map{
		"sessionsJoined":     user.SessionsJoined,
		"messagesSent":       user.MessagesSent,
		"totalVRSeconds":     user.TotalVRSeconds,
		"currentVRSessionID": user.CurrentVRSessionID,
	})
}

func CreateFeedback(ctx iris.Context) {
	claims := jsonWT.Get(ctx).(*utils.AccessToken)

	var req CreateFeedbackInput
	err := ctx.ReadJSON(&req)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	feedback := models.Feedback{
		UserID:     claims.ID,
		Title:      req.Title,
		Message:    req.Message,
		Rating:     req.Rating,
		Context:    req.Context,
		AppVersion: req.AppVersion,
		DeviceInfo: req.DeviceInfo,
	}
	if err := storage.DB.Create(&feedback).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{"success": true, "feedback": feedback})
}

func AlterPushToken(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	var req AlterPushTokenInput
	err := ctx.ReadJSON(&req)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	var currentTokens []string
	var pushTokens []string

	if user.PushTokens != nil {
		unmarshalErr := json.Unmarshal(user.PushTokens, &currentTokens)
		if unmarshalErr != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
	}

	if req.Op == "add" {
		if !slices.Contains(currentTokens, req.Token) {
			pushTokens = append(currentTokens, req.Token)
		} else {
			pushTokens = currentTokens
		}
	} else if req.Op == "replace" {
		pushTokens = []string{req.Token}
	} else {
		for _, token := range currentTokens {
			if token != req.Token {
				pushTokens = append(pushTokens, token)
			}
		}
	}

	marshalled, marshalErr := json.Marshal(pushTokens)
	if marshalErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}
	if err := storage.DB.Model(user).Update("push_tokens", marshalled).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(user)
}

func AllowsNotifications(ctx iris.Context) {
	params := ctx.Params()
	id := params.Get("id")

	user := getUserByID(id, ctx)
	if user == nil {
		return
	}

	var req AllowsNotificationsInput
	err := ctx.ReadJSON(&req)
	if err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	updates := map[string]interface{}{"allows_notifications": req.AllowsNotifications}
	// Clear push tokens when notifications are disabled
	if req.AllowsNotifications != nil && !*req.AllowsNotifications {
		updates["push_tokens"] = nil
	}
	if err := storage.DB.Model(user).Updates(updates).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(user)
}

func alterFriendList(user *models.User, friendID uint, op string) error {
	current := user.FriendIDs()
	var next []uint

	if op == "add" {
		if !slices.Contains(current, friendID) {
			next = append(current, friendID)
		} else {
			next = current
		}
	} else if op == "remove" {
		for _, id := range current {
			if id != friendID {
				next = append(next, id)
			}
		}
	}

	marshalled, marshalErr := json.Marshal(next)
	if marshalErr != nil {
		return marshalErr
	}
	return storage.DB.Model(user).Update("friends", marshalled).Error
}

func getUserByID(id string, ctx iris.Context) *models.User {
	var user models.User
	userExists := storage.DB.Where("id = ?", id).Find(&user)

	if userExists.Error != nil {
		utils.CreateInternalServerError(ctx)
		return nil
	}

	if userExists.RowsAffected == 0 {
		utils.CreateNotFound(ctx)
		return nil
	}

	return &user
}

func getAndHandleUserExists(user *models.User, email string) (exists bool, err error) {
	userExistsQuery := storage.DB.Where("email = ?", strings.ToLower(email)).Limit(1).Find(&user)

	if userExistsQuery.Error != nil && userExistsQuery.Error != gorm.ErrRecordNotFound {
		return false, userExistsQuery.Error
	}

	return userExistsQuery.RowsAffected > 0, nil
}

func getAndHandleUserExistsByUsername(user *models.User, username string) (exists bool, err error) {
	userExistsQuery := storage.DB.Where("username = ?", strings.ToLower(username)).Limit(1).Find(&user)

	if userExistsQuery.Error != nil && userExistsQuery.Error != gorm.ErrRecordNotFound {
		return false, userExistsQuery.Error
	}

	return userExistsQuery.RowsAffected > 0, nil
}

func hashAndSaltPassword(password string) (hashedPassword string, err error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(bytes), nil
}

func usernameFromEmail(email string) string {
	name := strings.ToLower(strings.SplitN(email, "@", 2)[0])
	// Suffix a short random token so colliding prefixes stay unique
	return name + "_" + utils.GenerateShortToken(2)
}

func returnUser(user models.User, ctx iris.Context) {
	tokenPair, tokenPairErr := utils.CreateTokenPair(user.ID)
	if tokenPairErr != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	ctx.JSON(iris.Map{
		"ID":           user.ID,
		"username":     user.Username,
		"email":        user.Email,
		"displayName":  user.DisplayName,
		"avatarURL":    user.AvatarURL,
		"accessToken":  string(tokenPair.AccessToken),
		"refreshToken": string(tokenPair.RefreshToken),
	})
}

type RegisterUserInput struct {
	Username    string `json:"username" validate:"required,min=3,max=32,alphanum"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=256"`
	DisplayName string `json:"displayName" validate:"max=80"`
}

type LoginUserInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type GoogleUserInput struct {
	AccessToken string `json:"accessToken" validate:"required"`
}

type GoogleUserRes struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type AppleUserInput struct {
	IdentityToken string `json:"identityToken" validate:"required"`
}

type EmailRegisteredInput struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordInput struct {
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type UpdateProfileInput struct {
	DisplayName  *string `json:"displayName" validate:"omitempty,max=80"`
	Bio          *string `json:"bio" validate:"omitempty,max=512"`
	AvatarBase64 *string `json:"avatarBase64"`
}

type AlterFriendsInput struct {
	FriendID uint   `json:"friendID" validate:"required"`
	Op       string `json:"op" validate:"required,oneof=add remove"`
}

type AlterPushTokenInput struct {
	Token string `json:"token" validate:"required"`
	Op    string `json:"op" validate:"required,oneof=add replace remove"`
}

type AllowsNotificationsInput struct {
	AllowsNotifications *bool `json:"allowsNotifications" validate:"required"`
}

type CreateFeedbackInput struct {
	Title      string `json:"title" validate:"max=200"`
	Message    string `json:"message" validate:"required,max=4000"`
	Rating     *int   `json:"rating" validate:"omitempty,min=1,max=5"`
	Context    string `json:"context" validate:"max=200"`
	AppVersion string `json:"appVersion" validate:"max=50"`
	DeviceInfo string `json:"deviceInfo" validate:"max=200"`
}
