package main

import (
	"fmt"
	"log"
	"os"
	"vr-sessions-server/relay"
	"vr-sessions-server/routes"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

func main() {
	godotenv.Load()
	storage.InitializeDB()
	storage.InitializeS3()
	storage.InitializeRedis()

	app := iris.New()
	app.Validator = validator.New()

	// CORS for the web dashboard (http://localhost:3000)
	app.AllowMethods(iris.MethodOptions)
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})

	app.Use(iris.Compression)

	resetTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("EMAIL_TOKEN_SECRET")))
	resetTokenVerifier.WithDefaultBlocklist()
	resetTokenVerifierMiddleware := resetTokenVerifier.Verify(func() interface{} {
		return new(utils.ForgotPasswordToken)
	})

	accessTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
	accessTokenVerifier.WithDefaultBlocklist()
	accessTokenVerifierMiddleware := accessTokenVerifier.Verify(func() interface{} {
		return new(utils.AccessToken)
	})

	refreshTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("REFRESH_TOKEN_SECRET")))
	refreshTokenVerifier.WithDefaultBlocklist()
	refreshTokenVerifierMiddleware := refreshTokenVerifier.Verify(func() interface{} {
		return new(jwt.Claims)
	})

	refreshTokenVerifier.Extractors = append(refreshTokenVerifier.Extractors, func(ctx iris.Context) string {
		var tokenInput utils.RefreshTokenInput
		err := ctx.ReadJSON(&tokenInput)
		if err != nil {
			return ""
		}

		return tokenInput.RefreshToken
	})

	app.Get("/health", func(ctx iris.Context) {
		ctx.JSON(iris.Map{"status": "ok"})
	})

	user := app.Party("/api/user")
	{
		user.Post("/register", routes.Register)
		user.Post("/login", routes.Login)
		user.Post("/google", routes.GoogleLoginOrSignUp)
		user.Post("/apple", routes.AppleLoginOrSignUp)
		user.Post("/forgotpassword", routes.ForgotPassword)
		user.Post("/resetpassword", resetTokenVerifierMiddleware, routes.ResetPassword)
		user.Get("/search", accessTokenVerifierMiddleware, routes.SearchUsers)
		user.Get("/{id}", accessTokenVerifierMiddleware, routes.GetUser)
		user.Patch("/{id}/profile", accessTokenVerifierMiddleware, utils.UserIDMiddleware, routes.UpdateUserProfile)
		user.Get("/{id}/friends", accessTokenVerifierMiddleware, utils.UserIDMiddleware, routes.GetUserFriends)
		user.Patch("/{id}/friends", accessTokenVerifierMiddleware, utils.UserIDMiddleware, routes.AlterUserFriends)
		user.Get("/{id}/stats", accessTokenVerifierMiddleware, routes.GetUserStats)
		user.Patch("/{id}/pushtoken", accessTokenVerifierMiddleware, utils.UserIDMiddleware, routes.AlterPushToken)
		user.Patch("/{id}/settings/notifications", accessTokenVerifierMiddleware, utils.UserIDMiddleware, routes.AllowsNotifications)
		user.Post("/feedback", accessTokenVerifierMiddleware, routes.CreateFeedback)
	}

	session := app.Party("/api/session")
	{
		session.Get("/public", routes.GetPublicSessions)
		session.Post("/", accessTokenVerifierMiddleware, routes.CreateSession)
		session.Get("/", accessTokenVerifierMiddleware, routes.GetSessions)
		session.Get("/{id:uint}", accessTokenVerifierMiddleware, routes.GetSession)
		session.Post("/{id:uint}/join", accessTokenVerifierMiddleware, routes.JoinSession)
		session.Post("/{id:uint}/leave", accessTokenVerifierMiddleware, routes.LeaveSession)
		session.Patch("/{id:uint}", accessTokenVerifierMiddleware, routes.UpdateSession)
		session.Post("/{id:uint}/end", accessTokenVerifierMiddleware, routes.EndSession)
		session.Post("/{id:uint}/invite-code", accessTokenVerifierMiddleware, routes.RegenerateInviteCode)
		session.Post("/{id:uint}/invites", accessTokenVerifierMiddleware, routes.InviteUsersToSession)
		session.Post("/{id:uint}/ban", accessTokenVerifierMiddleware, routes.BanUserFromSession)
		session.Put("/{id:uint}/objects", accessTokenVerifierMiddleware, routes.SaveSessionObjects)
	}

	chat := app.Party("/api/chat")
	{
		chat.Get("/rooms", accessTokenVerifierMiddleware, routes.ListChatRooms)
		chat.Get("/{roomTag}/messages", accessTokenVerifierMiddleware, routes.GetChatHistory)
		chat.Post("/{roomTag}/messages", accessTokenVerifierMiddleware, routes.SendChatMessage)
		chat.Patch("/messages/{id:uint}", accessTokenVerifierMiddleware, routes.EditChatMessage)
		chat.Delete("/messages/{id:uint}", accessTokenVerifierMiddleware, routes.DeleteChatMessage)
		chat.Post("/{roomTag}/typing", accessTokenVerifierMiddleware, routes.Typing)
		chat.Get("/{roomTag}/typing", accessTokenVerifierMiddleware, routes.ListTyping)
	}

	admin := app.Party("/api/admin", accessTokenVerifierMiddleware, utils.AdminOnlyMiddleware)
	{
		admin.Get("/users", routes.AdminListUsers)
		admin.Patch("/users/{id:uint}/role", utils.SuperAdminOnlyMiddleware, routes.AdminChangeUserRole)
		admin.Get("/sessions", routes.AdminListSessions)
		admin.Post("/sessions/{id:uint}/end", routes.AdminEndSession)
		admin.Get("/messages/deleted", routes.AdminListDeletedMessages)
		admin.Delete("/messages/{id:uint}", routes.AdminRemoveMessage)
		admin.Get("/audit", routes.AdminListAuditLog)
	}

	app.Post("/api/refresh", refreshTokenVerifierMiddleware, utils.RefreshToken)

	hub := relay.NewHub()
	go hub.Run()
	app.Get("/ws", accessTokenVerifierMiddleware, relay.HandleConnection(hub))

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}
	addr := "0.0.0.0:" + port

	fmt.Printf("🚀 Server starting on %s\n", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("❌ Server failed to start: %v", err)
	}
}
