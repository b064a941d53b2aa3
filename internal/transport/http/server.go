package http

import (
	"github.com/gin-gonic/gin"

	"memoryvault/internal/bootstrap"
	"memoryvault/internal/transport/http/handler"
	"memoryvault/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/health", healthHandler.Check)
	router.GET("/health/detailed", healthHandler.Detailed)

	telegramHandler := handler.NewTelegramHandler(
		app.Bot,
		app.Telegram,
		app.AuthService,
		app.MemoryService,
		app.Config.Telegram.WebhookURL,
		app.Config.Telegram.WebhookSecret,
	)

	router.POST("/webhook", telegramHandler.Webhook)
	router.POST("/set-webhook", telegramHandler.SetWebhook)
	router.POST("/remove-webhook", telegramHandler.RemoveWebhook)
	router.GET("/bot-info", telegramHandler.BotInfo)

	internal := router.Group("/", middleware.InternalSecret(app.Config.Internal.APISecret))
	internal.POST("/generate-auth-code", telegramHandler.GenerateAuthCode)
	internal.GET("/connection-status/:user_id", telegramHandler.ConnectionStatus)
	internal.POST("/disconnect/:user_id", telegramHandler.Disconnect)

	return router
}
