package http

import (
	"github.com/gin-gonic/gin"

	"kbflow/internal/bootstrap"
	"kbflow/internal/transport/http/handler"
	"kbflow/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	vaultHandler := handler.NewVaultHandler(app.Orchestrator)
	agentHandler := handler.NewAgentHandler(app.Orchestrator)
	chatHandler := handler.NewChatHandler(app.Orchestrator)

	router.GET("/healthz", healthHandler.Check)

	v1 := router.Group("/api/v1")
	v1.GET("/ping", healthHandler.Ping)

	vaults := v1.Group("/vaults")
	vaults.POST("", vaultHandler.Create)
	vaults.GET("", vaultHandler.List)
	vaults.POST("/:id/documents", vaultHandler.Upload)
	vaults.GET("/:id/documents", vaultHandler.Documents)
	vaults.POST("/:id/index", vaultHandler.Index)
	vaults.GET("/:id/status", vaultHandler.Status)

	agents := v1.Group("/agents")
	agents.POST("", agentHandler.Create)
	agents.GET("", agentHandler.List)
	agents.GET("/:id", agentHandler.Get)
	agents.GET("/:id/profile", agentHandler.Describe)
	agents.PUT("/:id", agentHandler.Update)
	agents.DELETE("/:id", agentHandler.Delete)

	chat := v1.Group("/chat/:agent")
	chat.POST("/messages", chatHandler.SendMessage)
	chat.GET("/history", chatHandler.History)
	chat.DELETE("/history", chatHandler.Clear)
	chat.POST("/select", chatHandler.Select)
	chat.GET("/transcript", chatHandler.Transcript)

	admin := v1.Group("/admin")
	admin.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))
	admin.POST("/reindex", vaultHandler.AdminReindex)
	if app.Events != nil {
		admin.GET("/events", handler.NewEventHandler(app.Events).List)
	}

	return router
}
