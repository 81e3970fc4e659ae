package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kbflow/internal/bootstrap"
	mysqlClient "kbflow/internal/platform/mysql"
	"kbflow/internal/transport/http/response"
)

type HealthHandler struct {
	app *bootstrap.App
}

type dependencyStatus struct {
	OK      bool   `json:"ok"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Check reports remote reachability and the state of enabled infrastructure.
// Disabled dependencies never degrade the result.
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 6*time.Second)
	defer cancel()

	remote := h.checkRemote(ctx)
	deps := gin.H{
		"remote":   remote,
		"mysql":    h.checkMySQL(ctx),
		"redis":    h.checkRedis(ctx),
		"rabbitmq": h.checkRabbitMQ(),
	}

	allOK := remote.OK
	for _, v := range deps {
		if s := v.(dependencyStatus); s.Enabled && !s.OK {
			allOK = false
		}
	}
	statusCode := http.StatusOK
	if !allOK {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"dependencies": deps,
	})
}

// Ping is the connectivity check against the knowledge-base service.
func (h *HealthHandler) Ping(c *gin.Context) {
	result, err := h.app.Orchestrator.Ping(c.Request.Context())
	if err != nil {
		writeError(c, err, "ping failed")
		return
	}
	response.OK(c, gin.H{
		"reachable":   result.Reachable,
		"vault_count": result.VaultCount,
		"latency_ms":  result.Latency.Milliseconds(),
	})
}

func (h *HealthHandler) checkRemote(ctx context.Context) dependencyStatus {
	if _, err := h.app.Orchestrator.Ping(ctx); err != nil {
		return dependencyStatus{Enabled: true, Message: err.Error()}
	}
	return dependencyStatus{Enabled: true, OK: true}
}

func (h *HealthHandler) checkMySQL(ctx context.Context) dependencyStatus {
	if h.app.MySQL == nil {
		return dependencyStatus{}
	}
	if err := mysqlClient.Ping(ctx, h.app.MySQL); err != nil {
		return dependencyStatus{Enabled: true, Message: err.Error()}
	}
	return dependencyStatus{Enabled: true, OK: true}
}

func (h *HealthHandler) checkRedis(ctx context.Context) dependencyStatus {
	if h.app.Redis == nil {
		return dependencyStatus{}
	}
	if err := h.app.Redis.Ping(ctx).Err(); err != nil {
		return dependencyStatus{Enabled: true, Message: err.Error()}
	}
	return dependencyStatus{Enabled: true, OK: true}
}

func (h *HealthHandler) checkRabbitMQ() dependencyStatus {
	if h.app.MQConn == nil {
		return dependencyStatus{}
	}
	if h.app.MQConn.IsClosed() {
		return dependencyStatus{Enabled: true, Message: "connection closed"}
	}
	return dependencyStatus{Enabled: true, OK: true}
}
