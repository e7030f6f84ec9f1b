package websocket

import (
	"net/http"

	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler WebSocket HTTP处理器
type Handler struct {
	hub *Hub
}

// NewHandler 创建新的WebSocket处理器
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes 统一注册路由
func RegisterRoutes(r gin.IRouter, handler *Handler) {
	r.GET(RouteWebSocket, handler.HandleWebSocket)
	r.GET(RouteWebSocketStats, handler.GetStats)
	r.GET(RouteWebSocketHealth, handler.HealthCheck)
}

// HandleWebSocket 处理WebSocket连接请求，用户由认证中间件解析
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString(constant.UserField)
	if userID == "" {
		logger.Warn("未认证的websocket连接")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "未认证的用户"})
		return
	}
	HandleWebSocket(h.hub, c.Writer, c.Request, userID, c.GetString(constant.UserTypeField))
}

// GetStats 获取WebSocket统计信息
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total_connections":   h.hub.GetConnectionCount(),
		"max_connections":     h.hub.config.MaxConnections,
		"heartbeat_interval":  h.hub.config.HeartbeatInterval.String(),
		"connection_timeout":  h.hub.config.ConnectionTimeout.String(),
		"message_buffer_size": h.hub.config.MessageBufferSize,
		"drop_on_full":        h.hub.config.DropOnFull,
	})
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"connections": h.hub.GetConnectionCount(),
	})
}
