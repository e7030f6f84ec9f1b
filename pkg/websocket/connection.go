package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// newUpgrader 根据配置创建WebSocket升级器
func newUpgrader(cfg *Config) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			// 在生产环境中应该检查Origin
			return true
		},
		EnableCompression: cfg.EnableCompression,
	}
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request, userID, userType string) {
	upgrader := newUpgrader(hub.config)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.Errorf("WebSocket升级失败: %v", err)
		return
	}

	if hub.config.EnableCompression {
		conn.EnableWriteCompression(true)
		if hub.config.CompressionLevel != 0 {
			_ = conn.SetCompressionLevel(hub.config.CompressionLevel)
		}
	}

	connection := NewConnection(hub, "conn_"+uuid.NewString(), userID, userType)
	connection.Conn = conn
	if userType == UserTypeAdmin {
		connection.Groups[AdminGroup] = true
	}

	hub.Register(connection)

	go connection.writePump()
	go connection.readPump()
}

// readPump 读取消息的协程
func (c *Connection) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(int64(c.Hub.config.MaxMessageSize))
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.touch()
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.ConnectionTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket读取错误: %v", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump 发送消息的协程
func (c *Connection) writePump() {
	interval := c.Hub.config.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(time.Duration(float64(interval) * 0.9))
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// 将队列中的其他消息也一起发送
			n := len(c.Send)
			for i := 0; i < n; i++ {
				_, _ = w.Write([]byte{'\n'})
				_, _ = w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.LastPing = time.Now()
	c.mu.Unlock()
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type authenticatePayload struct {
	UserType     string `json:"userType"`
	SOSRequestID string `json:"sosRequestId"`
}

type locationPayload struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	SOSRequestID string  `json:"sosRequestId"`
}

type typingPayload struct {
	ChatID string `json:"chatId"`
}

// handleMessage 处理接收到的消息
func (c *Connection) handleMessage(message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		logrus.Errorf("消息解析失败: %v", err)
		return
	}

	switch msg.Type {
	case MessageTypePing:
		c.touch()
		c.reply(MessageTypePong, nil)
	case MessageTypeAuthenticate:
		var p authenticatePayload
		if json.Unmarshal(msg.Data, &p) != nil {
			c.reply(MessageTypeError, ErrInvalidMessageData)
			return
		}
		c.handleAuthenticate(p)
	case MessageTypeJoinGroup:
		var group string
		if json.Unmarshal(msg.Data, &group) != nil || !c.mayJoin(group) {
			c.reply(MessageTypeError, ErrGroupForbidden)
			return
		}
		c.JoinGroup(group)
		c.reply(MessageTypeGroupJoined, group)
	case MessageTypeLeaveGroup:
		var group string
		if json.Unmarshal(msg.Data, &group) != nil {
			return
		}
		c.LeaveGroup(group)
		c.reply(MessageTypeGroupLeft, group)
	case MessageTypeLocationUpdate:
		var p locationPayload
		if json.Unmarshal(msg.Data, &p) != nil {
			c.reply(MessageTypeError, ErrInvalidMessageData)
			return
		}
		c.handleLocation(p)
	case MessageTypeTypingStart, MessageTypeTypingStop:
		var p typingPayload
		if json.Unmarshal(msg.Data, &p) != nil || p.ChatID == "" {
			return
		}
		group := ChatGroupPrefix + p.ChatID
		if !c.IsInGroup(group) {
			return
		}
		c.Hub.broadcastToGroup(group, MessageTypeUserTyping, map[string]interface{}{
			"userId":   c.UserID,
			"isTyping": msg.Type == MessageTypeTypingStart,
		}, c.UserID, c.ID)
	default:
		logrus.Warnf("未知的消息类型: %s", msg.Type)
	}
}

// handleAuthenticate 订阅请求房间；司机与救援员额外订阅聊天房间
func (c *Connection) handleAuthenticate(p authenticatePayload) {
	if p.UserType != "" && c.UserType == "" {
		c.UserType = p.UserType
	}
	if c.UserType == UserTypeAdmin {
		c.JoinGroup(AdminGroup)
	}
	if p.SOSRequestID != "" {
		if !c.mayJoin(SOSGroupPrefix + p.SOSRequestID) {
			c.reply(MessageTypeError, ErrGroupForbidden)
			return
		}
		c.JoinGroup(SOSGroupPrefix + p.SOSRequestID)
		if c.UserType == UserTypeDriver || c.UserType == UserTypeAttendant {
			c.JoinGroup(ChatGroupPrefix + p.SOSRequestID)
		}
	}
	c.reply(MessageTypeAuthenticated, map[string]interface{}{
		"userId": c.UserID,
		"groups": c.GetGroups(),
	})
}

func (c *Connection) handleLocation(p locationPayload) {
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		c.reply(MessageTypeError, ErrInvalidMessageData)
		return
	}
	if hook := c.Hub.getHooks().OnLocation; hook != nil {
		hook(c.UserID, c.UserType, p.Latitude, p.Longitude)
	}
	if p.SOSRequestID == "" {
		return
	}
	group := SOSGroupPrefix + p.SOSRequestID
	if !c.IsInGroup(group) {
		return
	}
	c.Hub.broadcastToGroup(group, MessageTypeLocationUpdate, map[string]interface{}{
		"userId":    c.UserID,
		"latitude":  p.Latitude,
		"longitude": p.Longitude,
		"timestamp": time.Now().UTC(),
	}, c.UserID, c.ID)
}

// mayJoin 请求相关房间需业务层授权
func (c *Connection) mayJoin(group string) bool {
	if group == "" {
		return false
	}
	if group == AdminGroup {
		return c.UserType == UserTypeAdmin
	}
	var requestID string
	switch {
	case strings.HasPrefix(group, SOSGroupPrefix):
		requestID = strings.TrimPrefix(group, SOSGroupPrefix)
	case strings.HasPrefix(group, ChatGroupPrefix):
		requestID = strings.TrimPrefix(group, ChatGroupPrefix)
	default:
		return true
	}
	if c.UserType == UserTypeAdmin {
		return true
	}
	can := c.Hub.getHooks().CanJoinRequest
	return can == nil || can(c.UserID, requestID)
}

func (c *Connection) reply(event string, data interface{}) {
	payload, err := encode(event, data, "", c.UserID, "")
	if err != nil {
		return
	}
	select {
	case c.Send <- payload:
	default:
		logrus.Warnf("连接 %s 发送缓冲区已满", c.ID)
	}
}

// JoinGroup 加入组
func (c *Connection) JoinGroup(groupName string) {
	c.mu.Lock()
	c.Groups[groupName] = true
	c.mu.Unlock()

	c.Hub.mu.Lock()
	if _, registered := c.Hub.connections[c.ID]; registered {
		c.Hub.addToGroupLocked(groupName, c.ID)
	}
	c.Hub.mu.Unlock()
}

// LeaveGroup 离开组
func (c *Connection) LeaveGroup(groupName string) {
	c.mu.Lock()
	delete(c.Groups, groupName)
	c.mu.Unlock()

	c.Hub.mu.Lock()
	c.Hub.removeFromGroupLocked(groupName, c.ID)
	c.Hub.mu.Unlock()
}

// IsInGroup 检查是否在指定组中
func (c *Connection) IsInGroup(groupName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Groups[groupName]
}

// GetGroups 获取连接所属的组
func (c *Connection) GetGroups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	groups := make([]string, 0, len(c.Groups))
	for group := range c.Groups {
		groups = append(groups, group)
	}
	return groups
}
