package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Group     string      `json:"group,omitempty"`
}

// Connection 表示一个WebSocket连接
type Connection struct {
	ID       string
	UserID   string
	UserType string
	Conn     *websocket.Conn
	Send     chan []byte
	Hub      *Hub
	LastPing time.Time
	alive    atomic.Bool
	mu       sync.RWMutex
	Groups   map[string]bool
}

// NewConnection 创建未绑定底层连接的实例，Conn 由调用方设置
func NewConnection(hub *Hub, id, userID, userType string) *Connection {
	c := &Connection{
		ID:       id,
		UserID:   userID,
		UserType: userType,
		Send:     make(chan []byte, hub.config.MessageBufferSize),
		Hub:      hub,
		LastPing: time.Now(),
		Groups:   make(map[string]bool),
	}
	c.alive.Store(true)
	return c
}

func (c *Connection) IsAlive() bool { return c.alive.Load() }

func (c *Connection) close() {
	c.alive.Store(false)
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

// Hooks 由业务层注入
type Hooks struct {
	// CanJoinRequest 判断用户能否订阅某个求助请求的房间
	CanJoinRequest func(userID, requestID string) bool
	// OnLocation 客户端上报位置
	OnLocation func(userID, userType string, latitude, longitude float64)
}

// Hub 管理所有WebSocket连接
type Hub struct {
	// 注册的连接
	connections map[string]*Connection
	// 用户ID到连接ID的映射
	userConnections map[string]map[string]bool
	// 组到连接ID的映射
	groupConnections map[string]map[string]bool
	// 注册连接通道
	register chan *Connection
	// 注销连接通道
	unregister chan *Connection
	// 连接计数
	connectionCount int64
	config          *Config
	hooks           Hooks
	mu              sync.RWMutex
	ctx             context.Context
	cancel          context.CancelFunc
}

// NewHub 创建新的Hub实例
func NewHub(config *Config) *Hub {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := &Hub{
		connections:      make(map[string]*Connection),
		userConnections:  make(map[string]map[string]bool),
		groupConnections: make(map[string]map[string]bool),
		register:         make(chan *Connection, 1000),
		unregister:       make(chan *Connection, 1000),
		config:           config,
		ctx:              ctx,
		cancel:           cancel,
	}

	go hub.run()
	return hub
}

// SetHooks 在 Hub 启动后、接入连接前设置
func (h *Hub) SetHooks(hooks Hooks) {
	h.mu.Lock()
	h.hooks = hooks
	h.mu.Unlock()
}

func (h *Hub) getHooks() Hooks {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hooks
}

// run Hub主循环
func (h *Hub) run() {
	ticker := time.NewTicker(h.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case conn := <-h.register:
			h.registerConnection(conn)
		case conn := <-h.unregister:
			h.unregisterConnection(conn)
		case <-ticker.C:
			h.checkHeartbeats()
		}
	}
}

// Register 异步注册
func (h *Hub) Register(conn *Connection) { h.register <- conn }

// Unregister 异步注销
func (h *Hub) Unregister(conn *Connection) { h.unregister <- conn }

// registerConnection 注册连接
func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atomic.LoadInt64(&h.connectionCount) >= h.config.MaxConnections {
		conn.close()
		logrus.Warnf("达到最大连接数限制: %d", h.config.MaxConnections)
		return
	}

	h.connections[conn.ID] = conn
	atomic.AddInt64(&h.connectionCount, 1)

	if conn.UserID != "" {
		if h.userConnections[conn.UserID] == nil {
			h.userConnections[conn.UserID] = make(map[string]bool)
		}
		h.userConnections[conn.UserID][conn.ID] = true
	}

	conn.mu.RLock()
	for group := range conn.Groups {
		h.addToGroupLocked(group, conn.ID)
	}
	conn.mu.RUnlock()

	logrus.Infof("WebSocket连接已注册: %s, 用户: %s, 当前连接数: %d",
		conn.ID, conn.UserID, atomic.LoadInt64(&h.connectionCount))
}

// unregisterConnection 注销连接
func (h *Hub) unregisterConnection(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.connections[conn.ID]; !exists {
		return
	}
	delete(h.connections, conn.ID)
	atomic.AddInt64(&h.connectionCount, -1)

	if conn.UserID != "" && h.userConnections[conn.UserID] != nil {
		delete(h.userConnections[conn.UserID], conn.ID)
		if len(h.userConnections[conn.UserID]) == 0 {
			delete(h.userConnections, conn.UserID)
		}
	}

	conn.mu.RLock()
	for group := range conn.Groups {
		h.removeFromGroupLocked(group, conn.ID)
	}
	conn.mu.RUnlock()

	conn.alive.Store(false)
	close(conn.Send)
	logrus.Infof("WebSocket连接已注销: %s, 当前连接数: %d",
		conn.ID, atomic.LoadInt64(&h.connectionCount))
}

func (h *Hub) addToGroupLocked(group, connID string) {
	if h.groupConnections[group] == nil {
		h.groupConnections[group] = make(map[string]bool)
	}
	h.groupConnections[group][connID] = true
}

func (h *Hub) removeFromGroupLocked(group, connID string) {
	if h.groupConnections[group] != nil {
		delete(h.groupConnections[group], connID)
		if len(h.groupConnections[group]) == 0 {
			delete(h.groupConnections, group)
		}
	}
}

func encode(event string, payload interface{}, from, to, group string) ([]byte, error) {
	return json.Marshal(&Message{
		Type:      event,
		Data:      payload,
		Timestamp: time.Now().Unix(),
		From:      from,
		To:        to,
		Group:     group,
	})
}

// IsOnline 用户是否至少有一个存活连接
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.userConnections[userID] {
		if conn, ok := h.connections[connID]; ok && conn.IsAlive() {
			return true
		}
	}
	return false
}

// Send 同步投递给用户的所有连接，任一连接接收即视为送达
func (h *Hub) Send(userID, event string, payload interface{}) bool {
	data, err := encode(event, payload, "", userID, "")
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := false
	for connID := range h.userConnections[userID] {
		if conn, ok := h.connections[connID]; ok && conn.IsAlive() {
			if h.trySend(conn, data) {
				delivered = true
			} else {
				logrus.Warnf("用户 %s 的连接 %s 发送缓冲区已满", userID, connID)
			}
		}
	}
	return delivered
}

// BroadcastToGroup 投递给组内所有连接
func (h *Hub) BroadcastToGroup(group, event string, payload interface{}) {
	h.broadcastToGroup(group, event, payload, "", "")
}

func (h *Hub) broadcastToGroup(group, event string, payload interface{}, from, exceptConnID string) {
	data, err := encode(event, payload, from, "", group)
	if err != nil {
		logrus.Errorf("消息序列化失败: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID := range h.groupConnections[group] {
		if connID == exceptConnID {
			continue
		}
		if conn, ok := h.connections[connID]; ok && conn.IsAlive() {
			if !h.trySend(conn, data) {
				logrus.Warnf("组 %s 的连接 %s 发送缓冲区已满", group, connID)
			}
		}
	}
}

// JoinUserToGroup 将用户当前的全部连接加入组，返回加入的连接数
func (h *Hub) JoinUserToGroup(userID, group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for connID := range h.userConnections[userID] {
		conn, ok := h.connections[connID]
		if !ok {
			continue
		}
		conn.mu.Lock()
		conn.Groups[group] = true
		conn.mu.Unlock()
		h.addToGroupLocked(group, connID)
		n++
	}
	return n
}

// checkHeartbeats 检查心跳
func (h *Hub) checkHeartbeats() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	now := time.Now()
	for _, conn := range h.connections {
		conn.mu.RLock()
		last := conn.LastPing
		conn.mu.RUnlock()
		if now.Sub(last) > h.config.ConnectionTimeout {
			logrus.Warnf("连接 %s 心跳超时，准备关闭", conn.ID)
			conn.close()
		}
	}
}

// GetConnectionCount 获取当前连接数
func (h *Hub) GetConnectionCount() int64 {
	return atomic.LoadInt64(&h.connectionCount)
}

// GetUserConnections 获取用户的连接数
func (h *Hub) GetUserConnections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// GetGroupConnections 获取组的连接数
func (h *Hub) GetGroupConnections(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groupConnections[group])
}

// Close 关闭Hub
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	for _, conn := range h.connections {
		conn.close()
	}
	h.mu.Unlock()

	logrus.Info("WebSocket Hub已关闭")
}

// trySend 背压策略，返回是否入队
func (h *Hub) trySend(conn *Connection, data []byte) bool {
	if h.config.DropOnFull {
		select {
		case conn.Send <- data:
			return true
		default:
		}
	} else {
		timeout := h.config.SendTimeout
		if timeout <= 0 {
			timeout = 50 * time.Millisecond
		}
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case conn.Send <- data:
			return true
		case <-t.C:
		}
	}
	if h.config.CloseOnBackpressure {
		conn.close()
	}
	return false
}
