package websocket

// WebSocket消息类型常量
const (
	// 系统消息类型
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
	MessageTypeJoinGroup     = "join_group"
	MessageTypeLeaveGroup    = "leave_group"
	MessageTypeGroupJoined   = "group_joined"
	MessageTypeGroupLeft     = "group_left"
	MessageTypeError         = "error"
	MessageTypeAuthenticate  = "authenticate"
	MessageTypeAuthenticated = "authenticated"

	// 业务消息类型
	MessageTypeLocationUpdate = "location_update"
	MessageTypeTypingStart    = "typing_start"
	MessageTypeTypingStop     = "typing_stop"
	MessageTypeUserTyping     = "user_typing"

	// 组名
	AdminGroup      = "admins"
	SOSGroupPrefix  = "sos_"
	ChatGroupPrefix = "chat_"

	// 用户类型
	UserTypeDriver    = "driver"
	UserTypeAttendant = "attendant"
	UserTypeAdmin     = "admin"

	// 环境变量配置键
	EnvWebSocketMaxConnections      = "WEBSOCKET_MAX_CONNECTIONS"
	EnvWebSocketHeartbeatInterval   = "WEBSOCKET_HEARTBEAT_INTERVAL"
	EnvWebSocketConnectionTimeout   = "WEBSOCKET_CONNECTION_TIMEOUT"
	EnvWebSocketMessageBufferSize   = "WEBSOCKET_MESSAGE_BUFFER_SIZE"
	EnvWebSocketEnableCompression   = "WEBSOCKET_ENABLE_COMPRESSION"
	EnvWebSocketDropOnFull          = "WEBSOCKET_DROP_ON_FULL"
	EnvWebSocketCompressionLevel    = "WEBSOCKET_COMPRESSION_LEVEL"
	EnvWebSocketMaxMessageSize      = "WEBSOCKET_MAX_MESSAGE_SIZE"
	EnvWebSocketCloseOnBackpressure = "WEBSOCKET_CLOSE_ON_BACKPRESSURE"
	EnvWebSocketSendTimeoutMs       = "WEBSOCKET_SEND_TIMEOUT_MS"

	// 错误消息
	ErrInvalidMessageData = "无效的消息数据"
	ErrGroupForbidden     = "无权加入该组"

	// 路由路径
	RouteWebSocket       = "/ws"
	RouteWebSocketStats  = "/ws/stats"
	RouteWebSocketHealth = "/ws/health"
)
