package constant

// gin context keys
const (
	UserField     = "_fuelsos_uid"
	UserTypeField = "_fuelsos_utype"
	TrustedField  = "_fuelsos_trusted"
)

// Recipient / participant types.
const (
	UserTypeDriver    = "driver"
	UserTypeAttendant = "attendant"
	UserTypeAdmin     = "admin"
)

// Realtime groups.
const (
	AdminGroup       = "admins"
	SOSGroupPrefix   = "sos_"
	ChatGroupPrefix  = "chat_"
	CallGroupPrefix  = "call_"
	SnapshotCacheKey = "sos:snapshot:"
)

func SOSGroup(requestID string) string  { return SOSGroupPrefix + requestID }
func ChatGroup(requestID string) string { return ChatGroupPrefix + requestID }
