package models

import "time"

type CallType string

const (
	CallVoice               CallType = "voice"
	CallVideo               CallType = "video"
	CallEmergencyConference CallType = "emergency_conference"
)

type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallActive    CallStatus = "active"
	CallRejected  CallStatus = "rejected"
	CallEnded     CallStatus = "ended"
)

// Call 通话会话。会议类型没有被叫，参与者见 CallParticipant。
type Call struct {
	ID           string     `json:"id" gorm:"column:id;primaryKey;size:64"`
	CallerID     string     `json:"callerId" gorm:"column:caller_id;size:64"`
	CalleeID     string     `json:"calleeId,omitempty" gorm:"column:callee_id;size:64"`
	SOSRequestID string     `json:"sosRequestId,omitempty" gorm:"column:sos_request_id;size:64;index"`
	CallType     CallType   `json:"callType" gorm:"column:call_type;size:32"`
	Status       CallStatus `json:"status" gorm:"column:status;size:16"`
	StartTime    *time.Time `json:"startTime,omitempty" gorm:"column:start_time"`
	EndTime      *time.Time `json:"endTime,omitempty" gorm:"column:end_time"`
	// Duration in whole seconds between answer and hang-up.
	Duration     int64     `json:"duration" gorm:"column:duration"`
	EndedBy      string    `json:"endedBy,omitempty" gorm:"column:ended_by;size:64"`
	EndReason    string    `json:"endReason,omitempty" gorm:"column:end_reason;size:64"`
	RejectReason string    `json:"rejectReason,omitempty" gorm:"column:reject_reason;size:64"`
	CreatedAt    time.Time `json:"createdAt" gorm:"column:created_at;index"`
	UpdatedAt    time.Time `json:"updatedAt" gorm:"column:updated_at"`

	Participants []CallParticipant `json:"participants,omitempty" gorm:"foreignKey:CallID;references:ID"`
}

func (Call) TableName() string { return "calls" }

// CallParticipant 通话参与者索引，用于按用户查询历史
type CallParticipant struct {
	ID        uint      `json:"-" gorm:"column:id;primaryKey"`
	CallID    string    `json:"callId" gorm:"column:call_id;size:64;uniqueIndex:idx_call_user,priority:1"`
	UserID    string    `json:"userId" gorm:"column:user_id;size:64;uniqueIndex:idx_call_user,priority:2;index"`
	Role      string    `json:"role" gorm:"column:role;size:16"`
	CreatedAt time.Time `json:"-" gorm:"column:created_at"`
}

func (CallParticipant) TableName() string { return "call_participants" }

// CallActivity 通话行为日志
type CallActivity struct {
	ID        uint      `json:"id" gorm:"column:id;primaryKey"`
	CallID    string    `json:"callId" gorm:"column:call_id;size:64;index"`
	UserID    string    `json:"userId" gorm:"column:user_id;size:64"`
	Action    string    `json:"action" gorm:"column:action;size:32"`
	Detail    string    `json:"detail,omitempty" gorm:"column:detail;type:text"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at"`
}

func (CallActivity) TableName() string { return "call_activities" }
