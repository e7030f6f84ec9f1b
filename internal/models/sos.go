package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type RequestType string

const (
	TypeFuelEmergency RequestType = "fuel_emergency"
	TypeBreakdown     RequestType = "breakdown"
	TypeAccident      RequestType = "accident"
	TypeEmergency     RequestType = "emergency"
)

func (t RequestType) Valid() bool {
	switch t {
	case TypeFuelEmergency, TypeBreakdown, TypeAccident, TypeEmergency:
		return true
	}
	return false
}

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityNormal, PriorityHigh, PriorityEmergency:
		return true
	}
	return false
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusAssigned  RequestStatus = "assigned"
	StatusConfirmed RequestStatus = "confirmed"
	StatusEnroute   RequestStatus = "enroute"
	StatusArrived   RequestStatus = "arrived"
	StatusCompleted RequestStatus = "completed"
	StatusCancelled RequestStatus = "cancelled"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAssigned, StatusConfirmed, StatusEnroute,
		StatusArrived, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Bound reports whether an attendant is held by the request in this status.
func (s RequestStatus) Bound() bool {
	switch s {
	case StatusAssigned, StatusConfirmed, StatusEnroute, StatusArrived:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Location 经纬度，十进制度
type Location struct {
	Latitude  float64 `json:"latitude" gorm:"column:latitude"`
	Longitude float64 `json:"longitude" gorm:"column:longitude"`
}

// StringList 以 JSON 文本存储的有序字符串列表
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("StringList: unsupported source %T", src)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*l = out
	return nil
}

// SOSRequest 求助请求
//
// AssignedAttendantID is set only while an attendant is bound (assigned through
// arrived). LastAttendantID keeps the last bound attendant once the request is
// completed or cancelled. EmergencyAssignmentIDs
// is written when an emergency fan-out is won and lists every offer in rank order.
type SOSRequest struct {
	ID                     string        `json:"id" gorm:"column:id;primaryKey;size:64"`
	RequesterID            string        `json:"userId" gorm:"column:requester_id;size:64;index:idx_sos_requester_created,priority:1"`
	Location               Location      `json:"location" gorm:"embedded"`
	Type                   RequestType   `json:"type" gorm:"column:type;size:32"`
	Priority               Priority      `json:"priority" gorm:"column:priority;size:16"`
	Status                 RequestStatus `json:"status" gorm:"column:status;size:16;index"`
	AdditionalInfo         string        `json:"additionalInfo,omitempty" gorm:"column:additional_info;type:text"`
	AssignedAttendantID    *string       `json:"assignedAttendantId" gorm:"column:assigned_attendant_id;size:64;index"`
	LastAttendantID        *string       `json:"lastAttendantId,omitempty" gorm:"column:last_attendant_id;size:64"`
	EmergencyAssignmentIDs StringList    `json:"emergencyAssignmentIds,omitempty" gorm:"column:emergency_assignment_ids;type:text"`
	WinningAssignmentID    *string       `json:"winningAssignmentId,omitempty" gorm:"column:winning_assignment_id;size:64"`
	EstimatedArrival       *time.Time    `json:"estimatedArrival" gorm:"column:estimated_arrival"`
	// Version increases by one on every committed change.
	Version     int64      `json:"version" gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"column:created_at;index:idx_sos_requester_created,priority:2"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"column:updated_at"`
	AssignedAt  *time.Time `json:"assignedAt,omitempty" gorm:"column:assigned_at"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty" gorm:"column:confirmed_at"`
	EnrouteAt   *time.Time `json:"enrouteAt,omitempty" gorm:"column:enroute_at"`
	ArrivedAt   *time.Time `json:"arrivedAt,omitempty" gorm:"column:arrived_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" gorm:"column:completed_at"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty" gorm:"column:cancelled_at"`
}

func (SOSRequest) TableName() string { return "sos_requests" }

// Cancellation 取消记录
type Cancellation struct {
	ID           uint      `json:"id" gorm:"column:id;primaryKey"`
	SOSRequestID string    `json:"sosRequestId" gorm:"column:sos_request_id;size:64;index"`
	UserID       string    `json:"userId" gorm:"column:user_id;size:64"`
	Reason       string    `json:"reason" gorm:"column:reason;type:text"`
	CancelledAt  time.Time `json:"cancelledAt" gorm:"column:cancelled_at"`
}

func (Cancellation) TableName() string { return "sos_cancellations" }
