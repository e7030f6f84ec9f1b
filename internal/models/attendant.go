package models

import "time"

// Attendant 救援员。位置由目录维护，可用性只由分配账本修改。
type Attendant struct {
	ID                string    `json:"id" gorm:"column:id;primaryKey;size:64"`
	Name              string    `json:"name" gorm:"column:name;size:128"`
	Phone             string    `json:"phone,omitempty" gorm:"column:phone;size:32"`
	VehiclePlate      string    `json:"vehiclePlate,omitempty" gorm:"column:vehicle_plate;size:32"`
	Location          Location  `json:"location" gorm:"embedded"`
	IsVerified        bool      `json:"isVerified" gorm:"column:is_verified;index:idx_att_eligible,priority:1"`
	IsAvailable       bool      `json:"isAvailable" gorm:"column:is_available;index:idx_att_eligible,priority:2"`
	CurrentSOSRequest *string   `json:"currentSosRequest" gorm:"column:current_sos_request;size:64"`
	Rating            float64   `json:"rating" gorm:"column:rating"`
	ReviewCount       int       `json:"reviewCount" gorm:"column:review_count"`
	CreatedAt         time.Time `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt         time.Time `json:"updatedAt" gorm:"column:updated_at"`
}

func (Attendant) TableName() string { return "attendants" }

type AssignmentStatus string

const (
	AssignmentPending  AssignmentStatus = "pending"
	AssignmentAccepted AssignmentStatus = "accepted"
	AssignmentDeclined AssignmentStatus = "declined"
	AssignmentExpired  AssignmentStatus = "expired"
)

// Assignment 紧急请求的并行邀约
type Assignment struct {
	ID               string           `json:"id" gorm:"column:id;primaryKey;size:64"`
	SOSRequestID     string           `json:"sosRequestId" gorm:"column:sos_request_id;size:64;index"`
	AttendantID      string           `json:"attendantId" gorm:"column:attendant_id;size:64;index"`
	Rank             int              `json:"rank" gorm:"column:offer_rank"`
	Status           AssignmentStatus `json:"status" gorm:"column:status;size:16;index:idx_asg_status_expiry,priority:1"`
	DistanceKm       float64          `json:"distance" gorm:"column:distance_km"`
	EstimatedArrival time.Time        `json:"estimatedArrival" gorm:"column:estimated_arrival"`
	ExpiresAt        time.Time        `json:"expiresAt" gorm:"column:expires_at;index:idx_asg_status_expiry,priority:2"`
	RespondedAt      *time.Time       `json:"respondedAt,omitempty" gorm:"column:responded_at"`
	CreatedAt        time.Time        `json:"createdAt" gorm:"column:created_at"`
	UpdatedAt        time.Time        `json:"updatedAt" gorm:"column:updated_at"`
}

func (Assignment) TableName() string { return "emergency_assignments" }

// Notification 每次推送尝试的审计记录
type Notification struct {
	ID            string    `json:"id" gorm:"column:id;primaryKey;size:64"`
	Type          string    `json:"type" gorm:"column:type;size:32"`
	RecipientID   string    `json:"recipientId" gorm:"column:recipient_id;size:64;index"`
	RecipientType string    `json:"recipientType" gorm:"column:recipient_type;size:16"`
	SOSRequestID  string    `json:"sosRequestId,omitempty" gorm:"column:sos_request_id;size:64;index"`
	Message       string    `json:"message" gorm:"column:message;type:text"`
	Priority      string    `json:"priority" gorm:"column:priority;size:16"`
	Delivered     bool      `json:"delivered" gorm:"column:delivered"`
	IsRead        bool      `json:"isRead" gorm:"column:is_read"`
	CreatedAt     time.Time `json:"createdAt" gorm:"column:created_at"`
}

func (Notification) TableName() string { return "notifications" }
