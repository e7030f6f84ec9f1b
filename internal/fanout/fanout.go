// Package fanout pushes dispatch events to connected clients and keeps an
// audit row for every attempt.
package fanout

import (
	"context"
	"time"

	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/util"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	EventStatusUpdate        = "status_update"
	EventSOSAssignment       = "sos_assignment"
	EventEmergencyAssignment = "emergency_assignment"
	EventAssignmentClaimed   = "assignment_claimed"
	EventAssignmentExpired   = "assignment_expired"
	EventEmergencyAlert      = "emergency_alert"
	EventLocationUpdated     = "location_updated"
)

// Transport is the realtime push channel. The websocket hub satisfies it.
type Transport interface {
	IsOnline(userID string) bool
	Send(userID, event string, payload interface{}) bool
	BroadcastToGroup(group, event string, payload interface{})
}

// GroupSink receives group broadcasts only, e.g. an SSE hub.
type GroupSink interface {
	BroadcastToGroup(group, event string, payload interface{})
}

// Mirror is a Transport that copies every group broadcast to Sinks.
// Per-user sends go to Transport alone.
type Mirror struct {
	Transport
	Sinks []GroupSink
}

func (m Mirror) BroadcastToGroup(group, event string, payload interface{}) {
	if m.Transport != nil {
		m.Transport.BroadcastToGroup(group, event, payload)
	}
	for _, s := range m.Sinks {
		s.BroadcastToGroup(group, event, payload)
	}
}

func (m Mirror) IsOnline(userID string) bool {
	return m.Transport != nil && m.Transport.IsOnline(userID)
}

func (m Mirror) Send(userID, event string, payload interface{}) bool {
	return m.Transport != nil && m.Transport.Send(userID, event, payload)
}

// Message is one push to one recipient.
type Message struct {
	RecipientID   string
	RecipientType string
	RequestID     string
	Event         string
	Priority      string
	Text          string
	Payload       interface{}
}

type Notifier struct {
	transport Transport
	store     *store.Store
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewNotifier(t Transport, st *store.Store, m *metrics.Metrics) *Notifier {
	return &Notifier{
		transport: t,
		store:     st,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Notify delivers msg at most once when the recipient is online. Offline
// recipients are not queued. The attempt is recorded either way and a failed
// audit write is only logged.
func (n *Notifier) Notify(ctx context.Context, msg Message) bool {
	delivered := false
	if n.transport != nil && n.transport.IsOnline(msg.RecipientID) {
		delivered = n.transport.Send(msg.RecipientID, msg.Event, msg.Payload)
	}

	rec := &models.Notification{
		ID:            util.NewID("ntf"),
		Type:          msg.Event,
		RecipientID:   msg.RecipientID,
		RecipientType: msg.RecipientType,
		SOSRequestID:  msg.RequestID,
		Message:       msg.Text,
		Priority:      msg.Priority,
		Delivered:     delivered,
		CreatedAt:     n.now(),
	}
	if err := n.store.RecordNotification(ctx, rec); err != nil {
		logger.Warn("record notification failed",
			zap.String("recipient", msg.RecipientID),
			zap.String("event", msg.Event),
			zap.Error(err))
	}
	n.metrics.RecordNotification(msg.Event, delivered)

	if !delivered {
		logger.Info("notification not delivered",
			zap.String("recipient", msg.RecipientID),
			zap.String("request_id", msg.RequestID),
			zap.String("event", msg.Event))
	}
	return delivered
}

// NotifyAll sends every message concurrently. guard, when set, is consulted
// right before each send; a false result skips that send without recording it.
// The result slice is index-aligned with msgs.
func (n *Notifier) NotifyAll(ctx context.Context, msgs []Message, guard func(context.Context) bool) []bool {
	results := make([]bool, len(msgs))
	var g errgroup.Group
	for i, msg := range msgs {
		g.Go(func() error {
			if guard != nil && !guard(ctx) {
				logger.Info("notification skipped",
					zap.String("recipient", msg.RecipientID),
					zap.String("request_id", msg.RequestID))
				return nil
			}
			results[i] = n.Notify(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Broadcast pushes to every member of group. Group pushes are not audited.
func (n *Notifier) Broadcast(group, event string, payload interface{}) {
	if n.transport == nil {
		return
	}
	n.transport.BroadcastToGroup(group, event, payload)
}

// Alert broadcasts to a group and records one audit row addressed to the
// group itself. Delivered means the transport accepted the broadcast.
func (n *Notifier) Alert(ctx context.Context, group string, msg Message) {
	n.Broadcast(group, msg.Event, msg.Payload)
	rec := &models.Notification{
		ID:            util.NewID("ntf"),
		Type:          msg.Event,
		RecipientID:   group,
		RecipientType: msg.RecipientType,
		SOSRequestID:  msg.RequestID,
		Message:       msg.Text,
		Priority:      msg.Priority,
		Delivered:     n.transport != nil,
		CreatedAt:     n.now(),
	}
	if err := n.store.RecordNotification(ctx, rec); err != nil {
		logger.Warn("record alert failed", zap.String("group", group), zap.Error(err))
	}
	n.metrics.RecordNotification(msg.Event, rec.Delivered)
}

// StatusPayload is what subscribers of a request group receive after each
// committed change.
type StatusPayload struct {
	RequestID           string               `json:"requestId"`
	Status              models.RequestStatus `json:"status"`
	Version             int64                `json:"version"`
	AssignedAttendantID *string              `json:"assignedAttendantId"`
	EstimatedArrival    *time.Time           `json:"estimatedArrival"`
	Timestamp           time.Time            `json:"timestamp"`
}

// PublishStatus announces req's committed state to the sos_<id> group.
func (n *Notifier) PublishStatus(_ context.Context, req *models.SOSRequest) {
	n.Broadcast(constant.SOSGroup(req.ID), EventStatusUpdate, StatusPayload{
		RequestID:           req.ID,
		Status:              req.Status,
		Version:             req.Version,
		AssignedAttendantID: req.AssignedAttendantID,
		EstimatedArrival:    req.EstimatedArrival,
		Timestamp:           req.UpdatedAt,
	})
}
