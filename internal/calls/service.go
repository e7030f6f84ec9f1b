// Package calls tracks voice/video call sessions between drivers and
// attendants and hands out signaling credentials.
package calls

import (
	"context"
	"strings"
	"time"

	"FuelSOS/internal/fanout"
	"FuelSOS/internal/geo"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/util"

	"github.com/pion/stun"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	EventIncomingCall  = "incoming_call"
	EventCallAnswered  = "call_answered"
	EventCallRejected  = "call_rejected"
	EventCallEnded     = "call_ended"
	EventEmergencyCall = "emergency_call"
)

type Options struct {
	ICEServers         []string
	ConferenceRadiusKm float64
	ConferenceSize     int
}

type Service struct {
	store    *store.Store
	notifier *fanout.Notifier
	finder   *geo.Finder
	issuer   TokenIssuer
	ice      []webrtc.ICEServer
	opts     Options
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(st *store.Store, n *fanout.Notifier, finder *geo.Finder, issuer TokenIssuer, m *metrics.Metrics, opts Options) *Service {
	if opts.ConferenceRadiusKm <= 0 {
		opts.ConferenceRadiusKm = 15
	}
	if opts.ConferenceSize <= 0 {
		opts.ConferenceSize = 3
	}
	return &Service{
		store:    st,
		notifier: n,
		finder:   finder,
		issuer:   issuer,
		ice:      iceServers(opts.ICEServers),
		opts:     opts,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// iceServers keeps the STUN urls a peer connection would accept. TURN needs
// credentials, which are not issued here.
func iceServers(raw []string) []webrtc.ICEServer {
	var urls []string
	for _, u := range raw {
		uri, err := stun.ParseURI(strings.TrimSpace(u))
		if err != nil {
			logger.Warn("skip invalid ice server", zap.String("url", u), zap.Error(err))
			continue
		}
		if uri.Scheme != stun.SchemeTypeSTUN && uri.Scheme != stun.SchemeTypeSTUNS {
			logger.Warn("skip ice server without credentials", zap.String("url", u))
			continue
		}
		urls = append(urls, uri.String())
	}
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// token never fails; a missing or broken issuer yields a placeholder.
func (s *Service) token(ctx context.Context, userID, contextID string) string {
	if s.issuer != nil {
		tok, err := s.issuer.IssueAccessToken(ctx, userID, contextID)
		if err == nil {
			return tok
		}
		logger.Warn("signaling token unavailable, using placeholder",
			zap.String("user_id", userID), zap.Error(err))
	}
	return PlaceholderToken(userID, s.now())
}

type InitiateInput struct {
	CallerID     string          `json:"callerId"`
	CalleeID     string          `json:"calleeId"`
	SOSRequestID string          `json:"sosRequestId"`
	CallType     models.CallType `json:"callType"`
}

// Session is a call plus the credentials its participants need.
type Session struct {
	Call         *models.Call       `json:"call"`
	AccessTokens map[string]string  `json:"accessTokens"`
	ICEServers   []webrtc.ICEServer `json:"iceServers,omitempty"`
}

func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*Session, error) {
	in.CallerID = strings.TrimSpace(in.CallerID)
	in.CalleeID = strings.TrimSpace(in.CalleeID)
	if in.CallerID == "" || in.CalleeID == "" {
		return nil, errors.Validationf("callerId and calleeId are required")
	}
	if in.CallerID == in.CalleeID {
		return nil, errors.Validationf("cannot call yourself")
	}
	if in.CallType == "" {
		in.CallType = models.CallVoice
	}
	if in.CallType != models.CallVoice && in.CallType != models.CallVideo {
		return nil, errors.Validationf("invalid call type %q", in.CallType)
	}
	if in.SOSRequestID != "" {
		if _, err := s.store.GetRequest(ctx, in.SOSRequestID); err != nil {
			return nil, err
		}
	}

	now := s.now()
	call := &models.Call{
		ID:           util.NewID("call"),
		CallerID:     in.CallerID,
		CalleeID:     in.CalleeID,
		SOSRequestID: in.SOSRequestID,
		CallType:     in.CallType,
		Status:       models.CallInitiated,
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: []models.CallParticipant{
			{UserID: in.CallerID, Role: "caller"},
			{UserID: in.CalleeID, Role: "callee"},
		},
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return nil, err
	}
	s.activity(ctx, call.ID, in.CallerID, "initiated", "")

	contextID := contextOf(call)
	sess := &Session{
		Call: call,
		AccessTokens: map[string]string{
			in.CallerID: s.token(ctx, in.CallerID, contextID),
			in.CalleeID: s.token(ctx, in.CalleeID, contextID),
		},
		ICEServers: s.ice,
	}

	s.notifier.Notify(ctx, fanout.Message{
		RecipientID: in.CalleeID,
		RequestID:   in.SOSRequestID,
		Event:       EventIncomingCall,
		Priority:    string(models.PriorityHigh),
		Text:        "incoming " + string(in.CallType) + " call",
		Payload: map[string]interface{}{
			"callId":       call.ID,
			"callerId":     in.CallerID,
			"callType":     in.CallType,
			"sosRequestId": in.SOSRequestID,
			"accessToken":  sess.AccessTokens[in.CalleeID],
			"iceServers":   s.ice,
			"timestamp":    now,
		},
	})
	s.metrics.RecordCall(string(models.CallInitiated))
	logger.Info("call initiated",
		zap.String("call_id", call.ID),
		zap.String("caller_id", in.CallerID),
		zap.String("callee_id", in.CalleeID))
	return sess, nil
}

// Answer moves an initiated call to active. Only the callee may answer.
func (s *Service) Answer(ctx context.Context, callID, userID string) (*models.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.CalleeID != userID {
		return nil, errors.Wrapf(errors.ErrForbidden, "only the callee may answer %s", callID)
	}
	now := s.now()
	ok, err := s.store.UpdateCallIf(ctx, callID, store.Expect{"status": models.CallInitiated}, store.Fields{
		"status":     models.CallActive,
		"start_time": now,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindConflict, "call %s is no longer ringing", callID)
	}
	s.activity(ctx, callID, userID, "answered", "")
	s.notifier.Notify(ctx, fanout.Message{
		RecipientID: call.CallerID,
		RequestID:   call.SOSRequestID,
		Event:       EventCallAnswered,
		Text:        "call answered",
		Payload:     map[string]interface{}{"callId": callID, "calleeId": userID, "timestamp": now},
	})
	s.metrics.RecordCall(string(models.CallActive))
	return s.store.GetCall(ctx, callID)
}

// Reject declines an initiated call. Only the callee may reject.
func (s *Service) Reject(ctx context.Context, callID, userID, reason string) (*models.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.CalleeID != userID {
		return nil, errors.Wrapf(errors.ErrForbidden, "only the callee may reject %s", callID)
	}
	now := s.now()
	ok, err := s.store.UpdateCallIf(ctx, callID, store.Expect{"status": models.CallInitiated}, store.Fields{
		"status":        models.CallRejected,
		"reject_reason": reason,
		"end_time":      now,
		"updated_at":    now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindConflict, "call %s is no longer ringing", callID)
	}
	s.activity(ctx, callID, userID, "rejected", reason)
	s.notifier.Notify(ctx, fanout.Message{
		RecipientID: call.CallerID,
		RequestID:   call.SOSRequestID,
		Event:       EventCallRejected,
		Text:        "call rejected",
		Payload:     map[string]interface{}{"callId": callID, "rejectedBy": userID, "reason": reason, "timestamp": now},
	})
	s.metrics.RecordCall(string(models.CallRejected))
	return s.store.GetCall(ctx, callID)
}

// End hangs up an initiated or active call. Duration counts from answer.
func (s *Service) End(ctx context.Context, callID, userID, reason string) (*models.Call, error) {
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !participant(call, userID) {
		return nil, errors.Wrapf(errors.ErrForbidden, "%s is not on call %s", userID, callID)
	}
	if call.Status != models.CallInitiated && call.Status != models.CallActive {
		return nil, errors.Newf(errors.KindConflict, "call %s already %s", callID, call.Status)
	}

	now := s.now()
	var duration int64
	if call.StartTime != nil {
		duration = int64(now.Sub(*call.StartTime) / time.Second)
	}
	ok, err := s.store.UpdateCallIf(ctx, callID, store.Expect{"status": call.Status}, store.Fields{
		"status":     models.CallEnded,
		"end_time":   now,
		"duration":   duration,
		"ended_by":   userID,
		"end_reason": reason,
		"updated_at": now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Newf(errors.KindConflict, "call %s changed concurrently", callID)
	}
	s.activity(ctx, callID, userID, "call_ended", reason)

	for _, p := range call.Participants {
		if p.UserID == userID {
			continue
		}
		s.notifier.Notify(ctx, fanout.Message{
			RecipientID: p.UserID,
			RequestID:   call.SOSRequestID,
			Event:       EventCallEnded,
			Text:        "call ended",
			Payload:     map[string]interface{}{"callId": callID, "endedBy": userID, "duration": duration, "timestamp": now},
		})
	}
	s.metrics.RecordCall(string(models.CallEnded))
	logger.Info("call ended",
		zap.String("call_id", callID),
		zap.String("ended_by", userID),
		zap.Int64("duration_s", duration))
	return s.store.GetCall(ctx, callID)
}

func (s *Service) Get(ctx context.Context, callID string) (*models.Call, error) {
	return s.store.GetCall(ctx, callID)
}

// History pages over every call a user joined, in any role.
func (s *Service) History(ctx context.Context, userID string, page store.Page) ([]models.Call, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, errors.Validationf("userId is required")
	}
	return s.store.ListCallsForUser(ctx, userID, page)
}

// EmergencyConference opens a conference between the user and the nearest
// eligible attendants of a request.
func (s *Service) EmergencyConference(ctx context.Context, userID, requestID string) (*Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.Validationf("userId is required")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	cands, err := s.finder.FindNearby(ctx, req.Location, s.opts.ConferenceRadiusKm)
	if err != nil {
		return nil, err
	}
	picked := geo.Rank(cands, s.opts.ConferenceSize)

	now := s.now()
	call := &models.Call{
		ID:           util.NewID("emg_call"),
		CallerID:     userID,
		SOSRequestID: requestID,
		CallType:     models.CallEmergencyConference,
		Status:       models.CallInitiated,
		CreatedAt:    now,
		UpdatedAt:    now,
		Participants: []models.CallParticipant{{UserID: userID, Role: "host"}},
	}
	for _, c := range picked {
		if c.AttendantID == userID {
			continue
		}
		call.Participants = append(call.Participants, models.CallParticipant{UserID: c.AttendantID, Role: constant.UserTypeAttendant})
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return nil, err
	}
	s.activity(ctx, call.ID, userID, "conference_opened", "")

	tokens := make(map[string]string, len(call.Participants))
	for _, p := range call.Participants {
		tokens[p.UserID] = s.token(ctx, p.UserID, requestID)
	}
	msgs := make([]fanout.Message, 0, len(call.Participants)-1)
	for _, p := range call.Participants[1:] {
		msgs = append(msgs, fanout.Message{
			RecipientID:   p.UserID,
			RecipientType: constant.UserTypeAttendant,
			RequestID:     requestID,
			Event:         EventEmergencyCall,
			Priority:      string(models.PriorityEmergency),
			Text:          "emergency conference call",
			Payload: map[string]interface{}{
				"callId":       call.ID,
				"userId":       userID,
				"sosRequestId": requestID,
				"accessToken":  tokens[p.UserID],
				"iceServers":   s.ice,
				"timestamp":    now,
			},
		})
	}
	s.notifier.NotifyAll(ctx, msgs, nil)

	s.metrics.RecordCall(string(models.CallEmergencyConference))
	logger.Emergency("emergency conference opened",
		zap.String("call_id", call.ID),
		zap.String("request_id", requestID),
		zap.Int("attendants", len(call.Participants)-1))
	return &Session{Call: call, AccessTokens: tokens, ICEServers: s.ice}, nil
}

func (s *Service) activity(ctx context.Context, callID, userID, action, detail string) {
	err := s.store.RecordCallActivity(ctx, &models.CallActivity{
		CallID:    callID,
		UserID:    userID,
		Action:    action,
		Detail:    detail,
		CreatedAt: s.now(),
	})
	if err != nil {
		logger.Warn("record call activity failed", zap.String("call_id", callID), zap.Error(err))
	}
}

func participant(call *models.Call, userID string) bool {
	for _, p := range call.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return call.CallerID == userID || call.CalleeID == userID
}

func contextOf(call *models.Call) string {
	if call.SOSRequestID != "" {
		return call.SOSRequestID
	}
	return call.ID
}
