// Package dispatch turns an intake into an assignment: find candidates,
// commit through the ledger, then notify.
package dispatch

import (
	"context"
	"strings"
	"time"

	"FuelSOS/internal/fanout"
	"FuelSOS/internal/geo"
	"FuelSOS/internal/ledger"
	"FuelSOS/internal/models"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/util"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeAssigned        Outcome = "assigned"
	OutcomeSearching       Outcome = "searching"
	OutcomeEmergencyFanOut Outcome = "emergency_fan_out"
)

// Result reports what Dispatch did. Attendant and EstimatedArrival are set
// when assigned; Assignments when fanned out (possibly empty).
type Result struct {
	Outcome          Outcome             `json:"outcome"`
	Request          *models.SOSRequest  `json:"request"`
	Attendant        *geo.Candidate      `json:"attendant,omitempty"`
	EstimatedArrival *time.Time          `json:"estimatedArrival,omitempty"`
	Assignments      []models.Assignment `json:"assignments,omitempty"`
	Notified         int                 `json:"notified"`
	NoHelpFound      bool                `json:"noHelpFound,omitempty"`
}

type Config struct {
	RadiusKm          float64
	EmergencyRadiusKm float64
	MaxOffers         int
}

func (c Config) withDefaults() Config {
	if c.RadiusKm <= 0 {
		c.RadiusKm = 10
	}
	if c.EmergencyRadiusKm <= 0 {
		c.EmergencyRadiusKm = 15
	}
	if c.MaxOffers <= 0 {
		c.MaxOffers = ledger.DefaultMaxOffers
	}
	return c
}

type Engine struct {
	store    *store.Store
	finder   *geo.Finder
	ledger   *ledger.Ledger
	notifier *fanout.Notifier
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

func NewEngine(st *store.Store, finder *geo.Finder, l *ledger.Ledger, n *fanout.Notifier, m *metrics.Metrics, cfg Config) *Engine {
	return &Engine{
		store:    st,
		finder:   finder,
		ledger:   l,
		notifier: n,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source of the engine and its ledger.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.ledger.SetClock(now)
}

// Nearby exposes candidate search for operators and clients.
func (e *Engine) Nearby(ctx context.Context, loc models.Location, radiusKm float64) ([]geo.Candidate, error) {
	if radiusKm == 0 {
		radiusKm = e.cfg.RadiusKm
	}
	return e.finder.FindNearby(ctx, loc, radiusKm)
}

// Intake is a client's request for help.
type Intake struct {
	RequesterID    string             `json:"userId"`
	Location       models.Location    `json:"location"`
	Type           models.RequestType `json:"type"`
	Priority       models.Priority    `json:"priority"`
	AdditionalInfo string             `json:"additionalInfo"`
}

// Create validates an intake and stores it as a pending request. Emergency
// priority forces the emergency type; other intakes may not use it.
func (e *Engine) Create(ctx context.Context, in Intake) (*models.SOSRequest, error) {
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	if in.RequesterID == "" {
		return nil, errors.Validationf("userId is required")
	}
	if err := geo.ValidateLocation(in.Location); err != nil {
		return nil, err
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !in.Priority.Valid() {
		return nil, errors.Validationf("invalid priority %q", in.Priority)
	}
	if in.Priority == models.PriorityEmergency {
		in.Type = models.TypeEmergency
	} else if !in.Type.Valid() || in.Type == models.TypeEmergency {
		return nil, errors.Validationf("invalid request type %q", in.Type)
	}

	now := e.now()
	req := &models.SOSRequest{
		ID:             util.NewID("sos"),
		RequesterID:    in.RequesterID,
		Location:       in.Location,
		Type:           in.Type,
		Priority:       in.Priority,
		Status:         models.StatusPending,
		AdditionalInfo: in.AdditionalInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("requester_id", req.RequesterID),
		zap.String("type", string(req.Type)),
		zap.String("priority", string(req.Priority)))
	return req, nil
}

// Submit creates a request and dispatches it.
func (e *Engine) Submit(ctx context.Context, in Intake) (*Result, error) {
	req, err := e.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	return e.Dispatch(ctx, req)
}

// Dispatch matches a pending request. Finder and ledger errors propagate;
// notification failures never do.
func (e *Engine) Dispatch(ctx context.Context, req *models.SOSRequest) (*Result, error) {
	start := time.Now()
	var (
		res *Result
		err error
	)
	if req.Priority == models.PriorityEmergency {
		res, err = e.dispatchEmergency(ctx, req)
	} else {
		res, err = e.dispatchNormal(ctx, req)
	}
	outcome := "error"
	if err == nil {
		outcome = string(res.Outcome)
	}
	e.metrics.RecordDispatch(string(req.Priority), outcome, time.Since(start))
	if err != nil {
		logger.Warn("dispatch failed", zap.String("request_id", req.ID), zap.Error(err))
	}
	return res, err
}

func (e *Engine) dispatchNormal(ctx context.Context, req *models.SOSRequest) (*Result, error) {
	cands, err := e.finder.FindNearby(ctx, req.Location, e.cfg.RadiusKm)
	if err != nil {
		return nil, err
	}
	for _, c := range geo.Rank(cands, 0) {
		bound, err := e.ledger.CommitSingle(ctx, req.ID, c)
		if errors.Is(err, errors.ErrAttendantBusy) {
			// directory read was stale; try the next nearest
			continue
		}
		if err != nil {
			return nil, err
		}

		notified := 0
		if e.notifier.Notify(ctx, fanout.Message{
			RecipientID:   c.AttendantID,
			RecipientType: constant.UserTypeAttendant,
			RequestID:     req.ID,
			Event:         fanout.EventSOSAssignment,
			Priority:      string(req.Priority),
			Text:          "new " + string(req.Type) + " request assigned",
			Payload:       offerPayload(bound, c.DistanceKm, bound.EstimatedArrival, ""),
		}) {
			notified = 1
		}
		cand := c
		return &Result{
			Outcome:          OutcomeAssigned,
			Request:          bound,
			Attendant:        &cand,
			EstimatedArrival: bound.EstimatedArrival,
			Notified:         notified,
		}, nil
	}

	logger.Info("no eligible attendant nearby, still searching",
		zap.String("request_id", req.ID),
		zap.Int("in_radius", len(cands)))
	return &Result{Outcome: OutcomeSearching, Request: req}, nil
}

func (e *Engine) dispatchEmergency(ctx context.Context, req *models.SOSRequest) (*Result, error) {
	cands, err := e.finder.FindNearby(ctx, req.Location, e.cfg.EmergencyRadiusKm)
	if err != nil {
		return nil, err
	}
	offers, err := e.ledger.CommitMultiple(ctx, req.ID, cands, e.cfg.MaxOffers)
	if err != nil {
		return nil, err
	}

	e.notifier.Alert(ctx, constant.AdminGroup, fanout.Message{
		RecipientType: constant.UserTypeAdmin,
		RequestID:     req.ID,
		Event:         fanout.EventEmergencyAlert,
		Priority:      string(models.PriorityEmergency),
		Text:          "emergency request raised",
		Payload: map[string]interface{}{
			"sosRequestId": req.ID,
			"requesterId":  req.RequesterID,
			"location":     req.Location,
			"offers":       len(offers),
		},
	})

	if len(offers) == 0 {
		logger.Emergency("no help found for emergency request",
			zap.String("request_id", req.ID),
			zap.String("requester_id", req.RequesterID),
			zap.Float64("radius_km", e.cfg.EmergencyRadiusKm))
		return &Result{Outcome: OutcomeEmergencyFanOut, Request: req, Assignments: offers, NoHelpFound: true}, nil
	}

	msgs := make([]fanout.Message, len(offers))
	for i, a := range offers {
		eta := a.EstimatedArrival
		msgs[i] = fanout.Message{
			RecipientID:   a.AttendantID,
			RecipientType: constant.UserTypeAttendant,
			RequestID:     req.ID,
			Event:         fanout.EventEmergencyAssignment,
			Priority:      string(models.PriorityEmergency),
			Text:          "emergency assistance needed",
			Payload:       offerPayload(req, a.DistanceKm, &eta, a.ID),
		}
	}
	delivered := e.notifier.NotifyAll(ctx, msgs, e.stillOpen(req.ID))

	n := 0
	for _, ok := range delivered {
		if ok {
			n++
		}
	}
	logger.Info("emergency fan-out sent",
		zap.String("request_id", req.ID),
		zap.Int("offers", len(offers)),
		zap.Int("delivered", n))
	return &Result{Outcome: OutcomeEmergencyFanOut, Request: req, Assignments: offers, Notified: n}, nil
}

// stillOpen stops fan-out sends once the request is cancelled or won.
func (e *Engine) stillOpen(requestID string) func(context.Context) bool {
	return func(ctx context.Context) bool {
		req, err := e.store.GetRequest(ctx, requestID)
		return err == nil && req.Status == models.StatusPending && req.WinningAssignmentID == nil
	}
}

func offerPayload(req *models.SOSRequest, distanceKm float64, eta *time.Time, assignmentID string) map[string]interface{} {
	p := map[string]interface{}{
		"sosRequestId":     req.ID,
		"requesterId":      req.RequesterID,
		"type":             req.Type,
		"priority":         req.Priority,
		"location":         req.Location,
		"additionalInfo":   req.AdditionalInfo,
		"distance":         distanceKm,
		"estimatedArrival": eta,
	}
	if assignmentID != "" {
		p["assignmentId"] = assignmentID
	}
	return p
}
