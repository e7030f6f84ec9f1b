package handlers

import (
	"FuelSOS/internal/calls"
	"FuelSOS/internal/dispatch"
	"FuelSOS/internal/lifecycle"
	"FuelSOS/internal/store"
	"FuelSOS/pkg/metrics"
	"FuelSOS/pkg/middleware"
	"FuelSOS/pkg/sse"
	"FuelSOS/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the services the HTTP surface fronts. Hub, Events, Gatherer and
// the middleware hooks are optional.
type Deps struct {
	Store       *store.Store
	Engine      *dispatch.Engine
	Lifecycle   *lifecycle.Service
	Tracker     *dispatch.Tracker
	Calls       *calls.Service
	Hub         *websocket.Hub
	Events      *sse.Hub
	Gatherer    prometheus.Gatherer
	APIPrefix   string
	RateLimit   gin.HandlerFunc
	Idempotency gin.HandlerFunc

	// SyncSecret enables POST /attendants/sync for signed directory pushes.
	SyncSecret string
}

type Handlers struct {
	store     *store.Store
	engine    *dispatch.Engine
	lifecycle *lifecycle.Service
	tracker   *dispatch.Tracker
	calls     *calls.Service
	hub       *websocket.Hub
	events    *sse.Hub
	gatherer  prometheus.Gatherer
	apiPrefix string
	limit     gin.HandlerFunc
	idem      gin.HandlerFunc
	syncKey   string
}

func NewHandlers(d Deps) *Handlers {
	if d.APIPrefix == "" {
		d.APIPrefix = "/api"
	}
	return &Handlers{
		store:     d.Store,
		engine:    d.Engine,
		lifecycle: d.Lifecycle,
		tracker:   d.Tracker,
		calls:     d.Calls,
		hub:       d.Hub,
		events:    d.Events,
		gatherer:  d.Gatherer,
		apiPrefix: d.APIPrefix,
		limit:     d.RateLimit,
		idem:      d.Idempotency,
		syncKey:   d.SyncSecret,
	}
}

func (h *Handlers) Register(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", metrics.Handler(h.gatherer))
	if h.hub != nil {
		websocket.RegisterRoutes(engine, websocket.NewHandler(h.hub))
	}

	r := engine.Group(h.apiPrefix)
	if h.limit != nil {
		r.Use(h.limit)
	}
	h.registerSOSRoutes(r)
	h.registerAttendantRoutes(r)
	h.registerCallRoutes(r)
	h.registerNotificationRoutes(r)
}

// once wraps create-style routes with the idempotency guard when configured.
func (h *Handlers) once(handler gin.HandlerFunc) []gin.HandlerFunc {
	if h.idem == nil {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{h.idem, handler}
}

// SOS Module
func (h *Handlers) registerSOSRoutes(r *gin.RouterGroup) {
	sos := r.Group("sos")
	{
		sos.POST("/request", h.once(h.handleCreateRequest)...)

		sos.POST("/emergency", h.once(h.handleCreateEmergency)...)

		sos.GET("/:id", h.handleGetRequest)

		if h.events != nil {
			sos.GET("/:id/events", h.handleRequestEvents)
		}

		sos.PATCH("/:id/status", h.handleUpdateStatus)

		sos.DELETE("/:id", h.handleCancelRequest)

		sos.GET("/user/:userId/history", h.handleRequestHistory)

		// emergency offers
		sos.POST("/assignments/:assignmentId/accept", h.once(h.handleAcceptAssignment)...)

		sos.POST("/assignments/:assignmentId/decline", h.handleDeclineAssignment)
	}
}

func (h *Handlers) registerAttendantRoutes(r *gin.RouterGroup) {
	attendants := r.Group("attendants")
	{
		attendants.GET("/nearby", h.handleNearbyAttendants)

		attendants.POST("", h.handleUpsertAttendant)

		attendants.GET("/:id", h.handleGetAttendant)

		attendants.GET("/:id/offers", h.handleAttendantOffers)

		attendants.PUT("/:id/location", h.handleUpdateLocation)

		if h.syncKey != "" {
			attendants.POST("/sync", middleware.SignVerify(h.syncKey, 0), h.handleSyncAttendants)
		}
	}
}

func (h *Handlers) registerCallRoutes(r *gin.RouterGroup) {
	group := r.Group("calls")
	{
		group.POST("/initiate", h.once(h.handleInitiateCall)...)

		group.POST("/emergency", h.once(h.handleEmergencyCall)...)

		group.PATCH("/:id/answer", h.handleAnswerCall)

		group.PATCH("/:id/reject", h.handleRejectCall)

		group.PATCH("/:id/end", h.handleEndCall)

		group.GET("/:id", h.handleGetCall)

		group.GET("/user/:userId/history", h.handleCallHistory)
	}
}

func (h *Handlers) registerNotificationRoutes(r *gin.RouterGroup) {
	notificationGroup := r.Group("notifications")
	{
		notificationGroup.GET("", h.handleListNotifications)

		notificationGroup.PATCH("/:id/read", h.handleMarkNotificationRead)
	}
}
