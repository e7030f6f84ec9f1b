package handlers

import (
	"FuelSOS/internal/calls"
	"FuelSOS/pkg/response"

	"github.com/gin-gonic/gin"
)

type callActionBody struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

func (h *Handlers) handleInitiateCall(c *gin.Context) {
	var in calls.InitiateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	uid, ok := actor(c, in.CallerID)
	if !ok {
		return
	}
	in.CallerID = uid

	sess, err := h.calls.Initiate(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "call initiated", sess)
}

// handleEmergencyCall 为求助请求召集附近救援员的紧急会议
func (h *Handlers) handleEmergencyCall(c *gin.Context) {
	var body struct {
		UserID       string `json:"userId"`
		SOSRequestID string `json:"sosRequestId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, "sosRequestId is required", nil)
		return
	}
	uid, ok := actor(c, body.UserID)
	if !ok {
		return
	}

	sess, err := h.calls.EmergencyConference(c.Request.Context(), uid, body.SOSRequestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, "emergency conference started", sess)
}

func (h *Handlers) handleAnswerCall(c *gin.Context) {
	var body callActionBody
	if !bindOptional(c, &body) {
		return
	}
	uid, ok := actor(c, body.UserID)
	if !ok {
		return
	}
	call, err := h.calls.Answer(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "call answered", gin.H{"call": call})
}

func (h *Handlers) handleRejectCall(c *gin.Context) {
	var body callActionBody
	if !bindOptional(c, &body) {
		return
	}
	uid, ok := actor(c, body.UserID)
	if !ok {
		return
	}
	call, err := h.calls.Reject(c.Request.Context(), c.Param("id"), uid, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "call rejected", gin.H{"call": call})
}

func (h *Handlers) handleEndCall(c *gin.Context) {
	var body callActionBody
	if !bindOptional(c, &body) {
		return
	}
	uid, ok := actor(c, body.UserID)
	if !ok {
		return
	}
	call, err := h.calls.End(c.Request.Context(), c.Param("id"), uid, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "call ended", gin.H{"call": call})
}

func (h *Handlers) handleGetCall(c *gin.Context) {
	call, err := h.calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "", gin.H{"call": call})
}

func (h *Handlers) handleCallHistory(c *gin.Context) {
	uid, ok := actor(c, c.Param("userId"))
	if !ok {
		return
	}
	page := pageOf(c)
	list, total, err := h.calls.History(c.Request.Context(), uid, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, list, total, page.Page, page.Limit)
}
