package handlers

import (
	"FuelSOS/internal/dispatch"
	"FuelSOS/internal/models"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/logger"
	"FuelSOS/pkg/middleware"
	"FuelSOS/pkg/response"
	"FuelSOS/pkg/sse"
	"FuelSOS/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleCreateRequest 创建普通求助并立即派单
func (h *Handlers) handleCreateRequest(c *gin.Context) {
	var in dispatch.Intake
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	uid, ok := actor(c, in.RequesterID)
	if !ok {
		return
	}
	in.RequesterID = uid
	if in.Priority == models.PriorityEmergency {
		response.Fail(c, "emergency requests go to /sos/emergency", nil)
		return
	}

	res, err := h.engine.Submit(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Outcome == dispatch.OutcomeAssigned {
		response.Created(c, "SOS request created and attendant assigned", res)
		return
	}
	logger.Warn("no attendant available", zap.String("request_id", res.Request.ID))
	response.Accepted(c, "SOS request created, searching for available attendants...", res)
}

// handleCreateEmergency 紧急求助：并行邀约附近的救援员
func (h *Handlers) handleCreateEmergency(c *gin.Context) {
	var in dispatch.Intake
	if err := c.ShouldBindJSON(&in); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	uid, ok := actor(c, in.RequesterID)
	if !ok {
		return
	}
	in.RequesterID = uid
	in.Priority = models.PriorityEmergency

	res, err := h.engine.Submit(c.Request.Context(), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	msg := "emergency request created, attendants notified"
	if res.NoHelpFound {
		msg = "emergency request created, no attendants nearby"
	}
	response.Created(c, msg, res)
}

func (h *Handlers) handleGetRequest(c *gin.Context) {
	req, err := h.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "", gin.H{"sosRequest": req})
}

func (h *Handlers) handleUpdateStatus(c *gin.Context) {
	var body struct {
		Status      models.RequestStatus `json:"status" binding:"required"`
		AttendantID string               `json:"attendantId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, "status is required", nil)
		return
	}

	req, err := h.lifecycle.Transition(c.Request.Context(), c.Param("id"), body.Status, body.AttendantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "SOS request status updated to "+string(req.Status), gin.H{"sosRequest": req})
}

// handleCancelRequest 只有发起人可以取消
func (h *Handlers) handleCancelRequest(c *gin.Context) {
	var body struct {
		UserID string `json:"userId"`
		Reason string `json:"reason"`
	}
	if !bindOptional(c, &body) {
		return
	}
	uid, ok := actor(c, body.UserID)
	if !ok {
		return
	}

	req, err := h.lifecycle.Cancel(c.Request.Context(), c.Param("id"), uid, body.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "SOS request cancelled successfully", gin.H{"sosRequest": req})
}

func (h *Handlers) handleRequestHistory(c *gin.Context) {
	uid, ok := actor(c, c.Param("userId"))
	if !ok {
		return
	}
	page := pageOf(c)
	list, total, err := h.lifecycle.History(c.Request.Context(), uid, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, list, total, page.Page, page.Limit)
}

type offerBody struct {
	AttendantID string `json:"attendantId"`
}

// handleAcceptAssignment 第一个接受的救援员获胜
func (h *Handlers) handleAcceptAssignment(c *gin.Context) {
	var body offerBody
	if !bindOptional(c, &body) {
		return
	}
	uid, ok := actor(c, body.AttendantID)
	if !ok {
		return
	}

	res, err := h.engine.Accept(c.Request.Context(), c.Param("assignmentId"), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "assignment accepted", gin.H{
		"sosRequest": res.Request,
		"assignment": res.Assignment,
		"declined":   len(res.Declined),
	})
}

func (h *Handlers) handleDeclineAssignment(c *gin.Context) {
	var body offerBody
	if !bindOptional(c, &body) {
		return
	}
	uid, ok := actor(c, body.AttendantID)
	if !ok {
		return
	}

	a, err := h.engine.Decline(c.Request.Context(), c.Param("assignmentId"), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "assignment declined", gin.H{"assignment": a})
}

// handleRequestEvents 以 SSE 推送求助状态，先发送当前快照
func (h *Handlers) handleRequestEvents(c *gin.Context) {
	uid, ok := actor(c, c.Query("userId"))
	if !ok {
		return
	}
	id := c.Param("id")
	_, allowed, err := h.lifecycle.CanWatch(c.Request.Context(), id, uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !allowed && middleware.CurrentUserType(c) != constant.UserTypeAdmin {
		response.Error(c, errors.Wrapf(errors.ErrForbidden, "%s cannot follow %s", uid, id))
		return
	}
	// The snapshot is read after subscribing; pushes with a lower version than
	// the snapshot are stale and clients drop them.
	h.events.Serve(c, util.NewID("sse"), []string{constant.SOSGroup(id)}, func() *sse.Event {
		req, err := h.lifecycle.Get(c.Request.Context(), id)
		if err != nil {
			logger.Warn("snapshot for event stream failed", zap.String("request_id", id), zap.Error(err))
			return nil
		}
		return &sse.Event{Name: "snapshot", Payload: gin.H{"sosRequest": req}}
	})
}
