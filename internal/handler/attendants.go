package handlers

import (
	"FuelSOS/internal/models"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/middleware"
	"FuelSOS/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// handleNearbyAttendants 按距离返回半径内的救援员，radius 缺省为派单半径
func (h *Handlers) handleNearbyAttendants(c *gin.Context) {
	lat, err := cast.ToFloat64E(c.Query("latitude"))
	if err != nil || c.Query("latitude") == "" {
		response.Fail(c, "latitude is required", nil)
		return
	}
	lon, err := cast.ToFloat64E(c.Query("longitude"))
	if err != nil || c.Query("longitude") == "" {
		response.Fail(c, "longitude is required", nil)
		return
	}
	radius, err := cast.ToFloat64E(c.DefaultQuery("radius", "0"))
	if err != nil {
		response.Fail(c, "invalid radius", nil)
		return
	}

	cands, err := h.engine.Nearby(c.Request.Context(), models.Location{Latitude: lat, Longitude: lon}, radius)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "", gin.H{"attendants": cands, "count": len(cands)})
}

func (h *Handlers) handleGetAttendant(c *gin.Context) {
	a, err := h.store.GetAttendant(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "", gin.H{"attendant": a})
}

// handleUpsertAttendant 注册或更新救援员资料；可用性由派单账本维护
func (h *Handlers) handleUpsertAttendant(c *gin.Context) {
	var a models.Attendant
	if err := c.ShouldBindJSON(&a); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}
	uid, ok := actor(c, a.ID)
	if !ok {
		return
	}
	a.ID = uid

	trusted := middleware.CurrentUserType(c) == constant.UserTypeAdmin
	saved, err := h.tracker.Upsert(c.Request.Context(), &a, trusted)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "attendant saved", gin.H{"attendant": saved})
}

type syncBody struct {
	Attendants []models.Attendant `json:"attendants" binding:"required"`
}

// handleSyncAttendants 接收上游名册系统的签名推送，可写入认证状态与评分
func (h *Handlers) handleSyncAttendants(c *gin.Context) {
	var body syncBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Fail(c, "attendants are required", nil)
		return
	}

	ctx := c.Request.Context()
	synced := make([]*models.Attendant, 0, len(body.Attendants))
	for i := range body.Attendants {
		a, err := h.tracker.Upsert(ctx, &body.Attendants[i], middleware.Trusted(c))
		if err != nil {
			response.Error(c, err)
			return
		}
		synced = append(synced, a)
	}
	response.Success(c, "directory synced", gin.H{"attendants": synced, "count": len(synced)})
}

// handleAttendantOffers 救援员重连后拉取仍在有效期内的紧急邀约
func (h *Handlers) handleAttendantOffers(c *gin.Context) {
	uid, ok := actor(c, c.Param("id"))
	if !ok {
		return
	}
	offers, err := h.engine.PendingOffers(c.Request.Context(), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "", gin.H{"offers": offers, "count": len(offers)})
}

func (h *Handlers) handleUpdateLocation(c *gin.Context) {
	uid, ok := actor(c, c.Param("id"))
	if !ok {
		return
	}
	var loc models.Location
	if err := c.ShouldBindJSON(&loc); err != nil {
		response.Fail(c, "invalid request body", nil)
		return
	}

	a, err := h.tracker.Move(c.Request.Context(), uid, loc)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, "location updated", gin.H{"attendant": a})
}
