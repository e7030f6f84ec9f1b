package handlers

import (
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/response"

	"github.com/gin-gonic/gin"
)

// handleListNotifications 当前用户收到的推送记录，最新在前
func (h *Handlers) handleListNotifications(c *gin.Context) {
	uid, ok := actor(c, c.Query("userId"))
	if !ok {
		return
	}
	page := pageOf(c)
	list, total, err := h.store.ListNotifications(c.Request.Context(), uid, page)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, list, total, page.Page, page.Limit)
}

func (h *Handlers) handleMarkNotificationRead(c *gin.Context) {
	uid, ok := actor(c, c.Query("userId"))
	if !ok {
		return
	}
	marked, err := h.store.MarkNotificationRead(c.Request.Context(), c.Param("id"), uid)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !marked {
		response.Error(c, errors.Wrapf(errors.ErrNotFound, "notification %s", c.Param("id")))
		return
	}
	response.Success(c, "notification marked as read", nil)
}
