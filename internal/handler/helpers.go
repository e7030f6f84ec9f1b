package handlers

import (
	"io"
	"strings"

	"FuelSOS/internal/store"
	"FuelSOS/pkg/constant"
	"FuelSOS/pkg/errors"
	"FuelSOS/pkg/middleware"
	"FuelSOS/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"
)

// actor resolves who a request acts for. An identified caller may only act
// for themselves unless they are an admin; an anonymous caller is taken at
// their word. Writes the error response and returns false on failure.
func actor(c *gin.Context, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)
	current := middleware.CurrentUser(c)
	if claimed == "" {
		claimed = current
	}
	if claimed == "" {
		response.Fail(c, "userId is required", nil)
		return "", false
	}
	if current != "" && current != claimed && middleware.CurrentUserType(c) != constant.UserTypeAdmin {
		response.Error(c, errors.Wrapf(errors.ErrForbidden, "%s cannot act for %s", current, claimed))
		return "", false
	}
	return claimed, true
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		response.Fail(c, "invalid request body", nil)
		return false
	}
	return true
}

func pageOf(c *gin.Context) store.Page {
	return store.Page{
		Page:  cast.ToInt(c.DefaultQuery("page", "1")),
		Limit: cast.ToInt(c.DefaultQuery("limit", "10")),
	}.Normalize()
}
