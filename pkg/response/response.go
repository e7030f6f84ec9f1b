package response

import (
	"net/http"

	"FuelSOS/pkg/errors"

	"github.com/gin-gonic/gin"
)

type Body struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Message: msg, Data: data})
}

func Created(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Message: msg, Data: data})
}

// Accepted answers 202: the request was stored but its outcome is still open.
func Accepted(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Message: msg, Data: data})
}

// Page is the envelope of a paginated listing.
type Page struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
	Pages int64       `json:"pages"`
}

func Paged(c *gin.Context, items interface{}, total int64, page, limit int) {
	pages := int64(0)
	if limit > 0 {
		pages = (total + int64(limit) - 1) / int64(limit)
	}
	Success(c, "", Page{Items: items, Total: total, Page: page, Limit: limit, Pages: pages})
}

// Fail answers 400 with msg.
func Fail(c *gin.Context, msg string, data interface{}) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Body{Success: false, Code: errors.KindValidation.String(), Message: msg, Data: data})
}

// Error maps err's kind to an HTTP status.
func Error(c *gin.Context, err error) {
	kind := errors.KindOf(err)
	msg := err.Error()
	if kind == errors.KindInternal || kind == errors.KindUnknown {
		kind = errors.KindInternal
		msg = "internal server error"
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(Status(kind), Body{Success: false, Code: kind.String(), Message: msg})
}

func Status(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindForbidden:
		return http.StatusForbidden
	case errors.KindConflict, errors.KindInvalidTransition:
		return http.StatusConflict
	case errors.KindNoCandidate:
		return http.StatusAccepted
	case errors.KindDirectoryUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
