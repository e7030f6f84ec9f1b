package middleware

import (
	"strings"

	"FuelSOS/pkg/constant"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by bearer tokens. Subject is the user id.
type Claims struct {
	UserType string `json:"utype,omitempty"`
	jwt.RegisteredClaims
}

// Identity resolves the caller from an HS256 bearer token, falling back to the
// X-User-ID / X-User-Type headers when allowHeader is set. Requests without an
// identity continue anonymously; handlers decide whether that is acceptable.
func Identity(secret string, allowHeader bool) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if auth := c.GetHeader("Authorization"); secret != "" && strings.HasPrefix(auth, "Bearer ") {
			claims := &Claims{}
			_, err := jwt.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
				return key, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err == nil && claims.Subject != "" {
				c.Set(constant.UserField, claims.Subject)
				c.Set(constant.UserTypeField, claims.UserType)
				c.Next()
				return
			}
		}
		if allowHeader {
			if uid := strings.TrimSpace(c.GetHeader("X-User-ID")); uid != "" {
				c.Set(constant.UserField, uid)
				c.Set(constant.UserTypeField, strings.TrimSpace(c.GetHeader("X-User-Type")))
			}
		}
		c.Next()
	}
}

// CurrentUser returns the resolved caller id, or "".
func CurrentUser(c *gin.Context) string {
	return c.GetString(constant.UserField)
}

func CurrentUserType(c *gin.Context) string {
	return c.GetString(constant.UserTypeField)
}
