package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/backfill/common"
)

// SharedSecret rejects requests whose bearer token is not secret.
func SharedSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.Error(common.Errf(http.StatusUnauthorized, "unauthorized"))
			c.Abort()
			return
		}
		c.Next()
	}
}
