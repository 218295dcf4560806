package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiKeyAuth rejects requests whose X-API-Key header does not match key.
// Comparison is constant time.
func apiKeyAuth(key string) gin.HandlerFunc {
	expected := []byte(key)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("X-API-Key"))
		if len(got) != len(expected) || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("invalid api key"))
			return
		}
		c.Next()
	}
}
