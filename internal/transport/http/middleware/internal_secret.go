package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"memoryvault/internal/transport/http/response"
)

// InternalSecretHeader guards the server-to-server endpoints.
const InternalSecretHeader = "X-Internal-Secret"

func InternalSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := strings.TrimSpace(c.GetHeader(InternalSecretHeader))
		if provided == "" {
			response.Error(c, 401, response.CodeUnauthorized, "missing internal secret header")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			response.Error(c, 401, response.CodeUnauthorized, "invalid internal secret")
			c.Abort()
			return
		}
		c.Next()
	}
}
