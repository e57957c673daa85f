// Package auth identifies API callers. Keys name a caller for log
// attribution; every caller sees the same event registry.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const callerCtxKey = "caller"

// APIKeyMiddleware resolves the request's API key to a caller name and
// aborts with 401 when the key is unknown. The key is read from X-API-Key or
// from an "Authorization: Bearer" header.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := lookup(keys, presentedKey(c))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(callerCtxKey, caller)
		c.Next()
	}
}

// Caller returns the authenticated caller, or "" on public routes.
func Caller(c *gin.Context) string {
	return c.GetString(callerCtxKey)
}

func presentedKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader("X-API-Key")); k != "" {
		return k
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// lookup compares against every configured key in constant time.
func lookup(keys map[string]string, presented string) (string, bool) {
	if presented == "" {
		return "", false
	}
	var (
		caller string
		found  bool
	)
	for k, name := range keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(presented)) == 1 {
			caller, found = name, true
		}
	}
	return caller, found
}
