package webhook

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// LimitBody caps the request body. A zero limit leaves the body untouched.
func LimitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// HeaderTokenAuth rejects requests whose header does not carry the expected
// token. An empty token disables the check.
func HeaderTokenAuth(header, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !headerMatches(c.Request, header, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
			return
		}
		c.Next()
	}
}

// endpointAuthorized applies the optional per-endpoint header check.
func endpointAuthorized(r *http.Request, e Endpoint) bool {
	if e.AuthHeaderName == nil || e.AuthHeaderValue == nil {
		return true
	}
	return headerMatches(r, *e.AuthHeaderName, *e.AuthHeaderValue)
}

func headerMatches(r *http.Request, header, token string) bool {
	if header == "" || token == "" {
		return true
	}
	got := r.Header.Get(header)
	return subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
