package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the caller's numeric user id. Authentication is
// performed upstream; this service trusts the header.
const HeaderUserID = "X-User-ID"

// ctxKeyUserID holds the caller id as a decimal string so the rate limiter
// and access logs can key on it.
const ctxKeyUserID = "userID"

// Identity reads X-User-ID and stashes it in the Gin context. A present but
// malformed header is rejected with 400; an absent one is left for handlers
// to decide on.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if raw == "" {
			c.Next()
			return
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			AbortError(c, http.StatusBadRequest, "bad_user_id", "X-User-ID must be a positive integer")
			return
		}
		c.Set(ctxKeyUserID, strconv.FormatInt(id, 10))
		c.Next()
	}
}

// UserID returns the caller id stashed by Identity.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	s, _ := v.(string)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// AbortError writes the failure envelope shared with the handlers package:
//
//	{"error":1,"code":"...","result":"...","request_id":"..."}
func AbortError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":      1,
		"code":       code,
		"result":     msg,
		"request_id": c.Writer.Header().Get(requestIDHeader),
	})
}
