// Package middleware holds the Gin middleware shared by the HTTP layer.
//
// IdempotencyValidator checks the Idempotency-Key header on unsafe methods
// and stashes the key for handlers. With a lookup configured it also asks
// the key ledger whether the key is already held in the request's scope; a
// hit flags the request as a replay, which the rate limiter lets through.
// The service still makes the authoritative decision through its guard.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen key of a write.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	defaultMaxKeyLen = 128
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s, _ := c.Value(ctxKeyIdemKey).(string)
	return s, s != ""
}

// IsReplay reports whether the ledger already held the request's key.
func IsReplay(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyIdemReplay).(bool)
	return b
}

// IdempotencyOptions configures header validation and scoping.
type IdempotencyOptions struct {
	MaxLen  int            // <= 0 means 128
	Pattern *regexp.Regexp // nil means ^[A-Za-z0-9._~\-:]+$
	// Scope names the ledger scope of a request; "" skips the lookup.
	// Defaults to ScopeByRouteAndUser.
	Scope func(c *gin.Context) string
}

// IdempotencyLookup reports whether key is currently held in scope.
// services.DBGuard.Seen and services.RedisGuard.Seen fit this shape.
type IdempotencyLookup func(ctx context.Context, scope, key string) (bool, error)

// ScopeByRouteAndUser scopes keys by method, route template and caller.
// Anonymous requests get no scope.
func ScopeByRouteAndUser(c *gin.Context) string {
	uid, ok := UserID(c)
	if !ok {
		return ""
	}
	return c.Request.Method + " " + routeOf(c) + ":" + strconv.FormatInt(uid, 10)
}

// IdempotencyValidator returns the middleware. Safe methods pass untouched.
// A malformed key is rejected with 400 bad_idempotency_key. A failing
// lookup is logged and treated as a miss.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxKeyLen
	}
	pattern := opts.Pattern
	if pattern == nil {
		pattern = defaultKeyPattern
	}
	scopeOf := opts.Scope
	if scopeOf == nil {
		scopeOf = ScopeByRouteAndUser
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !isWrite(c.Request.Method) {
			c.Next()
			return
		}
		if len(key) > maxLen || !pattern.MatchString(key) {
			AbortError(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			if scope := scopeOf(c); scope != "" {
				held, err := lookup(c.Request.Context(), scope, key)
				switch {
				case err != nil:
					LoggerFrom(c).Warn().Err(err).Str("scope", scope).Msg("idempotency lookup failed")
				case held:
					c.Set(ctxKeyIdemReplay, true)
					c.Set(ctxKeyRateBypass, true)
				}
			}
		}
		c.Next()
	}
}
