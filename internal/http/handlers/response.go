// Package handlers implements the JSON API of the prayer service.
//
// Every endpoint answers with one of two envelopes. Clients look at the
// numeric "error" flag first:
//
//	200 {"error":0,"result":"prayer recorded","data":{...}}
//	409 {"error":1,"code":"already_prayed","result":"already prayed for this request","request_id":"..."}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prayer-backend/internal/http/middleware"
)

// Response is the success envelope.
type Response struct {
	Error  int    `json:"error" example:"0"`
	Result string `json:"result" example:"prayer recorded"`
	Data   any    `json:"data,omitempty"`
}

// ErrorResponse is the failure envelope. Code is one of the ErrCode
// constants; RequestID echoes X-Request-ID.
type ErrorResponse struct {
	Error     int    `json:"error" example:"1"`
	Code      string `json:"code" example:"request_not_found"`
	Result    string `json:"result" example:"request not found"`
	RequestID string `json:"request_id,omitempty" example:"8f14e45f-ceea-467f-a0e6-1c7b3a2d9e01"`
}

// fail aborts with the failure envelope. 5xx answers are logged together
// with the last error attached to the context.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().Int("status", status).Str("code", code)
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg(msg)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     1,
		Code:      code,
		Result:    msg,
		RequestID: middleware.RequestIDFrom(c),
	})
}

// Fail is used by the router for 404/405 fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, result string, data any) {
	c.JSON(status, Response{Result: result, Data: data})
}

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
