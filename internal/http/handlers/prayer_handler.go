package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RecordPrayer godoc
// @ID          recordPrayer
// @Summary     Pray for a request
// @Description Records that the caller prayed for the request and notifies its author.
// @Description Notification failures never fail the call; see emailSent, pushSent and notification.
// @Tags        Prayers
// @Produce     json
// @Param       X-User-ID  header  int  true  "Caller user ID"
// @Param       id         path    int  true  "Request ID"  minimum(1)
// @Success     200  {object}  handlers.Response{data=services.PrayerOutcome}
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing caller"
// @Failure     404  {object}  handlers.ErrorResponse  "Request or user not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already prayed"
// @Router      /requests/{id}/pray [post]
func (h *Handlers) RecordPrayer(c *gin.Context) {
	if h.prayers == nil {
		notConfigured(c)
		return
	}
	id, okID := pathID(c, "request")
	if !okID {
		return
	}
	uid, okUID := callerID(c)
	if !okUID {
		return
	}
	out, err := h.prayers.Record(c.Request.Context(), id, uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, "prayer recorded", out)
}
