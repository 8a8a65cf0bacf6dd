package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prayer-backend/internal/services"
)

// BroadcastRequest is the payload for a bulk email. Either Body (rendered
// with the standard template) or HTML must be set.
type BroadcastRequest struct {
	Subject string `json:"subject" binding:"required" example:"Prayer night on Friday"`
	Body    string `json:"body" example:"Join us at 7pm in the chapel."`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// BroadcastAccepted is returned when a broadcast runs in the background.
type BroadcastAccepted struct {
	JobID      string `json:"job_id" example:"6f1c9c4e-6d0b-4b7e-9d59-0f0f1e7a2b11"`
	Recipients int    `json:"recipients" example:"120"`
}

// SendBroadcast godoc
// @ID          sendBroadcast
// @Summary     Email every user who opted into prayer emails
// @Description Sends are spaced by a fixed minimum interval. By default the walk runs in the
// @Description background and 202 is returned; with wait=true the aggregate counts are returned.
// @Tags        Broadcasts
// @Accept      json
// @Produce     json
// @Param       wait  query     bool  false  "Wait for completion"
// @Param       body  body      handlers.BroadcastRequest  true  "Message"
// @Success     200   {object}  handlers.Response{data=notify.BroadcastResult}
// @Success     202   {object}  handlers.Response{data=handlers.BroadcastAccepted}
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     503   {object}  handlers.ErrorResponse  "Email not configured"
// @Router      /broadcasts [post]
func (h *Handlers) SendBroadcast(c *gin.Context) {
	if h.broadcasts == nil {
		notConfigured(c)
		return
	}
	var req BroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "subject and body or html required")
		return
	}
	msg := services.BroadcastMessage{Subject: req.Subject, Body: req.Body, HTML: req.HTML, Text: req.Text}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		jobID, n, err := h.broadcasts.Start(c.Request.Context(), msg)
		if err != nil {
			failErr(c, err)
			return
		}
		ok(c, http.StatusAccepted, "broadcast started", BroadcastAccepted{JobID: jobID, Recipients: n})
		return
	}

	res, err := h.broadcasts.Send(c.Request.Context(), msg)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, "broadcast finished", res)
}
