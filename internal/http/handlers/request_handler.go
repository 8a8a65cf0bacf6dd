// Prayer request HTTP handlers.
//
//   - POST /requests               (create; Idempotency-Key required; JSON or multipart)
//   - GET  /requests               (active feed, paginated, weak ETag)
//   - GET  /requests/{id}          (single request with its generated prayer)
//   - POST /requests/{id}/picture  (attach an image, multipart)
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/http/middleware"
	"github.com/tbourn/go-prayer-backend/internal/services"
)

// CreateRequestBody is the JSON payload for creating a request. Multipart
// clients send the same fields as form values plus a "picture" file.
type CreateRequestBody struct {
	Title string `json:"title" form:"title" example:"Healing for my mother"`
	Text  string `json:"text" form:"text" example:"She has surgery on Monday."`
}

// ListRequestsResponse wraps a page of the active feed.
type ListRequestsResponse struct {
	Requests   []domain.PrayerRequest `json:"requests"`
	Pagination Pagination             `json:"pagination"`
}

func isMultipart(c *gin.Context) bool {
	return strings.HasPrefix(c.ContentType(), "multipart/")
}

// CreateRequest godoc
// @ID          createRequest
// @Summary     Create a prayer request
// @Description Inserts the request at most once per (caller, Idempotency-Key) within the key's lifetime.
// @Description A picture (multipart) and a generated prayer are optional enrichments; their failure does not fail the call.
// @Tags        Requests
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
// @Param       X-User-ID        header    int     true   "Caller user ID"
// @Param       Idempotency-Key  header    string  true   "Client key, unique per creation"  example(5a3c-42)
// @Param       body             body      handlers.CreateRequestBody  false  "JSON payload"
// @Param       picture          formData  file    false  "Optional image (multipart only)"
// @Success     201  {object}  handlers.Response{data=services.CreateRequestResult}
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing caller"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already in progress or completed"
// @Failure     503  {object}  handlers.ErrorResponse  "Idempotency guard unavailable"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	if h.requests == nil {
		notConfigured(c)
		return
	}
	uid, okUID := callerID(c)
	if !okUID {
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	var (
		body    CreateRequestBody
		picture []byte
	)
	if isMultipart(c) {
		if err := c.ShouldBind(&body); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid form body")
			return
		}
		data, err := readPicture(c)
		if err != nil {
			failErr(c, err)
			return
		}
		picture = data
	} else if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.requests.Create(c.Request.Context(), services.CreateRequestInput{
		UserID:         uid,
		Title:          body.Title,
		Text:           body.Text,
		IdempotencyKey: key,
		Picture:        picture,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, "request created", res)
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List active prayer requests (paginated)
// @Description Newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.Response{data=handlers.ListRequestsResponse}
// @Header      200  {string}  ETag  "Weak ETag for the current feed"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	if h.requests == nil {
		notConfigured(c)
		return
	}
	ctx := c.Request.Context()
	p := clampPagination(c)

	// ETag pre-check (best effort).
	if etag, err := h.requests.FeedVersion(ctx); err == nil {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.requests.ListPage(ctx, p.Page, p.Size)
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []domain.PrayerRequest{}
	}
	ok(c, http.StatusOK, "ok", ListRequestsResponse{
		Requests: items,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.Size,
			Total:      total,
			TotalPages: p.TotalPages(total),
			HasNext:    p.HasNext(total),
		},
	})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Get a prayer request
// @Tags        Requests
// @Produce     json
// @Param       id   path      int  true  "Request ID"  minimum(1)
// @Success     200  {object}  handlers.Response{data=services.RequestView}
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Request not found"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	if h.requests == nil {
		notConfigured(c)
		return
	}
	id, okID := pathID(c, "request")
	if !okID {
		return
	}
	view, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, "ok", view)
}

// UploadRequestPicture godoc
// @ID          uploadRequestPicture
// @Summary     Attach a picture to a request
// @Tags        Requests
// @Accept      multipart/form-data
// @Produce     json
// @Param       X-User-ID  header    int   true  "Caller user ID (request owner)"
// @Param       id         path      int   true  "Request ID"  minimum(1)
// @Param       picture    formData  file  true  "JPEG, PNG, GIF or WebP, at most 5 MB"
// @Success     200  {object}  handlers.Response{data=handlers.PictureResponse}
// @Failure     403  {object}  handlers.ErrorResponse  "Not the owner"
// @Failure     404  {object}  handlers.ErrorResponse  "Request not found"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage not configured"
// @Router      /requests/{id}/picture [post]
func (h *Handlers) UploadRequestPicture(c *gin.Context) {
	if h.requests == nil {
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
	view, err := h.requests.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	if view.Request.UserID != uid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "only the author can change the picture")
		return
	}
	uploadPicture(c, func(ctx context.Context, data []byte) (string, error) {
		return h.requests.SetPicture(ctx, id, data)
	})
}
