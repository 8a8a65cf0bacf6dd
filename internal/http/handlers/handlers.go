package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prayer-backend/internal/domain"
	"github.com/tbourn/go-prayer-backend/internal/http/middleware"
	"github.com/tbourn/go-prayer-backend/internal/notify"
	"github.com/tbourn/go-prayer-backend/internal/services"
	"github.com/tbourn/go-prayer-backend/internal/storage"
	"github.com/tbourn/go-prayer-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// UserService manages accounts and notification settings.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*domain.User, error)
	Get(ctx context.Context, id int64) (*domain.User, error)
	RegisterPushToken(ctx context.Context, id int64, token string) error
	UpdatePreferences(ctx context.Context, id int64, push, email *bool) error
	SetPicture(ctx context.Context, id int64, data []byte) (string, error)
}

// RequestService creates and reads prayer requests.
type RequestService interface {
	Create(ctx context.Context, in services.CreateRequestInput) (*services.CreateRequestResult, error)
	Get(ctx context.Context, id int64) (*services.RequestView, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.PrayerRequest, int64, error)
	FeedVersion(ctx context.Context) (string, error)
	SetPicture(ctx context.Context, id int64, data []byte) (string, error)
}

// PrayerService records prayers.
type PrayerService interface {
	Record(ctx context.Context, requestID, userID int64) (*services.PrayerOutcome, error)
}

// BroadcastService sends bulk email.
type BroadcastService interface {
	Send(ctx context.Context, msg services.BroadcastMessage) (notify.BroadcastResult, error)
	Start(ctx context.Context, msg services.BroadcastMessage) (string, int, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints. Any service may be nil, in which case
// its routes answer 503 not_configured.
type Handlers struct {
	users      UserService
	requests   RequestService
	prayers    PrayerService
	broadcasts BroadcastService
}

// New constructs Handlers bound to the given services.
func New(users UserService, requests RequestService, prayers PrayerService, broadcasts BroadcastService) *Handlers {
	return &Handlers{users: users, requests: requests, prayers: prayers, broadcasts: broadcasts}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// picture form field for multipart uploads
	pictureField = "picture"
)

func clampPagination(c *gin.Context) utils.Page {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), defaultPageSize),
		defaultPageSize,
		maxPageSize,
	)
}

// callerID returns the X-User-ID caller or writes 401.
func callerID(c *gin.Context) (int64, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required")
		return 0, false
	}
	return id, true
}

// pathID parses the :id path parameter or writes 400.
func pathID(c *gin.Context, what string) (int64, bool) {
	id, ok := utils.ParseID(c.Param("id"))
	if !ok {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, what+" id must be a positive integer")
		return 0, false
	}
	return id, true
}

// sameUser checks that the caller acts on their own account.
func sameUser(c *gin.Context, target int64) bool {
	caller, ok := callerID(c)
	if !ok {
		return false
	}
	if caller != target {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "cannot modify another user")
		return false
	}
	return true
}

func notConfigured(c *gin.Context) {
	fail(c, http.StatusServiceUnavailable, ErrCodeNotConfigured, "feature is not configured")
}

// readPicture reads the picture part of a multipart form. A missing part
// returns (nil, nil).
func readPicture(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile(pictureField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, services.ErrInvalidInput
	}
	return readFormFile(fh)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > storage.MaxImageBytes {
		return nil, storage.ErrTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, services.ErrInvalidInput
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, storage.MaxImageBytes+1))
	if err != nil {
		return nil, services.ErrInvalidInput
	}
	if len(data) > storage.MaxImageBytes {
		return nil, storage.ErrTooLarge
	}
	return data, nil
}

// uploadPicture is the shared body of the picture endpoints.
func uploadPicture(c *gin.Context, set func(ctx context.Context, data []byte) (string, error)) {
	data, err := readPicture(c)
	if err != nil {
		failErr(c, err)
		return
	}
	if data == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadImage, "multipart field \"picture\" is required")
		return
	}
	url, err := set(c.Request.Context(), data)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, "picture uploaded", PictureResponse{URL: url})
}

// PictureResponse carries the public URL of an uploaded image.
type PictureResponse struct {
	URL string `json:"url" example:"https://cdn.example.org/prayer-images/request/4d1c.png"`
}
