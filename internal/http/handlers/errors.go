// Package handlers defines the HTTP error taxonomy.
//
// Codes are lowercase snake_case and stable; clients branch on them. failErr
// maps service and storage sentinels to a status and code with errors.Is so
// every handler reports the same failure the same way:
//
//	validation          → 400 (413 for oversized images)
//	missing caller      → 401
//	not found           → 404
//	conflict            → 409
//	guard unavailable   → 503, retry later
//	feature disabled    → 503
//	anything else       → 500
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prayer-backend/internal/services"
	"github.com/tbourn/go-prayer-backend/internal/storage"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeTooLong              = "too_long"
	ErrCodeMissingKey           = "missing_idempotency_key"
	ErrCodeUserNotFound         = "user_not_found"
	ErrCodeRequestNotFound      = "request_not_found"
	ErrCodeAlreadyPrayed        = "already_prayed"
	ErrCodeAlreadyInProgress    = "already_in_progress_or_completed"
	ErrCodeUserNameTaken        = "user_name_taken"
	ErrCodeGuardUnavailable     = "guard_unavailable"
	ErrCodeNotConfigured        = "not_configured"
	ErrCodeBadImage             = "bad_image"
	ErrCodeImageTooLarge        = "image_too_large"
	ErrCodeUploadFailed         = "upload_failed"
	ErrCodeBroadcastFailed      = "broadcast_failed"
	ErrCodeIdempotencyKeyFormat = "bad_idempotency_key"
)

type errMapping struct {
	target error
	status int
	code   string
}

var errTable = []errMapping{
	{services.ErrInvalidInput, http.StatusBadRequest, ErrCodeBadRequest},
	{services.ErrTooLong, http.StatusBadRequest, ErrCodeTooLong},
	{services.ErrMissingIdempotencyKey, http.StatusBadRequest, ErrCodeMissingKey},
	{storage.ErrEmpty, http.StatusBadRequest, ErrCodeBadImage},
	{storage.ErrUnsupportedType, http.StatusBadRequest, ErrCodeBadImage},
	{storage.ErrBadCategory, http.StatusBadRequest, ErrCodeBadImage},
	{storage.ErrTooLarge, http.StatusRequestEntityTooLarge, ErrCodeImageTooLarge},

	{services.ErrUserNotFound, http.StatusNotFound, ErrCodeUserNotFound},
	{services.ErrRequestNotFound, http.StatusNotFound, ErrCodeRequestNotFound},

	{services.ErrAlreadyPrayed, http.StatusConflict, ErrCodeAlreadyPrayed},
	{services.ErrAlreadyInProgressOrCompleted, http.StatusConflict, ErrCodeAlreadyInProgress},
	{services.ErrUserNameTaken, http.StatusConflict, ErrCodeUserNameTaken},

	{services.ErrGuardUnavailable, http.StatusServiceUnavailable, ErrCodeGuardUnavailable},
	{services.ErrStorageDisabled, http.StatusServiceUnavailable, ErrCodeNotConfigured},
	{services.ErrMailDisabled, http.StatusServiceUnavailable, ErrCodeNotConfigured},
	{storage.ErrUploadFailed, http.StatusBadGateway, ErrCodeUploadFailed},
}

// statusFor returns the HTTP status and code for err.
func statusFor(err error) (int, string) {
	for _, m := range errTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// failErr maps err onto the failure envelope. Internal errors are reported
// with a generic message; the detail goes to the log only.
func failErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	if status == http.StatusServiceUnavailable && code == ErrCodeGuardUnavailable {
		c.Header("Retry-After", "1")
		msg = services.ErrGuardUnavailable.Error()
	}
	fail(c, status, code, msg)
}
