// User HTTP handlers.
//
//   - POST /users                    (register)
//   - GET  /users/{id}               (profile)
//   - PUT  /users/{id}/push-token    (device token)
//   - PUT  /users/{id}/preferences   (channel opt-ins)
//   - POST /users/{id}/picture       (profile picture, multipart)
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-prayer-backend/internal/services"
)

// RegisterUserRequest is the JSON payload for registration.
type RegisterUserRequest struct {
	UserName          string `json:"user_name" binding:"required,max=64" example:"anna"`
	RealName          string `json:"real_name" example:"Anna Keller"`
	Email             string `json:"email" example:"anna@example.org"`
	PushNotifications *bool  `json:"push_notifications" example:"true"`
	PrayerEmails      *bool  `json:"prayer_emails" example:"true"`
}

// PushTokenRequest registers a device push token.
type PushTokenRequest struct {
	Token string `json:"token" binding:"required" example:"ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]"`
}

// PreferencesRequest updates channel opt-ins; omitted fields are unchanged.
type PreferencesRequest struct {
	PushNotifications *bool `json:"push_notifications" example:"false"`
	PrayerEmails      *bool `json:"prayer_emails" example:"true"`
}

// RegisterUser godoc
// @ID          registerUser
// @Summary     Register a user
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterUserRequest  true  "Registration payload"
// @Success     201   {object}  handlers.Response{data=domain.User}
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409   {object}  handlers.ErrorResponse  "User name taken"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [post]
func (h *Handlers) RegisterUser(c *gin.Context) {
	if h.users == nil {
		notConfigured(c)
		return
	}
	var req RegisterUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.users.Register(c.Request.Context(), services.RegisterInput{
		UserName:          req.UserName,
		RealName:          req.RealName,
		Email:             req.Email,
		PushNotifications: req.PushNotifications,
		PrayerEmails:      req.PrayerEmails,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, "user registered", u)
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Param       id   path      int  true  "User ID"  minimum(1)
// @Success     200  {object}  handlers.Response{data=domain.User}
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	if h.users == nil {
		notConfigured(c)
		return
	}
	id, okID := pathID(c, "user")
	if !okID {
		return
	}
	u, err := h.users.Get(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, "ok", u)
}

// RegisterPushToken godoc
// @ID          registerPushToken
// @Summary     Store the device push token
// @Tags        Users
// @Accept      json
// @Param       X-User-ID  header  int  true  "Caller user ID"
// @Param       id         path    int  true  "User ID"  minimum(1)
// @Param       body       body    handlers.PushTokenRequest  true  "Token"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing caller"
// @Failure     403  {object}  handlers.ErrorResponse  "Other user"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id}/push-token [put]
func (h *Handlers) RegisterPushToken(c *gin.Context) {
	if h.users == nil {
		notConfigured(c)
		return
	}
	id, okID := pathID(c, "user")
	if !okID || !sameUser(c, id) {
		return
	}
	var req PushTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token required")
		return
	}
	if err := h.users.RegisterPushToken(c.Request.Context(), id, req.Token); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Update notification preferences
// @Tags        Users
// @Accept      json
// @Param       X-User-ID  header  int  true  "Caller user ID"
// @Param       id         path    int  true  "User ID"  minimum(1)
// @Param       body       body    handlers.PreferencesRequest  true  "Preferences"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id}/preferences [put]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	if h.users == nil {
		notConfigured(c)
		return
	}
	id, okID := pathID(c, "user")
	if !okID || !sameUser(c, id) {
		return
	}
	var req PreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.PushNotifications == nil && req.PrayerEmails == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "nothing to update")
		return
	}
	if err := h.users.UpdatePreferences(c.Request.Context(), id, req.PushNotifications, req.PrayerEmails); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// UploadUserPicture godoc
// @ID          uploadUserPicture
// @Summary     Upload a profile picture
// @Tags        Users
// @Accept      multipart/form-data
// @Produce     json
// @Param       X-User-ID  header    int   true  "Caller user ID"
// @Param       id         path      int   true  "User ID"  minimum(1)
// @Param       picture    formData  file  true  "JPEG, PNG, GIF or WebP, at most 5 MB"
// @Success     200  {object}  handlers.Response{data=handlers.PictureResponse}
// @Failure     400  {object}  handlers.ErrorResponse  "Bad image"
// @Failure     413  {object}  handlers.ErrorResponse  "Image too large"
// @Failure     503  {object}  handlers.ErrorResponse  "Storage not configured"
// @Router      /users/{id}/picture [post]
func (h *Handlers) UploadUserPicture(c *gin.Context) {
	if h.users == nil {
		notConfigured(c)
		return
	}
	id, okID := pathID(c, "user")
	if !okID || !sameUser(c, id) {
		return
	}
	uploadPicture(c, func(ctx context.Context, data []byte) (string, error) {
		return h.users.SetPicture(ctx, id, data)
	})
}
