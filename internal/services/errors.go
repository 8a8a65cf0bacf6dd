// Package services defines the business logic for users, prayer requests,
// prayers and broadcasts. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

// Validation errors.
var (
	// ErrInvalidInput is returned when a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTooLong is returned when a text field exceeds its configured limit.
	ErrTooLong = errors.New("text too long")

	// ErrMissingIdempotencyKey is returned when a guarded operation is called
	// without a key.
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
)

// Not-found errors.
var (
	// ErrUserNotFound indicates that the user does not exist or is inactive.
	ErrUserNotFound = errors.New("user not found")

	// ErrRequestNotFound indicates that the prayer request does not exist or
	// is no longer active.
	ErrRequestNotFound = errors.New("request not found")
)

// Conflict errors. These are expected outcomes, not faults.
var (
	// ErrAlreadyPrayed is returned when the user already prayed for the request.
	ErrAlreadyPrayed = errors.New("already prayed for this request")

	// ErrAlreadyInProgressOrCompleted is returned when an operation with the
	// same idempotency key is running or finished inside the key's lifetime.
	ErrAlreadyInProgressOrCompleted = errors.New("operation with this idempotency key is already in progress or completed")

	// ErrUserNameTaken is returned on registration with a used user name.
	ErrUserNameTaken = errors.New("user name already taken")
)

// Infrastructure errors.
var (
	// ErrGuardUnavailable means the idempotency ledger could not decide
	// whether the operation may proceed. Callers must not proceed and should
	// retry later.
	ErrGuardUnavailable = errors.New("idempotency guard unavailable")

	// ErrStorageDisabled is returned when an image upload is attempted
	// without an object store.
	ErrStorageDisabled = errors.New("image storage is not configured")

	// ErrMailDisabled is returned when a broadcast is attempted without an
	// email provider.
	ErrMailDisabled = errors.New("email provider is not configured")
)
