package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is gorm.ErrRecordNotFound so callers can match either.
	ErrNotFound = gorm.ErrRecordNotFound
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate")
)

// duplicateMarkers are matched against driver messages that TranslateError
// leaves untranslated.
var duplicateMarkers = []string{
	"unique constraint",         // sqlite, postgres
	"constraint failed: unique", // sqlite extended code text
	"duplicate key",             // postgres
}

// IsDuplicate reports whether err is a unique constraint violation.
func IsDuplicate(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrDuplicate), errors.Is(err, gorm.ErrDuplicatedKey):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err means no such row.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
