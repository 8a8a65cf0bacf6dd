// Package utils provides small, generic helpers shared by the HTTP and
// service layers. They carry no domain logic.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty
// or not an integer.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ParseID parses a positive int64 path identifier.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Page is a bounded page request. Page is 1-based.
type Page struct {
	Page int
	Size int
}

// ClampPage bounds page to >= 1 and size to [1, max], substituting def for a
// non-positive size.
func ClampPage(page, size, def, max int) Page {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = def
	}
	if size < 1 {
		size = 1
	}
	if max > 0 && size > max {
		size = max
	}
	return Page{Page: page, Size: size}
}

// Offset is the number of rows before the page.
func (p Page) Offset() int { return (p.Page - 1) * p.Size }

// TotalPages returns how many pages of p.Size hold total rows.
func (p Page) TotalPages(total int64) int {
	if p.Size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether a page follows p.
func (p Page) HasNext(total int64) bool { return p.Page < p.TotalPages(total) }
