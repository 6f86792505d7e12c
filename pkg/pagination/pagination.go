// Package pagination reads the page and per_page query parameters shared by
// the list and search endpoints.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params is a 1-based page request.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// FromRequest reads page and per_page from the query string. A page below 1
// or a per_page outside 1..MaxPerPage falls back to the default rather than
// failing the request.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	return Params{
		Page:    intInRange(q.Get("page"), 1, 0, 1),
		PerPage: intInRange(q.Get("per_page"), 1, MaxPerPage, DefaultPerPage),
	}
}

// intInRange parses raw and returns def unless the value is within
// [lo, hi]. hi <= 0 means unbounded.
func intInRange(raw string, lo, hi, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < lo || (hi > 0 && v > hi) {
		return def
	}
	return v
}

// Offset is the number of items before the first item of the page.
func (p Params) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PerPage
}

// TotalPages is the number of pages needed for total items, 0 if perPage is
// not positive.
func TotalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
