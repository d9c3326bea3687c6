package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultLimit = 50
	// MaxListLimit is the largest page a list call returns.
	MaxListLimit = 500
)

// ListFilter carries paging for list endpoints.
type ListFilter struct {
	Limit  int
	Offset int
}

// Normalize clamps the filter to sane bounds.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ListFilterFromQuery reads limit/offset query parameters.
func ListFilterFromQuery(q url.Values) ListFilter {
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return ListFilter{Limit: limit, Offset: offset}.Normalize()
}
