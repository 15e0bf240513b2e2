package pagination

import (
	"github.com/gofiber/fiber/v2"
)

const (
	// DefaultLimit is used when the request carries no usable limit
	DefaultLimit = 20
	// MaxLimit caps a single page
	MaxLimit = 100
)

// Params is a clamped page request. Offset is derived, never read from input.
type Params struct {
	Page   int `json:"page"`
	Limit  int `json:"limit"`
	Offset int `json:"-"`
}

// Meta describes where a page sits in the full listing
type Meta struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
	HasNext    bool  `json:"hasNext"`
	HasPrev    bool  `json:"hasPrev"`
}

// Response is one page of items plus its Meta
type Response struct {
	Items interface{} `json:"items"`
	Meta  *Meta       `json:"meta"`
}

// GetParams reads ?page and ?limit. Missing or malformed values fall back to
// the first page and DefaultLimit.
func GetParams(c *fiber.Ctx) *Params {
	return NewParams(c.QueryInt("page", 1), c.QueryInt("limit", DefaultLimit))
}

// NewParams clamps page and limit into valid ranges
func NewParams(page, limit int) *Params {
	if page < 1 {
		page = 1
	}
	switch {
	case limit < 1:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return &Params{Page: page, Limit: limit, Offset: (page - 1) * limit}
}

// GetMeta derives page counts from the total row count
func GetMeta(params *Params, total int64) *Meta {
	limit := int64(params.Limit)
	totalPages := int((total + limit - 1) / limit)

	return &Meta{
		Page:       params.Page,
		Limit:      params.Limit,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}

// NewResponse wraps a page of items
func NewResponse(items interface{}, params *Params, total int64) *Response {
	return &Response{Items: items, Meta: GetMeta(params, total)}
}
