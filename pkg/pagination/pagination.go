package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// FromContext extracts limit/offset query parameters from the echo context,
// falling back to DefaultLimit and offset 0.
func FromContext(c echo.Context) Params {
	return WithDefault(c, DefaultLimit)
}

// WithDefault is FromContext with a caller supplied default limit.
func WithDefault(c echo.Context, defaultLimit int) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Meta is the pagination block of a list envelope. Count is the number of
// items in the current page.
type Meta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// Response wraps a paginated API response.
type Response struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data"`
	Pagination Meta        `json:"pagination"`
}

func NewResponse(data interface{}, count int, p Params) *Response {
	return &Response{
		Success:    true,
		Data:       data,
		Pagination: Meta{Limit: p.Limit, Offset: p.Offset, Count: count},
	}
}

// DataResponse is the envelope for single-object responses.
type DataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func Data(data interface{}) *DataResponse {
	return &DataResponse{Success: true, Data: data}
}
