package helpers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Page struct {
	Items  any   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// Pagination reads limit and offset from the query string. Limits above
// MaxLimit are clamped.
func Pagination(c *fiber.Ctx) (limit, offset int, ok bool) {
	limit, offset = DefaultLimit, 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, false
		}
		limit = n
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func JSONPage(c *fiber.Ctx, message string, items any, total int64, limit, offset int) error {
	return JSONSuccess(c, message, Page{Items: items, Total: total, Limit: limit, Offset: offset})
}

// ParamUint parses a positive integer route parameter.
func ParamUint(c *fiber.Ctx, name string) (uint, bool) {
	n, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}
