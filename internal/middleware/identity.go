package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// memberKey returns the authenticated member as a string for use in Redis
// keys, or "anon" before JWTAuth has run.
func memberKey(c echo.Context) string {
	switch v := c.Get("user_id").(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		if v > 0 {
			return strconv.FormatUint(uint64(v), 10)
		}
	case uint64:
		return strconv.FormatUint(v, 10)
	}
	return "anon"
}
