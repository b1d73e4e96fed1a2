package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// userIDKey is the echo context key BearerAuth stores the verified user id
// under.
const userIDKey = "user_id"

// UserID returns the verified user id set by BearerAuth. ok is false on
// routes that are not behind BearerAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(userIDKey).(uint64)
	return id, ok && id != 0
}

// SetUserID is used by BearerAuth and by tests that bypass it.
func SetUserID(c echo.Context, id uint64) {
	c.Set(userIDKey, id)
}

// userKey is the identity part of rate limit and cache keys.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
