package middleware

// identity.go holds the helpers that read the caller's identity back out of
// the Echo context after JWTAuth ran.

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// RoleAdmin is the role claim that unlocks administrative routes.
const RoleAdmin = "ADMIN"

// subject accepts the sub claim either as a decimal string or as a JSON
// number.
func subject(v interface{}) (uint64, bool) {
    switch t := v.(type) {
    case string:
        n, err := strconv.ParseUint(t, 10, 64)
        return n, err == nil && n > 0
    case float64:
        if t <= 0 || t != float64(uint64(t)) {
            return 0, false
        }
        return uint64(t), true
    }
    return 0, false
}

// UserID returns the authenticated user id, if any.
func UserID(c echo.Context) (uint64, bool) {
    id, ok := c.Get(ctxUserID).(uint64)
    return id, ok && id > 0
}

// ClientKey is the waiting-room identity of the caller: the user id in
// decimal, or "" for anonymous requests.
func ClientKey(c echo.Context) string {
    if id, ok := UserID(c); ok {
        return strconv.FormatUint(id, 10)
    }
    return ""
}

func IsAdmin(c echo.Context) bool {
    role, _ := c.Get(ctxRole).(string)
    return role == RoleAdmin
}

// userKey is used for rate limiting; anonymous callers share one bucket.
func userKey(c echo.Context) string {
    if k := ClientKey(c); k != "" {
        return k
    }
    return "anon"
}
