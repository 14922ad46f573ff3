package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Health is the liveness probe used by load balancers.  It returns a plain
// "ok" as long as the process serves HTTP.
func Health(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// PingFunc is a cheap connectivity check such as (*sql.DB).PingContext.
type PingFunc func(ctx context.Context) error

// Ready reports whether every dependency answers within two seconds.
func Ready(deps map[string]PingFunc) echo.HandlerFunc {
    return func(c echo.Context) error {
        ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
        defer cancel()

        out := make(map[string]string, len(deps))
        code := http.StatusOK
        for name, ping := range deps {
            if err := ping(ctx); err != nil {
                out[name] = err.Error()
                code = http.StatusServiceUnavailable
                continue
            }
            out[name] = "ok"
        }
        return c.JSON(code, out)
    }
}
