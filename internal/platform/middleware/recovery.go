package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Recovery converts a handler panic into a 500 with a generic detail. The
// panic value, the caller's subject and the stack go to the log only.
// http.ErrAbortHandler is re-raised so net/http can drop the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				req := c.Request()
				evt := logger.Error().
					Str("method", req.Method).
					Str("path", req.URL.Path).
					Interface("panic", r).
					Bytes("stack", debug.Stack())
				if rid, ok := c.Get("request_id").(string); ok {
					evt = evt.Str("request_id", rid)
				}
				if sub := SubjectFromContext(req.Context()); sub != "" {
					evt = evt.Str("subject", sub)
				}
				evt.Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "Internal server error").
					SetInternal(fmt.Errorf("panic: %v", r))
			}()
			return next(c)
		}
	}
}
