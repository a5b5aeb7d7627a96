package middleware

// identity.go holds helpers that describe the caller of a request: the
// audit source handed to the access service and the admin subject set by
// JWTAuth.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/qr-access/internal/audit"
)

// Source returns the raw caller description of c.  The request id comes
// from X-Request-ID, set by the client or by the RequestID middleware.
func Source(c echo.Context) audit.Source {
	req := c.Request()
	rid := req.Header.Get(echo.HeaderXRequestID)
	if rid == "" {
		rid = c.Response().Header().Get(echo.HeaderXRequestID)
	}
	return audit.Source{
		IP:        clientIP(c),
		UserAgent: req.UserAgent(),
		RequestID: rid,
	}
}

// userID returns the admin subject or "guest" when no token was checked.
func userID(c echo.Context) string {
	if claims := Claims(c); claims != nil && claims.Subject != "" {
		return claims.Subject
	}
	return "guest"
}

func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}
