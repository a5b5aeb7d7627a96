package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/access"
)

var kindStatus = map[access.Kind]int{
	access.KindInvalidInput:     http.StatusBadRequest,
	access.KindNotFound:         http.StatusNotFound,
	access.KindBlocked:          http.StatusForbidden,
	access.KindCooldown:         http.StatusForbidden,
	access.KindMaxReactivations: http.StatusForbidden,
	access.KindNotBound:         http.StatusForbidden,
	access.KindDeviceConflict:   http.StatusConflict,
	access.KindNoActiveBinding:  http.StatusConflict,
}

// StatusFor maps a service error to its HTTP status.  Anything that is
// not a business rejection is a 500.
func StatusFor(err error) int {
	kind, ok := access.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": kind, "message": ...}.  Store
// failures are logged and reported without detail.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var rej *access.Error
	if !errors.As(err, &rej) {
		log.Error("request failed", zap.String("route", c.Path()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal_error", "message": "internal server error"})
	}
	body := echo.Map{"error": string(rej.Kind), "message": rej.Message}
	if rej.CooldownUntil != nil {
		body["cooldown_until"] = rej.CooldownUntil.UTC().Format(time.RFC3339)
	}
	return c.JSON(StatusFor(err), body)
}
