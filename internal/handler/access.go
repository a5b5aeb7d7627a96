package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/access"
	"github.com/iliyamo/qr-access/internal/middleware"
)

// AccessHandler exposes validation and device registration.
type AccessHandler struct {
	Service *access.Service
	Log     *zap.Logger
}

// NewAccessHandler panics if svc is nil.
func NewAccessHandler(svc *access.Service, log *zap.Logger) *AccessHandler {
	if svc == nil {
		panic("nil service passed to NewAccessHandler")
	}
	return &AccessHandler{Service: svc, Log: log}
}

type registerBody struct {
	Token       string `json:"token"`
	DeviceID    string `json:"device_id"`
	NewDeviceID string `json:"new_device_id"`
	AccountID   string `json:"account_id"`
}

// Validate handles POST /v1/access/validate.  Unknown or empty tokens are
// answered with 200 and status "invalid".
func (h *AccessHandler) Validate(c echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	v, err := h.Service.Validate(c.Request().Context(), body.Token, middleware.Source(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Register handles POST /v1/access/register with {token, device_id,
// account_id?}.
func (h *AccessHandler) Register(c echo.Context) error {
	var body registerBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	v, err := h.Service.Register(c.Request().Context(), access.RegisterRequest{
		Token:     body.Token,
		DeviceID:  body.DeviceID,
		AccountID: body.AccountID,
		Source:    middleware.Source(c),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Reregister handles POST /v1/access/reregister with {token,
// new_device_id, account_id?}.
func (h *AccessHandler) Reregister(c echo.Context) error {
	var body registerBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	v, err := h.Service.Reregister(c.Request().Context(), access.RegisterRequest{
		Token:     body.Token,
		DeviceID:  body.NewDeviceID,
		AccountID: body.AccountID,
		Source:    middleware.Source(c),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Preview handles GET /v1/preview/:token.
func (h *AccessHandler) Preview(c echo.Context) error {
	p, err := h.Service.Preview(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}
