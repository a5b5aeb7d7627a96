package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/access"
	"github.com/iliyamo/qr-access/internal/middleware"
	"github.com/iliyamo/qr-access/internal/model"
)

// AdminHandler serves the operator endpoints.  JWTAuth and
// RequireRole(ADMIN) run before every method.
type AdminHandler struct {
	Service *access.Service
	Log     *zap.Logger
}

// NewAdminHandler panics if svc is nil.
func NewAdminHandler(svc *access.Service, log *zap.Logger) *AdminHandler {
	if svc == nil {
		panic("nil service passed to NewAdminHandler")
	}
	return &AdminHandler{Service: svc, Log: log}
}

type bindingJSON struct {
	DeviceID  string     `json:"device_id"`
	AccountID *string    `json:"account_id"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at"`
}

// Detail handles GET /v1/admin/qr/:token.
func (h *AdminHandler) Detail(c echo.Context) error {
	d, err := h.Service.Detail(c.Request().Context(), c.Param("token"))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	bindings := make([]bindingJSON, 0, len(d.Bindings))
	for _, b := range d.Bindings {
		bindings = append(bindings, bindingJSON{
			DeviceID:  b.DeviceID,
			AccountID: b.AccountID,
			Active:    b.Active,
			CreatedAt: b.CreatedAt.UTC(),
			RevokedAt: b.RevokedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"id":                d.Qr.ID,
		"token":             d.Qr.Token,
		"qr_status":         d.Qr.Status,
		"max_reactivations": d.Qr.MaxReactivations,
		"registered_at":     d.Qr.RegisteredAt,
		"cooldown_until":    d.Qr.CooldownUntil,
		"validation":        d.Validation,
		"bindings":          bindings,
	})
}

// Block handles POST /v1/admin/qr/:token/block.
func (h *AdminHandler) Block(c echo.Context) error {
	v, err := h.Service.Block(c.Request().Context(), c.Param("token"), middleware.Source(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, v)
}

// Reset handles POST /v1/admin/qr/:token/reset.
func (h *AdminHandler) Reset(c echo.Context) error {
	removed, err := h.Service.Reset(c.Request().Context(), c.Param("token"), middleware.Source(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":            c.Param("token"),
		"status":           model.QrStatusNew,
		"removed_bindings": removed,
	})
}
