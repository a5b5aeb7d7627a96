package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/access"
	"github.com/iliyamo/qr-access/internal/middleware"
)

// PlayHandler issues playback URLs and records listening progress.
type PlayHandler struct {
	Service *access.Service
	Log     *zap.Logger
}

// NewPlayHandler panics if svc is nil.
func NewPlayHandler(svc *access.Service, log *zap.Logger) *PlayHandler {
	if svc == nil {
		panic("nil service passed to NewPlayHandler")
	}
	return &PlayHandler{Service: svc, Log: log}
}

type resumeJSON struct {
	TrackID    string    `json:"track_id"`
	PositionMs int64     `json:"position_ms"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Auth handles POST /v1/play/auth with {token, device_id}.  Only the
// device holding the active binding gets a signed URL.
func (h *PlayHandler) Auth(c echo.Context) error {
	var body struct {
		Token    string `json:"token"`
		DeviceID string `json:"device_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	pb, err := h.Service.Authorize(c.Request().Context(), body.Token, body.DeviceID, middleware.Source(c))
	if err != nil {
		return writeError(c, h.Log, err)
	}
	resp := echo.Map{
		"url":        pb.URL,
		"expires_at": pb.ExpiresAt.UTC(),
		"resume":     nil,
	}
	if pb.Resume != nil {
		resp["resume"] = resumeJSON{
			TrackID:    pb.Resume.TrackID,
			PositionMs: pb.Resume.PositionMs,
			UpdatedAt:  pb.Resume.UpdatedAt.UTC(),
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Progress handles POST /v1/play/progress with {token, device_id,
// track_id, position_ms} and answers 204.
func (h *PlayHandler) Progress(c echo.Context) error {
	var body struct {
		Token      string `json:"token"`
		DeviceID   string `json:"device_id"`
		TrackID    string `json:"track_id"`
		PositionMs int64  `json:"position_ms"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	err := h.Service.RecordProgress(c.Request().Context(), access.ProgressUpdate{
		Token:      body.Token,
		DeviceID:   body.DeviceID,
		TrackID:    body.TrackID,
		PositionMs: body.PositionMs,
		Source:     middleware.Source(c),
	})
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
