package access

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/model"
	"github.com/iliyamo/qr-access/internal/repository"
)

// Sampler manifest defaults.
const previewDurationSeconds = 600

// Preview is the sampler manifest handed out for a token.
type Preview struct {
	Token           string `json:"token"`
	DurationSeconds int    `json:"duration_seconds"`
	URL             string `json:"url"`
}

// Playback is a signed playback URL with the device's resume position.
type Playback struct {
	URL       string
	ExpiresAt time.Time
	Resume    *model.ListeningProgress
}

// ProgressUpdate is the input of RecordProgress.
type ProgressUpdate struct {
	Token      string
	DeviceID   string
	TrackID    string
	PositionMs int64
	Source     audit.Source
}

// Preview returns the sampler manifest while previews are available.
func (s *Service) Preview(ctx context.Context, token string) (Preview, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Preview{}, reject(KindInvalidInput, "token is required")
	}
	qr, err := s.store.FindQrByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return Preview{}, reject(KindNotFound, "token not found")
	}
	if err != nil {
		return Preview{}, err
	}
	if !buildValidation(qr, s.now()).PreviewAvailable {
		return Preview{}, reject(KindBlocked, "preview is not available")
	}
	return Preview{
		Token:           qr.Token,
		DurationSeconds: previewDurationSeconds,
		URL:             "/preview/" + qr.Token + ".m3u8",
	}, nil
}

// Authorize issues a signed playback URL to the device holding the active
// binding of token.
func (s *Service) Authorize(ctx context.Context, token, deviceID string, src audit.Source) (Playback, error) {
	if s.signer == nil {
		return Playback{}, errors.New("playback signer not configured")
	}
	qr, binding, err := s.holder(ctx, token, deviceID)
	if err != nil {
		if _, ok := KindOf(err); ok {
			s.emit(ctx, audit.PlayDenied, src, strings.TrimSpace(token), strings.TrimSpace(deviceID), map[string]any{"reason": err.Error()})
		}
		return Playback{}, err
	}
	url, exp := s.signer.Sign(qr.Token, s.now())
	out := Playback{URL: url, ExpiresAt: exp}

	p, err := s.store.LatestProgress(ctx, qr.ID, binding.DeviceID)
	switch {
	case err == nil:
		out.Resume = &p
	case !errors.Is(err, repository.ErrNotFound):
		return Playback{}, err
	}
	s.emit(ctx, audit.PlayAuthorized, src, qr.Token, binding.DeviceID, nil)
	return out, nil
}

// RecordProgress stores the listening position of the bound device.
func (s *Service) RecordProgress(ctx context.Context, u ProgressUpdate) error {
	trackID := strings.TrimSpace(u.TrackID)
	if trackID == "" {
		return reject(KindInvalidInput, "track_id is required")
	}
	if u.PositionMs < 0 {
		return reject(KindInvalidInput, "position_ms must not be negative")
	}
	qr, binding, err := s.holder(ctx, u.Token, u.DeviceID)
	if err != nil {
		return err
	}
	err = s.store.UpsertProgress(ctx, model.ListeningProgress{
		QrID:       qr.ID,
		DeviceID:   binding.DeviceID,
		AccountID:  binding.AccountID,
		TrackID:    trackID,
		PositionMs: u.PositionMs,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		return err
	}
	s.emit(ctx, audit.ProgressRecorded, u.Source, qr.Token, binding.DeviceID, map[string]any{
		"track_id":    trackID,
		"position_ms": u.PositionMs,
	})
	return nil
}

// holder loads token and checks that deviceID holds its active binding.
func (s *Service) holder(ctx context.Context, token, deviceID string) (model.QrCode, model.QrBinding, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.QrCode{}, model.QrBinding{}, reject(KindInvalidInput, "token is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(deviceID))
	if err != nil {
		return model.QrCode{}, model.QrBinding{}, reject(KindInvalidInput, "device_id must be a UUID")
	}
	qr, err := s.store.FindQrByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return qr, model.QrBinding{}, reject(KindNotFound, "token not found")
	}
	if err != nil {
		return qr, model.QrBinding{}, err
	}
	if qr.Status == model.QrStatusBlocked {
		return qr, model.QrBinding{}, reject(KindBlocked, "token is blocked")
	}
	bindings, err := s.store.ListBindings(ctx, qr.ID)
	if err != nil {
		return qr, model.QrBinding{}, err
	}
	for _, b := range bindings {
		if b.Active && b.DeviceID == id.String() {
			return qr, b, nil
		}
	}
	return qr, model.QrBinding{}, reject(KindNotBound, "device does not hold this token")
}
