package access

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/model"
	"github.com/iliyamo/qr-access/internal/repository"
)

// Detail is the admin view of a QR code.
type Detail struct {
	Qr         model.QrCode
	Validation Validation
	Bindings   []model.QrBinding
}

// Detail returns the QR code with its full binding history.
func (s *Service) Detail(ctx context.Context, token string) (Detail, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Detail{}, reject(KindInvalidInput, "token is required")
	}
	qr, err := s.store.FindQrByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return Detail{}, reject(KindNotFound, "token not found")
	}
	if err != nil {
		return Detail{}, err
	}
	bindings, err := s.store.ListBindings(ctx, qr.ID)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Qr: qr, Validation: buildValidation(qr, s.now()), Bindings: bindings}, nil
}

// Block disables token permanently.  Blocking a blocked token is a no-op.
func (s *Service) Block(ctx context.Context, token string, src audit.Source) (Validation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Validation{}, reject(KindInvalidInput, "token is required")
	}
	var (
		result  Validation
		already bool
	)
	err := s.store.WithQrLocked(ctx, token, func(tx repository.Tx, qr model.QrCode) error {
		now := s.now()
		if qr.Status == model.QrStatusBlocked {
			already = true
			result = buildValidation(qr, now)
			return nil
		}
		qr.Status = model.QrStatusBlocked
		if err := tx.UpdateQr(ctx, qr); err != nil {
			return err
		}
		result = buildValidation(qr, now)
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return Validation{}, reject(KindNotFound, "token not found")
	}
	if err != nil {
		return Validation{}, err
	}
	s.emit(ctx, audit.AdminBlock, src, token, "", map[string]any{"already_blocked": already})
	return result, nil
}

// Reset returns token to NEW: every binding row is removed and the
// registration timestamp and cooldown are cleared.  Blocked tokens stay
// blocked.
func (s *Service) Reset(ctx context.Context, token string, src audit.Source) (int, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, reject(KindInvalidInput, "token is required")
	}
	var removed int
	err := s.store.WithQrLocked(ctx, token, func(tx repository.Tx, qr model.QrCode) error {
		if qr.Status == model.QrStatusBlocked {
			return reject(KindBlocked, "token is blocked")
		}
		n, err := tx.DeleteBindings(ctx, qr.ID)
		if err != nil {
			return err
		}
		qr.Status = model.QrStatusNew
		qr.RegisteredAt = nil
		qr.CooldownUntil = nil
		if err := tx.UpdateQr(ctx, qr); err != nil {
			return err
		}
		removed = n
		return nil
	})
	if errors.Is(err, repository.ErrNotFound) {
		return 0, reject(KindNotFound, "token not found")
	}
	if err != nil {
		return 0, err
	}
	s.emit(ctx, audit.AdminReset, src, token, "", map[string]any{"removed_bindings": removed})
	return removed, nil
}
