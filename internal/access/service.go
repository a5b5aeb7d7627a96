// Package access implements the QR access state machine: validation,
// device registration and re-registration with abuse controls, plus the
// admin and playback operations built on the same bindings.
package access

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/audit"
	"github.com/iliyamo/qr-access/internal/config"
	"github.com/iliyamo/qr-access/internal/media"
	"github.com/iliyamo/qr-access/internal/model"
	"github.com/iliyamo/qr-access/internal/repository"
)

// Service owns every mutation of QR codes, bindings and devices.
type Service struct {
	store  repository.Store
	audit  *audit.Logger
	policy config.AccessPolicy
	signer *media.Signer
	log    *zap.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSigner enables playback authorization.
func WithSigner(signer *media.Signer) Option {
	return func(s *Service) { s.signer = signer }
}

func NewService(store repository.Store, auditLogger *audit.Logger, policy config.AccessPolicy, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		audit:  auditLogger,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterRequest is the input of Register and Reregister.  DeviceID is
// the new device for Reregister.  An empty AccountID means none supplied.
type RegisterRequest struct {
	Token     string
	DeviceID  string
	AccountID string
	Source    audit.Source
}

// Validate reports the access status of token.  Unknown and empty tokens
// are reported as invalid rather than rejected.
func (s *Service) Validate(ctx context.Context, token string, src audit.Source) (Validation, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return invalidValidation(token), nil
	}
	qr, err := s.store.FindQrByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		s.emit(ctx, audit.Validate, src, token, "", map[string]any{"status": StatusInvalid})
		return invalidValidation(token), nil
	}
	if err != nil {
		return Validation{}, err
	}
	v := buildValidation(qr, s.now())
	s.emit(ctx, audit.Validate, src, token, "", map[string]any{"status": v.Status})
	return v, nil
}

// Register binds token to a device.  Calling it again from the bound
// device is a no-op apart from an account update.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Validation, error) {
	in, rej := normalize(req)
	if rej != nil {
		s.emit(ctx, audit.RegisterInvalid, req.Source, in.Token, in.DeviceID, nil)
		return Validation{}, rej
	}

	var (
		result Validation
		event  string
		fields map[string]any
		locked bool
	)
	err := s.store.WithQrLocked(ctx, in.Token, func(tx repository.Tx, qr model.QrCode) error {
		locked = true
		now := s.now()
		if rej := s.gate(qr, now); rej != nil {
			event, fields = gateEvent(rej, audit.RegisterBlocked, audit.RegisterCooldown)
			return rej
		}

		active, err := tx.ActiveBinding(ctx, qr.ID)
		switch {
		case err == nil:
			if active.DeviceID != in.DeviceID {
				event, fields = audit.RegisterConflict, map[string]any{"conflict_device": active.DeviceID}
				return reject(KindDeviceConflict, "token is already registered to another device")
			}
			if err := s.syncAccount(ctx, tx, active, in.AccountID); err != nil {
				return err
			}
			event = audit.RegisterIdempotent
			result = buildValidation(qr, now)
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if err := s.ensureDevice(ctx, tx, in.DeviceID, in.AccountID, req.Source.UserAgent, now); err != nil {
			return err
		}
		if err := createBinding(ctx, tx, qr.ID, in.DeviceID, optional(in.AccountID), now); err != nil {
			if _, ok := KindOf(err); ok {
				event = audit.RegisterConflict
			}
			return err
		}
		qr.Status = model.QrStatusActive
		qr.RegisteredAt = &now
		if err := tx.UpdateQr(ctx, qr); err != nil {
			return err
		}
		event = audit.RegisterSuccess
		result = buildValidation(qr, now)
		return nil
	})
	return s.finish(ctx, req.Source, in, locked, audit.RegisterNotFound, event, fields, result, err)
}

// Reregister moves the active binding of token to a new device.  Frequent
// moves put the token on cooldown.
func (s *Service) Reregister(ctx context.Context, req RegisterRequest) (Validation, error) {
	in, rej := normalize(req)
	if rej != nil {
		s.emit(ctx, audit.ReregisterInvalid, req.Source, in.Token, in.DeviceID, nil)
		return Validation{}, rej
	}

	var (
		result Validation
		event  string
		fields map[string]any
		locked bool
	)
	err := s.store.WithQrLocked(ctx, in.Token, func(tx repository.Tx, qr model.QrCode) error {
		locked = true
		now := s.now()
		if rej := s.gate(qr, now); rej != nil {
			event, fields = gateEvent(rej, audit.ReregisterBlocked, audit.ReregisterCooldown)
			return rej
		}

		active, err := tx.ActiveBinding(ctx, qr.ID)
		if errors.Is(err, repository.ErrNotFound) {
			event = audit.ReregisterMissingBinding
			return reject(KindNoActiveBinding, "no active registration to move")
		}
		if err != nil {
			return err
		}

		if active.DeviceID == in.DeviceID {
			if err := s.syncAccount(ctx, tx, active, in.AccountID); err != nil {
				return err
			}
			event = audit.ReregisterIdempotent
			result = buildValidation(qr, now)
			return nil
		}

		// A device keeps one binding row per code for its lifetime.
		if _, err := tx.FindBinding(ctx, qr.ID, in.DeviceID); err == nil {
			event = audit.ReregisterConflict
			return reject(KindDeviceConflict, "device was already registered to this token before")
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		total, err := tx.CountBindings(ctx, qr.ID)
		if err != nil {
			return err
		}
		if total-1 >= qr.MaxReactivations {
			event, fields = audit.ReregisterMaxReached, map[string]any{"total_bindings": total}
			return reject(KindMaxReactivations, "maximum reactivations reached")
		}

		if err := tx.RevokeBinding(ctx, qr.ID, active.DeviceID, now); err != nil {
			return err
		}
		if err := s.ensureDevice(ctx, tx, in.DeviceID, in.AccountID, req.Source.UserAgent, now); err != nil {
			return err
		}
		account := optional(in.AccountID)
		if account == nil {
			account = active.AccountID
		}
		if err := createBinding(ctx, tx, qr.ID, in.DeviceID, account, now); err != nil {
			if _, ok := KindOf(err); ok {
				event = audit.ReregisterConflict
			}
			return err
		}
		if account != nil && in.AccountID == "" {
			if err := tx.SetDeviceAccount(ctx, in.DeviceID, *account); err != nil {
				return err
			}
		}

		qr.Status = model.QrStatusActive
		qr.RegisteredAt = &now
		recent, err := tx.CountRevokedSince(ctx, qr.ID, now.Add(-s.policy.CooldownWindow))
		if err != nil {
			return err
		}
		fields = map[string]any{
			"total_bindings":       total + 1,
			"recent_reactivations": recent,
			"previous_device_id":   active.DeviceID,
		}
		if recent > s.policy.CooldownThreshold {
			until := now.Add(s.policy.CooldownDuration)
			qr.CooldownUntil = &until
			fields["cooldown_until"] = until.UTC().Format(time.RFC3339)
		}
		if err := tx.UpdateQr(ctx, qr); err != nil {
			return err
		}
		event = audit.ReregisterSuccess
		result = buildValidation(qr, now)
		return nil
	})
	return s.finish(ctx, req.Source, in, locked, audit.ReregisterNotFound, event, fields, result, err)
}

// gate applies the checks shared by every registration path.
func (s *Service) gate(qr model.QrCode, now time.Time) *Error {
	if qr.Status == model.QrStatusBlocked {
		return reject(KindBlocked, "token is blocked")
	}
	if qr.CooldownActive(now) {
		until := qr.CooldownUntil.UTC()
		return &Error{Kind: KindCooldown, Message: "token is temporarily on cooldown", CooldownUntil: &until}
	}
	return nil
}

func gateEvent(rej *Error, blocked, cooldown string) (string, map[string]any) {
	if rej.Kind == KindBlocked {
		return blocked, nil
	}
	return cooldown, map[string]any{"cooldown_until": rej.CooldownUntil.Format(time.RFC3339)}
}

// finish translates the outcome of a locked unit and emits its event.
// locked is false when the token itself could not be loaded.
func (s *Service) finish(ctx context.Context, src audit.Source, in RegisterRequest, locked bool, notFound, event string, fields map[string]any, result Validation, err error) (Validation, error) {
	if !locked && errors.Is(err, repository.ErrNotFound) {
		s.emit(ctx, notFound, src, in.Token, in.DeviceID, nil)
		return Validation{}, reject(KindNotFound, "token not found")
	}
	if err != nil {
		if _, ok := KindOf(err); !ok {
			s.log.Error("access unit failed", zap.String("event", event), zap.Error(err))
			return Validation{}, err
		}
	}
	s.emit(ctx, event, src, in.Token, in.DeviceID, fields)
	if err != nil {
		return Validation{}, err
	}
	return result, nil
}

// syncAccount overwrites the binding account when a different one is
// supplied.
func (s *Service) syncAccount(ctx context.Context, tx repository.Tx, b model.QrBinding, accountID string) error {
	if accountID == "" || (b.AccountID != nil && *b.AccountID == accountID) {
		return nil
	}
	return tx.SetBindingAccount(ctx, b.QrID, b.DeviceID, accountID)
}

// ensureDevice upserts the device: it is created on first sight and the
// account is attached when one is supplied.
func (s *Service) ensureDevice(ctx context.Context, tx repository.Tx, deviceID, accountID, userAgent string, now time.Time) error {
	d, err := tx.GetDevice(ctx, deviceID)
	if errors.Is(err, repository.ErrNotFound) {
		if userAgent == "" {
			userAgent = "unknown"
		}
		err = tx.CreateDevice(ctx, model.Device{
			ID:        deviceID,
			AccountID: optional(accountID),
			UAHash:    s.audit.Hasher().Hash(userAgent),
			CreatedAt: now,
		})
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
		// Registered concurrently through another token.  The row may be
		// outside this transaction's snapshot; it exists either way.
		d, err = tx.GetDevice(ctx, deviceID)
		if errors.Is(err, repository.ErrNotFound) {
			d, err = model.Device{ID: deviceID}, nil
		}
	}
	if err != nil {
		return err
	}
	if accountID != "" && (d.AccountID == nil || *d.AccountID != accountID) {
		return tx.SetDeviceAccount(ctx, deviceID, accountID)
	}
	return nil
}

func createBinding(ctx context.Context, tx repository.Tx, qrID, deviceID string, account *string, now time.Time) error {
	err := tx.CreateBinding(ctx, model.QrBinding{
		QrID:      qrID,
		DeviceID:  deviceID,
		AccountID: account,
		Active:    true,
		CreatedAt: now,
	})
	if errors.Is(err, repository.ErrConflict) {
		return reject(KindDeviceConflict, "device was already registered to this token before")
	}
	return err
}

func (s *Service) emit(ctx context.Context, event string, src audit.Source, token, deviceID string, fields map[string]any) {
	s.audit.Emit(ctx, event, src, token, deviceID, fields)
}

// normalize trims the request and checks identifiers.  Device and account
// ids are UUIDs; they are returned in canonical form.
func normalize(req RegisterRequest) (RegisterRequest, *Error) {
	out := RegisterRequest{
		Token:     strings.TrimSpace(req.Token),
		DeviceID:  strings.TrimSpace(req.DeviceID),
		AccountID: strings.TrimSpace(req.AccountID),
		Source:    req.Source,
	}
	if out.Token == "" {
		return out, reject(KindInvalidInput, "token is required")
	}
	id, err := uuid.Parse(out.DeviceID)
	if err != nil {
		return out, reject(KindInvalidInput, "device_id must be a UUID")
	}
	out.DeviceID = id.String()
	if out.AccountID != "" {
		acc, err := uuid.Parse(out.AccountID)
		if err != nil {
			return out, reject(KindInvalidInput, "account_id must be a UUID")
		}
		out.AccountID = acc.String()
	}
	return out, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
