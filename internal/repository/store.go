package repository

import (
	"context"
	"time"

	"github.com/iliyamo/qr-access/internal/model"
)

// Store is the data-layer contract consumed by the access service.  Reads
// outside WithQrLocked see committed state only.
type Store interface {
	// FindQrByToken returns the QR code for token or ErrNotFound.
	FindQrByToken(ctx context.Context, token string) (model.QrCode, error)
	// ListBindings returns every binding row of a QR, oldest first.
	ListBindings(ctx context.Context, qrID string) ([]model.QrBinding, error)
	// CreateQr inserts a new QR code.  ID, Status and CreatedAt default
	// when zero.
	CreateQr(ctx context.Context, qr *model.QrCode) error

	// WithQrLocked loads the QR identified by token, serializes against
	// every other WithQrLocked call for the same token and runs fn.  All
	// writes made through tx commit when fn returns nil and are discarded
	// otherwise.  ErrNotFound is returned, without calling fn, for an
	// unknown token.
	WithQrLocked(ctx context.Context, token string, fn func(tx Tx, qr model.QrCode) error) error

	// UpsertProgress stores the playback position for a QR/device/track.
	UpsertProgress(ctx context.Context, p model.ListeningProgress) error
	// LatestProgress returns the most recently updated position for a
	// QR/device pair or ErrNotFound.
	LatestProgress(ctx context.Context, qrID, deviceID string) (model.ListeningProgress, error)
}

// Tx exposes the query shapes the state machine needs inside one atomic
// unit scoped to a single QR code.
type Tx interface {
	ActiveBinding(ctx context.Context, qrID string) (model.QrBinding, error)
	FindBinding(ctx context.Context, qrID, deviceID string) (model.QrBinding, error)
	CountBindings(ctx context.Context, qrID string) (int, error)
	CountRevokedSince(ctx context.Context, qrID string, cutoff time.Time) (int, error)
	CreateBinding(ctx context.Context, b model.QrBinding) error
	RevokeBinding(ctx context.Context, qrID, deviceID string, at time.Time) error
	SetBindingAccount(ctx context.Context, qrID, deviceID, accountID string) error
	DeleteBindings(ctx context.Context, qrID string) (int, error)

	GetDevice(ctx context.Context, deviceID string) (model.Device, error)
	CreateDevice(ctx context.Context, d model.Device) error
	SetDeviceAccount(ctx context.Context, deviceID, accountID string) error

	// UpdateQr persists Status, RegisteredAt and CooldownUntil.
	UpdateQr(ctx context.Context, qr model.QrCode) error
}
