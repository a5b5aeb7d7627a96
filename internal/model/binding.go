package model

import "time"

// QrBinding links a QR code to the device (and optionally the account)
// currently allowed to redeem it.  Rows are never deleted: a device swap
// deactivates the old row and inserts a new one, so the table doubles as
// the reactivation history.
//
// Fields:
//  QrID      – qr_codes.id of the bound token.
//  DeviceID  – device holding (or having held) the binding.
//  AccountID – optional account owning the binding.
//  Active    – at most one active row exists per QR.
//  CreatedAt – when the binding was created.
//  RevokedAt – set exactly when Active flips to false.
type QrBinding struct {
	QrID      string     // qr_bindings.qr_id
	DeviceID  string     // qr_bindings.device_id
	AccountID *string    // qr_bindings.account_id (nullable)
	Active    bool       // qr_bindings.active
	CreatedAt time.Time  // qr_bindings.created_at
	RevokedAt *time.Time // qr_bindings.revoked_at (nullable)
}
