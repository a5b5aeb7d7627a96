package model

import "time"

// QrStatus is the lifecycle state of a physical QR token.
type QrStatus string

const (
	QrStatusNew     QrStatus = "new"     // never registered
	QrStatusActive  QrStatus = "active"  // has (or had) a binding
	QrStatusBlocked QrStatus = "blocked" // permanently disabled by an admin
)

// DefaultMaxReactivations is used when a QR code is created without an
// explicit ceiling.
const DefaultMaxReactivations = 999

// QrCode represents a row of the `qr_codes` table.  It is the aggregate
// root for everything bound to a printed token.
//
// Fields:
//  ID               – opaque primary key (uuid string).
//  Token            – unique value printed on the code.
//  Status           – new, active or blocked.
//  ProductID        – optional catalog product reference.
//  ProductTitle     – title of the referenced product, loaded by join.
//  MaxReactivations – ceiling on total bindings ever created.
//  RegisteredAt     – set on the latest successful registration.
//  CooldownUntil    – registration is rejected while in the future.
//  CreatedAt        – creation timestamp.
type QrCode struct {
	ID               string     // qr_codes.id
	Token            string     // qr_codes.token
	Status           QrStatus   // qr_codes.status
	ProductID        *int64     // qr_codes.product_id (nullable)
	ProductTitle     *string    // products.title (nullable)
	MaxReactivations int        // qr_codes.max_reactivations
	RegisteredAt     *time.Time // qr_codes.registered_at (nullable)
	CooldownUntil    *time.Time // qr_codes.cooldown_until (nullable)
	CreatedAt        time.Time  // qr_codes.created_at
}

// CooldownActive reports whether the cooldown window is still open at now.
func (q QrCode) CooldownActive(now time.Time) bool {
	return q.CooldownUntil != nil && q.CooldownUntil.After(now)
}

// Product is the minimal catalog projection surfaced with a QR code.
type Product struct {
	ID    int64  // products.id
	Title string // products.title
}

// NewQrCode returns an unregistered QR code for token with the default
// reactivation ceiling.
func NewQrCode(token string) QrCode {
	return QrCode{
		Token:            token,
		Status:           QrStatusNew,
		MaxReactivations: DefaultMaxReactivations,
	}
}
