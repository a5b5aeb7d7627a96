package access

import (
	"time"

	"github.com/iliyamo/qr-access/internal/model"
)

// Public statuses reported to clients.
const (
	StatusNew        = "new"
	StatusRegistered = "registered"
	StatusInvalid    = "invalid"
	StatusBlocked    = "blocked"
)

// ProductRef is the catalog entry attached to a QR code.
type ProductRef struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Validation is returned by Validate and by successful registrations.
type Validation struct {
	Status           string      `json:"status"`
	CanReregister    bool        `json:"can_reregister"`
	PreviewAvailable bool        `json:"preview_available"`
	CooldownUntil    *time.Time  `json:"cooldown_until"`
	Product          *ProductRef `json:"product"`
	Token            string      `json:"token"`
}

func invalidValidation(token string) Validation {
	return Validation{Status: StatusInvalid, Token: token}
}

func buildValidation(qr model.QrCode, now time.Time) Validation {
	v := Validation{Token: qr.Token}
	switch qr.Status {
	case model.QrStatusBlocked:
		v.Status = StatusBlocked
	case model.QrStatusNew:
		v.Status = StatusNew
	default:
		v.Status = StatusRegistered
	}
	cooldown := qr.CooldownActive(now)
	v.CanReregister = (v.Status == StatusNew || v.Status == StatusRegistered) && !cooldown
	v.PreviewAvailable = v.Status != StatusBlocked
	if qr.CooldownUntil != nil {
		until := qr.CooldownUntil.UTC()
		v.CooldownUntil = &until
	}
	if qr.ProductID != nil {
		p := &ProductRef{ID: *qr.ProductID}
		if qr.ProductTitle != nil {
			p.Title = *qr.ProductTitle
		}
		v.Product = p
	}
	return v
}
