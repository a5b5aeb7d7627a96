package model

import "time"

// ListeningProgress stores the playback position of one track for a
// QR/device pair.
type ListeningProgress struct {
	QrID       string    // listening_progress.qr_id
	DeviceID   string    // listening_progress.device_id
	AccountID  *string   // listening_progress.account_id (nullable)
	TrackID    string    // listening_progress.track_id
	PositionMs int64     // listening_progress.position_ms
	UpdatedAt  time.Time // listening_progress.updated_at
}
