// Package audit emits privacy-safe audit events.  Raw identifiers never
// leave this package: tokens, client IPs and user agents are hashed before
// an Event is built.
package audit

import "time"

// Event types emitted by the access service.
const (
	RegisterInvalid    = "access.register.invalid"
	RegisterNotFound   = "access.register.not_found"
	RegisterBlocked    = "access.register.blocked"
	RegisterCooldown   = "access.register.cooldown"
	RegisterIdempotent = "access.register.idempotent"
	RegisterConflict   = "access.register.conflict"
	RegisterSuccess    = "access.register.success"

	ReregisterInvalid        = "access.reregister.invalid"
	ReregisterNotFound       = "access.reregister.not_found"
	ReregisterBlocked        = "access.reregister.blocked"
	ReregisterCooldown       = "access.reregister.cooldown"
	ReregisterMissingBinding = "access.reregister.missing_binding"
	ReregisterIdempotent     = "access.reregister.idempotent"
	ReregisterConflict       = "access.reregister.conflict"
	ReregisterMaxReached     = "access.reregister.max_reached"
	ReregisterSuccess        = "access.reregister.success"

	Validate    = "access.validate"
	RateLimited = "access.rate_limited"

	PlayAuthorized   = "play.authorized"
	PlayDenied       = "play.denied"
	ProgressRecorded = "play.progress"

	AdminBlock = "admin.block"
	AdminReset = "admin.reset"
)

// Event is one audit record as it is logged and shipped to the queue.
type Event struct {
	Type          string         `json:"event_type"`
	At            time.Time      `json:"at"`
	TokenHash     string         `json:"token_hash,omitempty"`
	DeviceID      string         `json:"device_id,omitempty"`
	IPHash        string         `json:"ip_hash,omitempty"`
	UserAgentHash string         `json:"user_agent_hash,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Fields        map[string]any `json:"fields,omitempty"`
}

// Source describes the caller of an operation in raw form.  It is hashed
// by the Logger and never stored as is.
type Source struct {
	IP        string
	UserAgent string
	RequestID string
}
