package access

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies business rejections.  Handlers map kinds to HTTP
// status codes; anything that is not an *Error is an infrastructure
// failure.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindBlocked          Kind = "blocked"
	KindCooldown         Kind = "cooldown"
	KindDeviceConflict   Kind = "device_conflict"
	KindNoActiveBinding  Kind = "no_active_binding"
	KindMaxReactivations Kind = "max_reactivations_reached"
	KindNotBound         Kind = "not_bound"
)

// Error is a rejected operation.  Nothing was written when it is returned.
type Error struct {
	Kind          Kind
	Message       string
	CooldownUntil *time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func reject(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of err when it is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
