package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Logger hashes identifiers and hands events to a Sink.
type Logger struct {
	hasher *Hasher
	sink   Sink
	log    *zap.Logger
	now    func() time.Time
}

// NewLogger returns an audit logger.  log receives sink failures.
func NewLogger(hasher *Hasher, sink Sink, log *zap.Logger) *Logger {
	return &Logger{hasher: hasher, sink: sink, log: log, now: time.Now}
}

// Hasher exposes the identifier hasher, e.g. for user agent hashes stored
// on devices.
func (l *Logger) Hasher() *Hasher { return l.hasher }

// Emit records one event.  It never fails: sink errors are logged.
func (l *Logger) Emit(ctx context.Context, eventType string, src Source, token, deviceID string, fields map[string]any) {
	if l == nil {
		return
	}
	ev := Event{
		Type:          eventType,
		At:            l.now().UTC(),
		TokenHash:     l.hasher.Hash(token),
		DeviceID:      deviceID,
		IPHash:        l.hasher.Hash(src.IP),
		UserAgentHash: l.hasher.Hash(src.UserAgent),
		RequestID:     src.RequestID,
		Fields:        fields,
	}
	if err := l.sink.Send(ctx, ev); err != nil {
		l.log.Warn("audit sink failed", zap.String("event_type", eventType), zap.Error(err))
	}
}
