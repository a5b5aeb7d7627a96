package audit

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Sink receives audit events.  Implementations must be safe for concurrent
// use; returned errors are logged and otherwise ignored.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// ZapSink writes events as structured log lines.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Send(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_type", ev.Type),
		zap.Time("at", ev.At),
	}
	for _, f := range []struct{ k, v string }{
		{"token_hash", ev.TokenHash},
		{"device_id", ev.DeviceID},
		{"ip_hash", ev.IPHash},
		{"user_agent_hash", ev.UserAgentHash},
		{"request_id", ev.RequestID},
	} {
		if f.v != "" {
			fields = append(fields, zap.String(f.k, f.v))
		}
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.Any(k, ev.Fields[k]))
	}
	s.logger.Info("audit", fields...)
	return nil
}

// MultiSink fans an event out to several sinks and keeps going when one
// of them fails.  The first error is returned.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Send(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
