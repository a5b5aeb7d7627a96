// Package queue ships audit events over RabbitMQ and consumes them into a
// log file.
package queue

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/qr-access/internal/audit"
)

// DefaultAuditQueue is the durable queue audit events are published to.
const DefaultAuditQueue = "audit_events"

// FormatLine renders an event as a single human-friendly log line.
func FormatLine(ev audit.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ev.At.UTC().Format(time.RFC3339), ev.Type)
	for _, kv := range [][2]string{
		{"token_hash", ev.TokenHash},
		{"device_id", ev.DeviceID},
		{"ip_hash", ev.IPHash},
		{"user_agent_hash", ev.UserAgentHash},
		{"request_id", ev.RequestID},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " | %s=%s", kv[0], kv[1])
		}
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " | %s=%v", k, ev.Fields[k])
	}
	b.WriteByte('\n')
	return b.String()
}
