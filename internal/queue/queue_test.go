package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/audit"
)

func sampleEvent() audit.Event {
	return audit.Event{
		Type:      audit.ReregisterSuccess,
		At:        time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		TokenHash: "abc123",
		DeviceID:  "dev-1",
		Fields:    map[string]any{"total_bindings": 3, "recent_reactivations": 2},
	}
}

func TestFormatLine(t *testing.T) {
	assert.Equal(t,
		"[2025-05-01T08:00:00Z] access.reregister.success | token_hash=abc123 | device_id=dev-1 | recent_reactivations=2 | total_bindings=3\n",
		FormatLine(sampleEvent()))
}

func TestConsumerHandleAppends(t *testing.T) {
	a := assert.New(t)
	dir := filepath.Join(t.TempDir(), "logs")
	c := NewConsumer("amqp://unused", "", dir, zap.NewNop())

	body, err := json.Marshal(sampleEvent())
	require.NoError(t, err)
	require.NoError(t, c.Handle(body))
	require.NoError(t, c.Handle(body))

	raw, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	a.Len(lines, 2)
	a.Contains(lines[0], "access.reregister.success")

	a.Error(c.Handle([]byte("{not json")))
	a.Error(c.Handle([]byte(`{"device_id":"x"}`)))
}

func TestPublisherSendDropsWhenFull(t *testing.T) {
	p := NewPublisher("amqp://unused", "", 2, zap.NewNop())
	ctx := context.Background()

	assert.NoError(t, p.Send(ctx, sampleEvent()))
	assert.NoError(t, p.Send(ctx, sampleEvent()))
	assert.ErrorIs(t, p.Send(ctx, sampleEvent()), ErrQueueFull)
}

func TestPublisherRunStopsOnCancel(t *testing.T) {
	p := NewPublisher("amqp://127.0.0.1:1/", "", 4, zap.NewNop())
	require.NoError(t, p.Send(context.Background(), sampleEvent()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
}
