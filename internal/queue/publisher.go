package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/qr-access/internal/audit"
)

// ErrQueueFull is returned by Send when the buffer is full and the event
// was dropped.
var ErrQueueFull = errors.New("audit publisher buffer full")

// Publisher is an audit.Sink that forwards events to a durable RabbitMQ
// queue.  Send only buffers; Run owns the broker connection so a slow or
// absent broker never delays a request.
type Publisher struct {
	url    string
	queue  string
	events chan audit.Event
	log    *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url, queue string, buffer int, log *zap.Logger) *Publisher {
	if queue == "" {
		queue = DefaultAuditQueue
	}
	if buffer < 1 {
		buffer = 1024
	}
	return &Publisher{url: url, queue: queue, events: make(chan audit.Event, buffer), log: log}
}

// Send buffers ev for publishing.
func (p *Publisher) Send(_ context.Context, ev audit.Event) error {
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run publishes buffered events until ctx is cancelled.  Failed
// publishes are logged and the connection is re-established with backoff.
func (p *Publisher) Run(ctx context.Context) {
	defer p.close()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			for {
				err := p.publish(ctx, ev)
				if err == nil {
					backoff = time.Second
					break
				}
				p.log.Warn("audit publish failed", zap.String("event_type", ev.Type), zap.Duration("retry_in", backoff), zap.Error(err))
				p.close()
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev audit.Event) error {
	ch, err := p.channel()
	if err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    ev.At,
		Type:         ev.Type,
		Body:         body,
	}
	// default exchange, routing key = queue name
	return errors.Wrap(ch.PublishWithContext(ctx, "", p.queue, false, false, pub), "publish")
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, errors.Wrap(err, "dial broker")
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "queue declare")
	}
	p.ch = ch
	return ch, nil
}

func (p *Publisher) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
