package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/patient-recovery/internal/alert"
	"github.com/iliyamo/patient-recovery/internal/logging"
)

// DefaultReconnectCooldown is how long the publisher skips the broker after
// a failed connect.
const DefaultReconnectCooldown = 15 * time.Second

var (
	errBrokerConnecting = errors.New("broker connect in progress")
	errBrokerCooldown   = errors.New("broker unavailable; waiting before reconnect")
)

// Publisher implements alert.Sink by publishing one persistent message per
// delivery to a durable queue.  When the broker cannot be reached the
// delivery is handed to Fallback instead, so an outage degrades to inline
// sending rather than losing the alert.
//
// Connecting happens in the background.  Only the delivery that starts a
// connect waits for it, bounded by its context; concurrent deliveries and
// those within the cooldown after a failure go straight to the fallback.
type Publisher struct {
	url      string
	queue    string
	fallback alert.Sink
	logger   *logrus.Entry
	dial     func(url string) (*amqp.Connection, error)
	cooldown time.Duration
	now      func() time.Time

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	dialing chan struct{} // closed when the in-flight connect finishes
	lastErr error
	retryAt time.Time
	closed  bool
}

// NewPublisher builds a publisher whose broker dial gives up after
// dialTimeout (zero keeps the amqp default).
func NewPublisher(url, queue string, dialTimeout time.Duration, fallback alert.Sink, logger *logrus.Entry) *Publisher {
	if logger == nil {
		logger = logging.Component("alert-publisher")
	}
	dial := amqp.Dial
	if dialTimeout > 0 {
		dial = func(url string) (*amqp.Connection, error) {
			return amqp.DialConfig(url, amqp.Config{
				Heartbeat: 10 * time.Second,
				Locale:    "en_US",
				Dial:      amqp.DefaultDial(dialTimeout),
			})
		}
	}
	return &Publisher{
		url:      url,
		queue:    queue,
		fallback: fallback,
		logger:   logger,
		dial:     dial,
		cooldown: DefaultReconnectCooldown,
		now:      time.Now,
	}
}

// Deliver publishes d, falling back to inline delivery on any broker error.
func (p *Publisher) Deliver(ctx context.Context, d alert.Delivery) error {
	ev := NewVitalAlertEvent(d, time.Now())
	err := p.publish(ctx, ev)
	if err == nil {
		p.logger.WithFields(logging.Fields{"event_id": ev.ID, "user_id": ev.UserID}).Debug("alert queued")
		return nil
	}
	p.logger.WithFields(logging.Fields{"event_id": ev.ID, "user_id": ev.UserID}).
		WithError(err).Warn("alert publish failed; delivering inline")
	if p.fallback == nil {
		return err
	}
	return p.fallback.Deliver(ctx, d)
}

func (p *Publisher) publish(ctx context.Context, ev VitalAlertEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Timestamp:    ev.RaisedAt,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		if p.ch == ch {
			p.resetLocked()
		}
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// channel returns the cached channel or starts a background connect.  The
// caller waits for a connect it started until ctx is done.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("publisher closed")
	}
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.dialing != nil {
		p.mu.Unlock()
		return nil, errBrokerConnecting
	}
	if p.now().Before(p.retryAt) {
		err := p.lastErr
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", errBrokerCooldown, err)
	}
	p.resetLocked()
	done := make(chan struct{})
	p.dialing = done
	p.mu.Unlock()

	go p.connect(done)

	select {
	case <-done:
	case <-ctx.Done():
		return nil, fmt.Errorf("dial broker: %w", ctx.Err())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil, p.lastErr
	}
	return p.ch, nil
}

// connect dials the broker and declares the queue, then publishes the
// result under p.mu and releases any waiter.
func (p *Publisher) connect(done chan struct{}) {
	conn, ch, err := p.open()

	p.mu.Lock()
	defer p.mu.Unlock()
	defer close(done)
	p.dialing = nil

	if err != nil {
		p.lastErr = err
		p.retryAt = p.now().Add(p.cooldown)
		p.logger.WithError(err).WithField("retry_in", p.cooldown.String()).Warn("broker connect failed")
		return
	}
	if p.closed {
		_ = ch.Close()
		_ = conn.Close()
		return
	}
	p.conn, p.ch, p.lastErr, p.retryAt = conn, ch, nil, time.Time{}
}

func (p *Publisher) open() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := p.dial(p.url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}
	return conn, ch, nil
}

func (p *Publisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.  A connect still in flight is
// discarded when it completes.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.resetLocked()
	return nil
}
