package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const DefaultQueue = "court.notifications"

// Message is the JSON body published for each notification.
type Message struct {
	ID          uuid.UUID `json:"id"`
	RecipientID int64     `json:"recipient_id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// publisher is the part of *amqp.Channel the notifier uses.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes notifications to a durable RabbitMQ queue. The connection is
// dialed on first use and re-dialed after a failed publish.
type AMQP struct {
	url   string
	queue string
	log   *zap.Logger
	now   func() time.Time

	mu   sync.Mutex
	conn *amqp.Connection
	ch   publisher
	dial func() (publisher, error)
}

func NewAMQP(url, queue string, log *zap.Logger) *AMQP {
	if queue == "" {
		queue = DefaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	a := &AMQP{url: url, queue: queue, log: log, now: time.Now}
	a.dial = a.dialBroker
	return a
}

func (a *AMQP) Deliver(ctx context.Context, recipientID int64, text string) {
	msg := Message{ID: uuid.New(), RecipientID: recipientID, Text: text, CreatedAt: a.now().UTC()}
	if err := a.publish(ctx, msg); err != nil {
		a.log.Warn("rabbitmq publish failed", zap.Int64("recipient_id", recipientID), zap.String("queue", a.queue), zap.Error(err))
	}
}

func (a *AMQP) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ch == nil {
		ch, err := a.dial()
		if err != nil {
			return err
		}
		a.ch = ch
	}

	err = a.ch.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Timestamp:    msg.CreatedAt,
		Body:         body,
	})
	if err != nil {
		a.resetLocked()
		return err
	}
	return nil
}

func (a *AMQP) dialBroker() (publisher, error) {
	conn, err := amqp.Dial(a.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq declare %s: %w", a.queue, err)
	}
	a.conn = conn
	return ch, nil
}

func (a *AMQP) resetLocked() {
	if a.ch != nil {
		_ = a.ch.Close()
		a.ch = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	return nil
}
