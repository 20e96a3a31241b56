// internal/app/system/notify/notifier.go

// Package notify delivers one-way membership notifications over AMQP. The
// queue is declared durable and messages persistent, so a consumer outage
// delays delivery instead of losing it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Message is the payload published for each notification.
type Message struct {
	UserID    string            `json:"user_id"`
	EventKind string            `json:"event_kind"`
	Details   map[string]string `json:"details,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

// Publisher publishes notifications to a durable AMQP queue. A nil
// Publisher is a no-op, so the engine runs without a broker configured.
type Publisher struct {
	url   string
	queue string
	log   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher connects to the broker and declares the queue. Connection
// failure is returned to the caller; the caller decides whether to run
// without notifications.
func NewPublisher(url, queue string, log *zap.Logger) (*Publisher, error) {
	p := &Publisher{url: url, queue: queue, log: log}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue %q: %w", p.queue, err)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Notify publishes one message, redialing once if the channel has gone
// stale since the last publish.
func (p *Publisher) Notify(ctx context.Context, userID primitive.ObjectID, eventKind string, details map[string]string) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(Message{
		UserID:    userID.Hex(),
		EventKind: eventKind,
		Details:   details,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.publish(ctx, body); err != nil {
		p.log.Warn("notify publish failed, redialing", zap.Error(err))
		p.closeLocked()
		if err := p.connect(); err != nil {
			return err
		}
		return p.publish(ctx, body)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, body []byte) error {
	if p.ch == nil || p.ch.IsClosed() {
		return amqp.ErrClosed
	}
	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

func (p *Publisher) closeLocked() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}
