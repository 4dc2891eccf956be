/**
 * @description
 * Producer for publishing domain events to RabbitMQ topic exchanges. A failed publish
 * reopens the channel once and retries before giving up.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// FallbackPublisher is a no-op publisher used when RabbitMQ is unavailable at startup.
type FallbackPublisher struct {
	Logger *slog.Logger
}

func (p *FallbackPublisher) Publish(_ context.Context, exchange, routingKey string, _ interface{}) error {
	if p.Logger != nil {
		p.Logger.Warn("publish skipped", "component", "rabbitmq_producer", "mode", "fallback", "exchange", exchange, "routing_key", routingKey)
	}
	return nil
}

func (p *FallbackPublisher) Close() {}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
	logger   *slog.Logger
}

// SanitizeURL trims quotes and stray prefixes and checks the AMQP scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and opens a channel.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch, declared: map[string]bool{}, logger: logger}, nil
}

// Publish sends body as JSON to exchange with routingKey, declaring the durable topic
// exchange on first use.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(ctx, exchange, routingKey, jsonBody)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "error", err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	p.channel = ch
	p.declared = map[string]bool{}
	return p.publishLocked(ctx, exchange, routingKey, jsonBody)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, body []byte) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // autoDelete
			false,    // internal
			false,    // noWait
			nil,      // args
		); err != nil {
			return err
		}
		p.declared[exchange] = true
	}

	return p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
