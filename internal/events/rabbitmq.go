package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName = "market_events"
	ExchangeType = "topic"
)

// SetupConn connects to the broker, retrying while it starts up, and declares
// the market exchange.
func SetupConn(url string, attempts int, logger *slog.Logger) (*amqp.Connection, *amqp.Channel, error) {
	var conn *amqp.Connection
	var err error

	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to RabbitMQ", "attempt", i+1, "error", err)
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeName, // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

// AMQPPublisher publishes events as JSON envelopes on the market exchange,
// routed by the event's routing key.
type AMQPPublisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewAMQPPublisher(ch *amqp.Channel) *AMQPPublisher {
	return &AMQPPublisher{ch: ch}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	env := NewEnvelope(ev)
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("could not marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx,
		ExchangeName, // exchange
		env.Type,     // routing key
		false,        // mandatory
		false,        // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Timestamp:    env.OccurredAt,
			Type:         env.Type,
			Body:         body,
		},
	)
}
