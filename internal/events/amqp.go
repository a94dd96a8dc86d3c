package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/streadway/amqp"
)

// AMQPBroker fans envelopes out through a RabbitMQ exchange. Each subscriber
// binds its own exclusive, auto-deleted queue so every gateway sees every
// envelope.
type AMQPBroker struct {
	conn     *amqp.Connection
	exchange string
	logger   *log.Logger

	mu      sync.Mutex
	publish *amqp.Channel
}

// DialAMQP connects and declares the fanout exchange.
func DialAMQP(url, exchange string, logger *log.Logger) (*AMQPBroker, error) {
	if exchange == "" {
		exchange = DefaultChannel
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &AMQPBroker{
		conn:     conn,
		exchange: exchange,
		logger:   logger.WithPrefix("broker"),
		publish:  ch,
	}, nil
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		false, // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

func publishing(env Envelope) (amqp.Publishing, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode envelope: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Type:         string(env.Event),
		DeliveryMode: amqp.Transient,
		Body:         body,
	}, nil
}

func (b *AMQPBroker) Publish(_ context.Context, env Envelope) error {
	msg, err := publishing(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.publish.Publish(b.exchange, "", false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", env.Event, err)
	}
	return nil
}

// Subscribe blocks until ctx is done or the connection drops.
func (b *AMQPBroker) Subscribe(ctx context.Context, handler Handler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	b.logger.Info("Subscribed", "exchange", b.exchange, "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp deliveries closed")
			}
			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				b.logger.Warn("Dropping malformed envelope", "error", err)
				continue
			}
			handler(env)
		}
	}
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.publish.Close()
	return b.conn.Close()
}
