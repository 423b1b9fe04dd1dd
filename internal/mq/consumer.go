package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — обработчик события. Ошибка останавливает consumer.
type Handler func(ctx context.Context, msg *Message) error

// Consumer читает события контроллера из временной очереди.
//
// Очередь эксклюзивная и удаляется при отключении, поэтому после
// переподключения она объявляется заново; события за время разрыва теряются.
type Consumer struct {
	conn    *Connection
	logger  *slog.Logger
	keys    []RoutingKey
	handler Handler
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Keys — routing keys подписки (default: все события).
	Keys []RoutingKey

	// Handler — обработчик событий.
	Handler Handler
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		conn:    conn,
		logger:  logger,
		keys:    cfg.Keys,
		handler: cfg.Handler,
	}
}

// Run читает события до отмены ctx или ошибки обработчика.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Warn("failed to subscribe, waiting for reconnect", "error", err)
		} else {
			err = c.drain(ctx, deliveries)
			if err == nil || ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, errDeliveriesClosed) {
				return err
			}
			c.logger.Warn("event stream interrupted, waiting for reconnect")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
		}
	}
}

var errDeliveriesClosed = errors.New("deliveries channel closed")

func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	queue, err := declareTailQueue(ch, c.keys)
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(
		queue, // queue
		"",    // consumer tag (auto-generated)
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	c.logger.Debug("subscribed to events", "queue", queue, "keys", c.keys)
	return deliveries, nil
}

func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			msg, err := DecodeMessage(raw.Body)
			if err != nil {
				c.logger.Warn("skipping malformed event", "error", err)
				continue
			}
			if err := c.handler(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// DecodeMessage разбирает тело AMQP сообщения.
func DecodeMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &msg, nil
}
