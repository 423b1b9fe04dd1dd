package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeEvents — topic exchange событий контроллера.
const ExchangeEvents Exchange = "slurmdag.events"

// Routing keys событий.
const (
	RoutingKeyRunStarted  RoutingKey = "run.started"
	RoutingKeyRunFinished RoutingKey = "run.finished"
	RoutingKeyNodeChanged RoutingKey = "node.changed"

	// RoutingKeyAll — подписка на все события.
	RoutingKeyAll RoutingKey = "#"
)

// SetupTopology объявляет exchange событий.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, declareExchange)
}

func declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		string(ExchangeEvents), // name
		"topic",                // type
		true,                   // durable
		false,                  // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
	}
	return nil
}

// declareTailQueue создаёт временную очередь (имя выбирает брокер),
// привязанную к exchange событий по keys.
func declareTailQueue(ch *amqp.Channel, keys []RoutingKey) (string, error) {
	if err := declareExchange(ch); err != nil {
		return "", err
	}

	q, err := ch.QueueDeclare(
		"",    // name (server-generated)
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", fmt.Errorf("declare tail queue: %w", err)
	}

	if len(keys) == 0 {
		keys = []RoutingKey{RoutingKeyAll}
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, string(key), string(ExchangeEvents), false, nil); err != nil {
			return "", fmt.Errorf("bind %s to %s: %w", key, ExchangeEvents, err)
		}
	}
	return q.Name, nil
}
