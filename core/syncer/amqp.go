package syncer

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the part of an AMQP channel the registrar needs
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQP publishes registrations as persistent messages to an exchange
type AMQP struct {
	conn       *amqp.Connection
	channel    AMQPChannel
	exchange   string
	routingKey string
}

// DialAMQP connects to url and returns a registrar publishing to exchange with routingKey
func DialAMQP(url, exchange, routingKey string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cannot open amqp channel: %w", err)
	}
	a := NewAMQPWithChannel(ch, exchange, routingKey)
	a.conn = conn
	return a, nil
}

// NewAMQPWithChannel returns a registrar publishing on ch
func NewAMQPWithChannel(ch AMQPChannel, exchange, routingKey string) *AMQP {
	return &AMQP{channel: ch, exchange: exchange, routingKey: routingKey}
}

// Register implements Registrar
func (a *AMQP) Register(ctx context.Context, r Registration) error {
	body, err := encode(ctx, r)
	if err != nil {
		return err
	}
	err = a.channel.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    r.ID.String(),
		Timestamp:    r.QueuedAt,
		Type:         r.Tag,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("cannot publish sync message: %w", err)
	}
	return nil
}

// Close closes the broker connection, if the registrar owns one
func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
