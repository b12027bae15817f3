package syncer

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relabs-tech/gateway/core/logger"
)

// Handler processes one registration. ctx carries the logger of the request which was queued.
type Handler func(ctx context.Context, r Registration) error

// ErrDeliveriesClosed is returned by Consume when the broker closed the delivery channel
var ErrDeliveriesClosed = errors.New("syncer: delivery channel closed")

// SubscribeAMQP declares a durable queue bound to exchange with routingKey and returns its
// deliveries. With an empty exchange the queue is named after routingKey, which is where the
// default exchange routes the registrations to. Closing the returned connection ends the
// subscription.
func SubscribeAMQP(url, exchange, queue, routingKey string) (<-chan amqp.Delivery, *amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("cannot open amqp channel: %w", err)
	}
	if exchange == "" {
		queue = routingKey
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("cannot declare queue %s: %w", queue, err)
	}
	if exchange != "" {
		if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("cannot bind queue %s: %w", q.Name, err)
		}
	}
	deliveries, err := ch.Consume(q.Name, "gateway-sync", false, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("cannot consume queue %s: %w", q.Name, err)
	}
	return deliveries, conn, nil
}

// Consume hands every delivery to h until ctx is cancelled or the channel closes.
// Messages which cannot be decoded are dropped. A failing message is requeued once.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler) error {
	rlog := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			mctx, r, err := Decode(ctx, d.Body)
			if err != nil {
				rlog.WithError(err).Warnln("dropping sync message")
				if err := d.Nack(false, false); err != nil {
					rlog.WithError(err).Errorln("cannot nack sync message")
				}
				continue
			}
			if err := h(mctx, r); err != nil {
				logger.FromContext(mctx).WithError(err).Warnf("sync registration %s failed", r.ID)
				if err := d.Nack(false, !d.Redelivered); err != nil {
					rlog.WithError(err).Errorln("cannot nack sync message")
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				rlog.WithError(err).Errorln("cannot ack sync message")
			}
		}
	}
}
