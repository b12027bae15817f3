// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes registrations to a Kafka topic, keyed by registration id
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka returns a registrar writing to topic on brokers
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

// Register implements Registrar
func (k *Kafka) Register(ctx context.Context, r Registration) error {
	value, err := encode(ctx, r)
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.ID.String()),
		Value: value,
		Time:  r.QueuedAt,
	})
	if err != nil {
		return fmt.Errorf("cannot write sync message to %s: %w", k.writer.Topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
