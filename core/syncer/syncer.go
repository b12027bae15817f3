/*Package syncer announces requests parked in the offline queue to an out-of-band replay
channel.

When the gateway queues a request while offline, it registers a sync message with the
tag "api-request-sync". A worker outside the process may use those messages to replay
the request once the network is back, even if this process is gone by then. Registration
is best effort: failures are logged by the caller and never affect the queued request.
*/
package syncer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/gateway/core/logger"
)

// Tag is the background sync tag of queued API requests
const Tag = "api-request-sync"

// Registration announces a queued request
type Registration struct {
	ID       uuid.UUID `json:"id"`
	Tag      string    `json:"tag"`
	Method   string    `json:"method"`
	URL      string    `json:"url"`
	Pending  int       `json:"pending"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Registrar is the out-of-band replay capability
type Registrar interface {
	Register(ctx context.Context, r Registration) error
}

// Driver selects a Registrar implementation
type Driver string

// The supported drivers
const (
	DriverNone  Driver = "none"
	DriverKafka Driver = "kafka"
	DriverSQS   Driver = "sqs"
	DriverAMQP  Driver = "amqp"
)

// Configuration configures New
type Configuration struct {
	Driver       Driver
	KafkaBrokers []string
	Topic        string
	SQSQueueURL  string
	AWSRegion    string
	AMQPURL      string
	AMQPExchange string
}

// New returns the registrar for the configured driver. DriverNone and an empty driver
// return nil, meaning the capability is absent.
func New(ctx context.Context, config Configuration) (Registrar, error) {
	topic := config.Topic
	if topic == "" {
		topic = Tag
	}
	switch Driver(strings.ToLower(string(config.Driver))) {
	case "", DriverNone:
		return nil, nil
	case DriverKafka:
		if len(config.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka sync driver needs brokers")
		}
		return NewKafka(config.KafkaBrokers, topic), nil
	case DriverSQS:
		if config.SQSQueueURL == "" {
			return nil, fmt.Errorf("sqs sync driver needs a queue url")
		}
		r, err := NewSQS(ctx, config.AWSRegion, config.SQSQueueURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case DriverAMQP:
		if config.AMQPURL == "" {
			return nil, fmt.Errorf("amqp sync driver needs a url")
		}
		r, err := DialAMQP(config.AMQPURL, config.AMQPExchange, topic)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown sync driver %q", config.Driver)
}

// message is the wire format shared by all drivers
type message struct {
	Registration
	Logger json.RawMessage `json:"logger,omitempty"`
}

// encode serializes r together with the logger context of ctx, so the replaying worker
// logs under the same request id
func encode(ctx context.Context, r Registration) ([]byte, error) {
	if r.Tag == "" {
		r.Tag = Tag
	}
	return json.Marshal(message{Registration: r, Logger: logger.SerializeLoggerContext(ctx)})
}

// Decode parses a message produced by any of the drivers and returns the registration and a
// context carrying the logger of the registering request
func Decode(ctx context.Context, data []byte) (context.Context, Registration, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return ctx, Registration{}, fmt.Errorf("invalid sync message: %w", err)
	}
	return logger.ContextWithLoggerFromData(ctx, m.Logger), m.Registration, nil
}

// Recorder is an in-process Registrar which keeps all registrations in memory
type Recorder struct {
	mu            sync.Mutex
	registrations []Registration
}

// Register implements Registrar
func (r *Recorder) Register(ctx context.Context, reg Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, reg)
	return nil
}

// Registrations returns a copy of everything registered so far
func (r *Recorder) Registrations() []Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Registration(nil), r.registrations...)
}
