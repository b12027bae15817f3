package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gateway/core/logger"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{}, f.err
}

type fakeChannel struct {
	exchange, key string
	published     []amqp.Publishing
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	return nil
}

func registration() Registration {
	return Registration{
		ID:       uuid.New(),
		Tag:      Tag,
		Method:   "POST",
		URL:      "/connections",
		Pending:  2,
		QueuedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecodeKeepsLoggerContext(t *testing.T) {
	ctx, _ := logger.ContextWithLogger(context.Background())
	r := registration()

	data, err := encode(ctx, r)
	require.NoError(t, err)

	restored, decoded, err := Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, r, decoded)
	assert.Equal(t, logger.RequestIDFromContext(ctx), logger.RequestIDFromContext(restored))

	_, _, err = Decode(context.Background(), []byte("{"))
	assert.Error(t, err)
}

func TestEncodeDefaultsTag(t *testing.T) {
	r := registration()
	r.Tag = ""
	data, err := encode(context.Background(), r)
	require.NoError(t, err)
	_, decoded, err := Decode(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, Tag, decoded.Tag)
}

func TestSQSRegister(t *testing.T) {
	api := &fakeSQS{}
	r := NewSQSWithClient(api, "https://sqs.eu-central-1.amazonaws.com/123/sync")
	reg := registration()

	require.NoError(t, r.Register(context.Background(), reg))
	require.Len(t, api.inputs, 1)
	assert.Equal(t, "https://sqs.eu-central-1.amazonaws.com/123/sync", *api.inputs[0].QueueUrl)
	assert.Equal(t, Tag, *api.inputs[0].MessageAttributes["tag"].StringValue)
	_, decoded, err := Decode(context.Background(), []byte(*api.inputs[0].MessageBody))
	require.NoError(t, err)
	assert.Equal(t, reg.ID, decoded.ID)

	api.err = errors.New("throttled")
	assert.Error(t, r.Register(context.Background(), reg))
}

func TestAMQPRegister(t *testing.T) {
	ch := &fakeChannel{}
	r := NewAMQPWithChannel(ch, "gateway", Tag)
	reg := registration()

	require.NoError(t, r.Register(context.Background(), reg))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "gateway", ch.exchange)
	assert.Equal(t, Tag, ch.key)
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, reg.ID.String(), msg.MessageId)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.NoError(t, r.Close())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	r, err := New(ctx, Configuration{})
	assert.NoError(t, err)
	assert.Nil(t, r)

	r, err = New(ctx, Configuration{Driver: DriverNone})
	assert.NoError(t, err)
	assert.Nil(t, r)

	r, err = New(ctx, Configuration{Driver: "Kafka", KafkaBrokers: []string{"localhost:9092"}})
	require.NoError(t, err)
	k, ok := r.(*Kafka)
	require.True(t, ok)
	assert.Equal(t, Tag, k.writer.Topic)

	_, err = New(ctx, Configuration{Driver: DriverKafka})
	assert.Error(t, err)
	_, err = New(ctx, Configuration{Driver: DriverSQS})
	assert.Error(t, err)
	_, err = New(ctx, Configuration{Driver: DriverAMQP})
	assert.Error(t, err)
	_, err = New(ctx, Configuration{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Register(context.Background(), registration()))
	require.NoError(t, r.Register(context.Background(), registration()))
	regs := r.Registrations()
	assert.Len(t, regs, 2)
	assert.NotEqual(t, regs[0].ID, regs[1].ID)
}
