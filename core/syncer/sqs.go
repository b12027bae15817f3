package syncer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client the registrar needs
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends registrations to an SQS queue
type SQS struct {
	api      SQSAPI
	queueURL string
}

// NewSQS returns a registrar for queueURL using the default AWS credential chain
func NewSQS(ctx context.Context, region, queueURL string) (*SQS, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot load aws configuration: %w", err)
	}
	return NewSQSWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSWithClient returns a registrar using api
func NewSQSWithClient(api SQSAPI, queueURL string) *SQS {
	return &SQS{api: api, queueURL: queueURL}
}

// Register implements Registrar
func (s *SQS) Register(ctx context.Context, r Registration) error {
	body, err := encode(ctx, r)
	if err != nil {
		return err
	}
	tag := r.Tag
	if tag == "" {
		tag = Tag
	}
	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tag": {DataType: aws.String("String"), StringValue: aws.String(tag)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot send sync message: %w", err)
	}
	return nil
}
