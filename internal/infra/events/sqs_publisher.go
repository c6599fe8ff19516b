package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"course-billing/internal/config"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/infra/metrics"
)

var _ adapter.EventPublisher = (*SQSPublisher)(nil)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

// NewSQSPublisher uses static credentials when configured and the default
// AWS credential chain otherwise.
func NewSQSPublisher(ctx context.Context, cfg config.EventsConfig) (*SQSPublisher, error) {
	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(cfg.SQS.Region)}
	if cfg.SQS.AccessKeyID != "" && cfg.SQS.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SQS.AccessKeyID, cfg.SQS.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.SQS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SQS.Endpoint)
		}
	})
	return &SQSPublisher{client: client, queueURL: cfg.SQS.QueueURL}, nil
}

func (p *SQSPublisher) PublishEntitlementGranted(ctx context.Context, ev adapter.EntitlementGranted) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String("entitlement.granted")},
			"kind":       {DataType: aws.String("String"), StringValue: aws.String(ev.Kind)},
		},
	})
	if err != nil {
		metrics.IncEventPublished("sqs", "error")
		return fmt.Errorf("sqs send: %w", err)
	}
	metrics.IncEventPublished("sqs", "ok")
	return nil
}

func (p *SQSPublisher) Close() error { return nil }
