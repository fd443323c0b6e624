// Package queue publishes plan change notifications to SQS for downstream
// consumers such as the email service.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"planguard/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

var dedupNamespace = uuid.MustParse("2d6a1c59-0b0e-4b8e-a6d4-8c35f5f3e9a1")

// SQSPlanPublisher sends one message per applied plan transition. On a FIFO
// queue messages are grouped by tenant so consumers see a tenant's changes in
// order, and deduplicated on (tenant, version, event type).
type SQSPlanPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewSQSPlanPublisher creates a publisher for queueURL.
func NewSQSPlanPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSPlanPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSPlanPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
		logger:   logger,
	}
}

// PublishPlanChanged serializes msg and sends it.
func (p *SQSPlanPublisher) PublishPlanChanged(ctx context.Context, msg types.PlanChangedMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal PlanChangedMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(msg.EventType)),
			},
			"tenant_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.TenantID),
			},
		},
	}
	if p.fifo {
		dedup := fmt.Sprintf("%s|%d|%s", msg.TenantID, msg.Version, msg.EventType)
		input.MessageGroupId = aws.String(msg.TenantID)
		input.MessageDeduplicationId = aws.String(uuid.NewSHA1(dedupNamespace, []byte(dedup)).String())
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("queue: failed to send PlanChangedMessage to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "plan change published",
		"tenant_id", msg.TenantID,
		"event_type", string(msg.EventType),
		"to_tier", string(msg.ToTier),
		"to_status", string(msg.ToStatus),
		"version", strconv.FormatInt(msg.Version, 10),
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}
