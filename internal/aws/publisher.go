package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/events"
)

// Publisher wraps an SQS client and a queue URL.
type Publisher struct {
	SQS      SQSAPI
	QueueURL string
}

// NewPublisher returns a Publisher bound to a queue URL.
func NewPublisher(sqsClient SQSAPI, queueURL string) *Publisher {
	return &Publisher{
		SQS:      sqsClient,
		QueueURL: queueURL,
	}
}

// PublishOrderEvent serializes ev and sends it with its type and ids as message attributes.
func (p *Publisher) PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	return p.SendOrderMessage(ctx, string(body), map[string]string{
		"event_type":     ev.Type,
		"order_id":       ev.OrderID,
		"transaction_id": ev.TransactionID,
	})
}

// SendOrderMessage sends an order message to SQS. messageBody should be a JSON string.
// attributes map[string]string -> sent as MessageAttributes. Empty values are skipped.
func (p *Publisher) SendOrderMessage(ctx context.Context, messageBody string, attributes map[string]string) error {
	input := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: &messageBody,
	}
	if len(attributes) > 0 {
		msgAttrs := map[string]sqstypes.MessageAttributeValue{}
		for k, v := range attributes {
			if v == "" {
				continue
			}
			msgAttrs[k] = sqstypes.MessageAttributeValue{
				DataType:    awsString("String"),
				StringValue: awsString(v),
			}
		}
		input.MessageAttributes = msgAttrs
	}

	_, err := p.SQS.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// awsString helper
func awsString(s string) *string { return &s }
