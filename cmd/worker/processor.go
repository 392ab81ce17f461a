package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-lambda-go/events"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	orderevents "github.com/imrishuroy/go-gamestore-orderflow/internal/events"
)

// MetricsSink receives the datapoints derived from order events.
type MetricsSink interface {
	Put(ctx context.Context, metrics []aws.Metric) error
}

// Processor turns order events from SQS into CloudWatch metrics.
type Processor struct {
	metrics MetricsSink
}

// NewProcessor creates a new worker processor with AWS clients injected.
func NewProcessor(clients *aws.AWSClients) *Processor {
	return &Processor{metrics: aws.NewMetrics(clients.CloudWatch)}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	var batch []aws.Metric
	for _, rec := range ev.Records {
		m, err := p.processMessage(rec)
		if err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			log.Printf("[worker] error: %v", err)
			return err
		}
		batch = append(batch, m...)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := p.metrics.Put(ctx, batch); err != nil {
		log.Printf("[worker] metrics error: %v", err)
		return err
	}
	return nil
}

func (p *Processor) processMessage(rec events.SQSMessage) ([]aws.Metric, error) {
	var msg orderevents.OrderEvent
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return nil, fmt.Errorf("invalid message body: %w", err)
	}

	log.Printf("[worker] received type=%s order=%s txn=%s corr=%s",
		msg.Type, msg.OrderID, msg.TransactionID, msg.CorrelationID)

	dims := map[string]string{"PaymentMethod": msg.PaymentMethod}
	switch msg.Type {
	case orderevents.TypeOrderCompleted:
		return []aws.Metric{
			{Name: "OrdersCompleted", Value: 1, Unit: cwtypes.StandardUnitCount, Dimensions: dims, Timestamp: msg.OccurredAt},
			{Name: "Revenue", Value: msg.TotalValue.Float64(), Unit: cwtypes.StandardUnitNone, Dimensions: dims, Timestamp: msg.OccurredAt},
			{Name: "KeysSold", Value: float64(len(msg.Items)), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Timestamp: msg.OccurredAt},
		}, nil
	case orderevents.TypeOrderFailed:
		out := []aws.Metric{
			{Name: "OrdersFailed", Value: 1, Unit: cwtypes.StandardUnitCount, Dimensions: dims, Timestamp: msg.OccurredAt},
		}
		if n := len(msg.OrphanedKeyIDs); n > 0 {
			// keys stuck in Reserved need an operator
			log.Printf("[worker] order=%s left %d orphaned reservations: %v", msg.OrderID, n, msg.OrphanedKeyIDs)
			out = append(out, aws.Metric{Name: "OrphanedReservations", Value: float64(n), Unit: cwtypes.StandardUnitCount, Timestamp: msg.OccurredAt})
		}
		return out, nil
	default:
		log.Printf("[worker] ignoring unknown event type=%q order=%s", msg.Type, msg.OrderID)
		return nil, nil
	}
}
