package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/events"
)

type mockSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (m *mockSQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &sqs.SendMessageOutput{}, nil
}

type mockCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (m *mockCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	m.inputs = append(m.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestPublishOrderEvent(t *testing.T) {
	q := &mockSQS{}
	p := NewPublisher(q, "https://sqs.local/orders")

	ev := events.OrderEvent{
		Type:       events.TypeOrderCompleted,
		OrderID:    "o1",
		CustomerID: "c1",
		TotalValue: 5998,
		OccurredAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := p.PublishOrderEvent(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(q.inputs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.inputs))
	}
	in := q.inputs[0]
	if *in.QueueUrl != "https://sqs.local/orders" {
		t.Fatalf("wrong queue url %s", *in.QueueUrl)
	}
	if got := *in.MessageAttributes["event_type"].StringValue; got != events.TypeOrderCompleted {
		t.Fatalf("wrong event_type attribute %s", got)
	}
	// empty transaction id is not sent as an attribute
	if _, ok := in.MessageAttributes["transaction_id"]; ok {
		t.Fatalf("empty attribute should be skipped")
	}

	var back events.OrderEvent
	if err := json.Unmarshal([]byte(*in.MessageBody), &back); err != nil {
		t.Fatalf("body is not an order event: %v", err)
	}
	if back.OrderID != "o1" || back.TotalValue != 5998 {
		t.Fatalf("unexpected body %+v", back)
	}
}

func TestPublishOrderEvent_SendError(t *testing.T) {
	boom := errors.New("boom")
	p := NewPublisher(&mockSQS{err: boom}, "q")
	err := p.PublishOrderEvent(context.Background(), events.OrderEvent{OrderID: "o1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}

func TestMetricsPut_Chunks(t *testing.T) {
	cw := &mockCloudWatch{}
	m := NewMetrics(cw)

	batch := make([]Metric, maxDatumPerCall+5)
	for i := range batch {
		batch[i] = Metric{Name: "KeysSold", Value: 1, Dimensions: map[string]string{"PaymentMethod": "Wallet"}}
	}
	if err := m.Put(context.Background(), batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cw.inputs) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(cw.inputs))
	}
	if n := len(cw.inputs[1].MetricData); n != 5 {
		t.Fatalf("expected 5 datums in second call, got %d", n)
	}
	if *cw.inputs[0].Namespace != MetricsNamespace {
		t.Fatalf("wrong namespace %s", *cw.inputs[0].Namespace)
	}
	if d := cw.inputs[0].MetricData[0].Dimensions; len(d) != 1 || *d[0].Name != "PaymentMethod" {
		t.Fatalf("unexpected dimensions %+v", d)
	}
}
