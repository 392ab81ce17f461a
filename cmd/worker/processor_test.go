package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	orderevents "github.com/imrishuroy/go-gamestore-orderflow/internal/events"
)

// --- mock implementations ---

type mockSink struct {
	calls [][]aws.Metric
	err   error
}

func (m *mockSink) Put(ctx context.Context, metrics []aws.Metric) error {
	m.calls = append(m.calls, metrics)
	return m.err
}

func sqsEvent(t *testing.T, evs ...orderevents.OrderEvent) events.SQSEvent {
	t.Helper()
	var out events.SQSEvent
	for _, ev := range evs {
		body, err := json.Marshal(ev)
		require.NoError(t, err)
		out.Records = append(out.Records, events.SQSMessage{Body: string(body)})
	}
	return out
}

func byName(metrics []aws.Metric) map[string]float64 {
	out := map[string]float64{}
	for _, m := range metrics {
		out[m.Name] += m.Value
	}
	return out
}

// --- test cases ---

func TestWorkerProcess_CompletedAndFailed(t *testing.T) {
	sink := &mockSink{}
	p := &Processor{metrics: sink}
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	err := p.Handle(context.Background(), sqsEvent(t,
		orderevents.OrderEvent{
			Type: orderevents.TypeOrderCompleted, OrderID: "o1", PaymentMethod: "Wallet", TotalValue: 5998, OccurredAt: at,
			Items: []orderevents.Item{{GameID: "g1", KeyID: "k1", Value: 1999}, {GameID: "g2", KeyID: "k2", Value: 3999}},
		},
		orderevents.OrderEvent{
			Type: orderevents.TypeOrderFailed, OrderID: "o2", PaymentMethod: "Wallet", Reason: "internal_error",
			OrphanedKeyIDs: []string{"k9"}, OccurredAt: at,
		},
	))
	require.NoError(t, err)
	require.Len(t, sink.calls, 1, "one batch per SQS event")

	got := byName(sink.calls[0])
	require.Equal(t, map[string]float64{
		"OrdersCompleted":      1,
		"Revenue":              59.98,
		"KeysSold":             2,
		"OrdersFailed":         1,
		"OrphanedReservations": 1,
	}, got)
	require.Equal(t, "Wallet", sink.calls[0][0].Dimensions["PaymentMethod"])
	require.Equal(t, at, sink.calls[0][0].Timestamp)
}

func TestWorkerProcess_InvalidBody(t *testing.T) {
	sink := &mockSink{}
	p := &Processor{metrics: sink}
	err := p.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{{Body: "{not json"}}})
	require.Error(t, err)
	require.Empty(t, sink.calls)
}

func TestWorkerProcess_UnknownTypeIgnored(t *testing.T) {
	sink := &mockSink{}
	p := &Processor{metrics: sink}
	require.NoError(t, p.Handle(context.Background(), sqsEvent(t, orderevents.OrderEvent{Type: "order.shipped", OrderID: "o1"})))
	require.Empty(t, sink.calls)
}

func TestWorkerProcess_MetricsErrorRetried(t *testing.T) {
	boom := errors.New("throttled")
	p := &Processor{metrics: &mockSink{err: boom}}
	err := p.Handle(context.Background(), sqsEvent(t, orderevents.OrderEvent{Type: orderevents.TypeOrderFailed, OrderID: "o1"}))
	require.ErrorIs(t, err, boom)
}
