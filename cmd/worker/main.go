package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWS.Region, cfg.AWS.EndpointOverride)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}
	p := NewProcessor(clients)

	// If RUN_LOCAL=true, simulate a single SQS event for local testing.
	if cfg.API.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"type":"order.completed","order_id":"local-order-1","payment_method":"Wallet","total_value":"19.99"}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{
					Body: testBody,
				},
			},
		}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Fatalf("local handler error: %v", err)
		}
		return
	}

	lambda.Start(p.Handle)
}
