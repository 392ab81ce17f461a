package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/accounts"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/aws"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/catalog"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/config"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/handlers"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/inventory"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/orders"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/stats"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterRoutes(r, cfg)

	return r
}

// buildHandlerConfig wires the stores, the ledger and the stats engine.
func buildHandlerConfig(cfg *config.Config, clients *aws.AWSClients) handlers.HandlerConfig {
	db := clients.DynamoDB
	inv := inventory.NewStore(db, cfg.Tables.GameKeys, cfg.Tables.KeyCodes, cfg.Tables.Ownership)
	cat := catalog.NewStore(db, cfg.Tables.Games)
	orderStore := orders.NewStore(db, cfg.Tables.Orders, cfg.Tables.OrderDetails)
	idem := idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.API.IdempotencyTTL)

	hc := handlers.HandlerConfig{
		Ledger:      orders.NewLedger(orderStore, inv, accounts.NewStore(db, cfg.Tables.Customers), cat, idem),
		Inventory:   inv,
		Catalog:     cat,
		Stats:       stats.NewEngine(inv, orderStore, cat),
		Idempotency: idem,
	}
	if cfg.AWS.OrdersQueueURL != "" {
		hc.Publisher = aws.NewPublisher(clients.SQS, cfg.AWS.OrdersQueueURL)
	} else {
		log.Printf("ORDERS_QUEUE_URL not set, order events are not published")
	}
	return hc
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	clients, err := aws.NewAWSClients(context.Background(), cfg.AWS.Region, cfg.AWS.EndpointOverride)
	if err != nil {
		log.Fatalf("failed to init aws clients: %v", err)
	}

	r := setupRouter(buildHandlerConfig(cfg, clients))

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.API.RunLocal {
		log.Printf("running local server on %s", cfg.API.Addr)
		if err := r.Run(cfg.API.Addr); err != nil {
			log.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
