package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/catalog"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/events"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/inventory"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/orders"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/stats"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/validation"
)

// EventPublisher sends order events downstream.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error
}

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Ledger      *orders.Ledger
	Inventory   *inventory.Store
	Catalog     *catalog.Store
	Stats       *stats.Engine
	Idempotency *idempotency.Store
	// Publisher is optional; events are dropped when nil.
	Publisher EventPublisher
}

// RegisterRoutes registers every customer, publisher and admin route.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig) {
	v := validation.New()
	RegisterOrdersRoutes(r, cfg, v)
	RegisterPublisherRoutes(r, cfg, v)
	RegisterAdminRoutes(r, cfg, v)
}
