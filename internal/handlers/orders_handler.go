package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/events"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/orders"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/validation"
)

// RegisterOrdersRoutes registers the customer checkout, history and library routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig, v *validatorv10.Validate) {
	g := r.Group("/customers/me", RequireRole(RoleCustomer))

	g.POST("/orders", func(c *gin.Context) {
		ctx := c.Request.Context()
		id := identity(c)

		// Bind + validate request
		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			return
		}

		// Idempotency-Key is optional; keys are scoped to the caller
		var idempKey string
		if h := c.GetHeader("Idempotency-Key"); h != "" && cfg.Idempotency != nil {
			idempKey = id.AccountID + "#" + h
		}
		hash := idempotency.RequestHash(id.AccountID, req.PaymentMethod, req.GameIDs)
		if idempKey != "" && replay(c, cfg.Idempotency, idempKey, hash) {
			return
		}

		order, err := cfg.Ledger.CreateOrder(ctx, orders.CreateOrderInput{
			CustomerID:     id.AccountID,
			PaymentMethod:  orders.PaymentMethod(req.PaymentMethod),
			GameIDs:        req.GameIDs,
			IdempotencyKey: idempKey,
		})
		if errors.Is(err, orders.ErrDuplicateRequest) {
			// a concurrent request with the same key won the claim
			if replay(c, cfg.Idempotency, idempKey, hash) {
				return
			}
			writeError(c, err)
			return
		}

		publishOutcome(ctx, cfg.Publisher, order, err, c.GetHeader("X-Request-Id"))

		status, body := http.StatusCreated, any(order)
		if err != nil {
			status = statusOf(err)
			eb := errorBody(err)
			if order != nil {
				eb["order_id"] = order.OrderID
			}
			body = eb
		}

		// the claim exists once the Pending order was written
		if idempKey != "" && order != nil {
			remember(ctx, cfg.Idempotency, idempKey, status, body, err)
		}

		if err != nil {
			if status >= http.StatusInternalServerError {
				log.Printf("[api] create order customer=%s: %v", id.AccountID, err)
			}
			c.JSON(status, body)
			return
		}
		c.Header("Location", fmt.Sprintf("/customers/me/orders/%s", order.OrderID))
		c.JSON(http.StatusCreated, order)
	})

	g.GET("/orders", func(c *gin.Context) {
		history, err := cfg.Ledger.GetOrderHistory(c.Request.Context(), identity(c).AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		if history == nil {
			history = []orders.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": history})
	})

	g.GET("/orders/:orderId", func(c *gin.Context) {
		order, err := cfg.Ledger.GetOrder(c.Request.Context(), identity(c).AccountID, c.Param("orderId"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, order)
	})

	g.GET("/library", func(c *gin.Context) {
		lib, err := cfg.Ledger.GetLibrary(c.Request.Context(), identity(c).AccountID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"games": lib})
	})
}

// replay answers a request whose idempotency key was seen before. It
// returns false when the key is new.
func replay(c *gin.Context, store *idempotency.Store, key, hash string) bool {
	rec, err := store.Get(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
		log.Printf("[api] idempotency lookup key=%s: %v", key, err)
		return true
	}
	if rec == nil {
		return false
	}
	if rec.RequestHash != "" && rec.RequestHash != hash {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused", "msg": "the key was used with a different request"})
		return true
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return true
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "order_id": rec.OrderID})
	case idempotency.StatusFailed:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "previous_attempt_failed", "order_id": rec.OrderID})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
	return true
}

// remember stores the response for replay. Typed outcomes are final and
// replayed as-is; infrastructure failures leave the key FAILED.
func remember(ctx context.Context, store *idempotency.Store, key string, status int, body any, outcome error) {
	ctx = context.WithoutCancel(ctx)
	if outcome != nil && errs.KindOf(outcome) == "" {
		if err := store.MarkFailed(ctx, key, outcome.Error()); err != nil {
			log.Printf("[api] idempotency mark failed key=%s: %v", key, err)
		}
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		log.Printf("[api] idempotency marshal key=%s: %v", key, err)
		return
	}
	if err := store.MarkDone(ctx, key, string(raw), status); err != nil {
		log.Printf("[api] idempotency mark done key=%s: %v", key, err)
	}
}

// publishOutcome emits order.completed or order.failed. The order is
// already settled, so a publish failure is only logged.
func publishOutcome(ctx context.Context, p EventPublisher, order *orders.Order, outcome error, correlationID string) {
	if p == nil || order == nil {
		return
	}
	var ev events.OrderEvent
	switch {
	case outcome == nil:
		ev = completedEvent(order, time.Now())
	case order.Status == orders.StatusFailed:
		var orphaned []string
		var cerr *orders.CompensationError
		if errors.As(outcome, &cerr) {
			orphaned = cerr.OrphanedKeyIDs
		}
		ev = failedEvent(order, orphaned, time.Now())
	default:
		return
	}
	ev.CorrelationID = correlationID
	if err := p.PublishOrderEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.Printf("[api] publish %s order=%s: %v", ev.Type, ev.OrderID, err)
	}
}

// completedEvent describes a Completed order.
func completedEvent(o *orders.Order, at time.Time) events.OrderEvent {
	ev := baseEvent(events.TypeOrderCompleted, o, at)
	for _, d := range o.Details {
		ev.Items = append(ev.Items, events.Item{GameID: d.GameID, KeyID: d.GameKeyID, Value: d.Value})
	}
	return ev
}

// failedEvent describes a Failed order. orphaned lists keys a rollback
// could not release.
func failedEvent(o *orders.Order, orphaned []string, at time.Time) events.OrderEvent {
	ev := baseEvent(events.TypeOrderFailed, o, at)
	ev.Reason = o.FailureReason
	ev.OrphanedKeyIDs = orphaned
	return ev
}

func baseEvent(typ string, o *orders.Order, at time.Time) events.OrderEvent {
	return events.OrderEvent{
		Type:          typ,
		OrderID:       o.OrderID,
		CustomerID:    o.CustomerID,
		TransactionID: o.TransactionID,
		PaymentMethod: string(o.PaymentMethod),
		TotalValue:    o.TotalValue,
		OccurredAt:    at.UTC(),
	}
}
