package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/orders"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/stats"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/validation"
)

const defaultTopPublishers = 10

// RegisterAdminRoutes registers the admin dashboard and order administration.
func RegisterAdminRoutes(r *gin.Engine, cfg HandlerConfig, v *validatorv10.Validate) {
	g := r.Group("/admin", RequireRole(RoleAdmin))

	g.GET("/dashboard/top-publishers", func(c *gin.Context) {
		var q validation.TopPublishersQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		n := q.N
		if n == 0 {
			n = defaultTopPublishers
		}
		from, to := q.Bounds()
		rows, err := cfg.Stats.PublisherSales(c.Request.Context(), stats.Window{From: from, To: to})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"publishers": stats.TopN(rows, n)})
	})

	// refunds move no money or keys; they only retire the order from revenue
	g.POST("/orders/:orderId/refund", func(c *gin.Context) {
		if err := cfg.Ledger.MarkRefunded(c.Request.Context(), c.Param("orderId")); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": c.Param("orderId"), "payment_status": orders.StatusRefunded})
	})
}
