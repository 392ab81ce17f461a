package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/catalog"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/stats"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/validation"
)

const defaultTopGames = 5

// RegisterPublisherRoutes registers key management and publisher dashboards.
func RegisterPublisherRoutes(r *gin.Engine, cfg HandlerConfig, v *validatorv10.Validate) {
	g := r.Group("/publisher")

	keys := g.Group("/games/:gameId/keys", RequireRole(RolePublisher, RoleAdmin))

	keys.POST("", func(c *gin.Context) {
		game, ok := ownedGame(c, cfg.Catalog)
		if !ok {
			return
		}
		var req validation.CreateKeysRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		ids, err := cfg.Inventory.CreateBatch(c.Request.Context(), game.GameID, req.Version, req.Quantity)
		if err != nil {
			body := errorBody(err)
			// keys of chunks committed before the failure exist
			body["created_key_ids"] = ids
			c.JSON(statusOf(err), body)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"game_id": game.GameID, "version": req.Version, "count": len(ids), "key_ids": ids})
	})

	keys.GET("/stats", func(c *gin.Context) {
		game, ok := ownedGame(c, cfg.Catalog)
		if !ok {
			return
		}
		counts, err := cfg.Inventory.CountByStatus(c.Request.Context(), game.GameID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"game_id": game.GameID, "keys": counts})
	})

	g.GET("/dashboard/summary", RequireRole(RolePublisher), func(c *gin.Context) {
		var q validation.SummaryQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		top := q.Top
		if top == 0 {
			top = defaultTopGames
		}
		from, to := q.Bounds()
		sum, err := cfg.Stats.PublisherSummary(c.Request.Context(), identity(c).AccountID, stats.Window{From: from, To: to}, top)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	})

	g.GET("/dashboard/revenue", RequireRole(RolePublisher, RoleAdmin), func(c *gin.Context) {
		ctx := c.Request.Context()
		id := identity(c)
		var q validation.RevenueQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		gran := stats.Day
		if q.Granularity != "" {
			gran = stats.Granularity(q.Granularity)
		}

		gameIDs := q.GameIDs
		switch {
		case len(gameIDs) == 0 && id.Role == RoleAdmin:
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{"gameId": "at least one gameId is required"}})
			return
		case len(gameIDs) == 0:
			games, err := cfg.Catalog.ListByPublisher(ctx, id.AccountID)
			if err != nil {
				writeError(c, err)
				return
			}
			for _, game := range games {
				gameIDs = append(gameIDs, game.GameID)
			}
		case id.Role == RolePublisher:
			for _, gameID := range gameIDs {
				game, err := cfg.Catalog.GetGame(ctx, gameID)
				if err != nil {
					writeError(c, err)
					return
				}
				if game.PublisherID != id.AccountID {
					c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "msg": "game " + gameID + " belongs to another publisher"})
					return
				}
			}
		}

		from, to := q.Bounds()
		series, err := cfg.Stats.RevenueSeries(ctx, gameIDs, gran, stats.Window{From: from, To: to})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"granularity": gran, "game_ids": gameIDs, "series": series})
	})
}

// ownedGame loads :gameId and lets through its publisher or an admin.
func ownedGame(c *gin.Context, cat *catalog.Store) (*catalog.Game, bool) {
	game, err := cat.GetGame(c.Request.Context(), c.Param("gameId"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	id := identity(c)
	if id.Role != RoleAdmin && game.PublisherID != id.AccountID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "msg": "game belongs to another publisher"})
		return nil, false
	}
	return game, true
}
