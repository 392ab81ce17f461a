// Package stats computes read-only dashboard views over the order ledger and
// the key inventory. Nothing here writes.
//
// Revenue only counts Completed orders. An order becomes Completed in the
// same transaction that sells its keys and writes its details, so a reader
// never sees a half-committed sale.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/catalog"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/inventory"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/orders"
)

type Granularity string

const (
	Day   Granularity = "day"
	Month Granularity = "month"
	Year  Granularity = "year"
)

// ParseGranularity accepts day, month or year.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Day, Month, Year:
		return g, nil
	}
	return "", errs.BadRequest("granularity must be day, month or year, got %q", s)
}

// Bucket is the UTC calendar period of t.
func (g Granularity) Bucket(t time.Time) string {
	t = t.UTC()
	switch g {
	case Year:
		return t.Format("2006")
	case Month:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// Point is one bucket of a revenue series.
type Point struct {
	Period  string      `json:"period"`
	Revenue money.Money `json:"revenue"`
}

// Row is the sales total of one game or publisher.
type Row struct {
	ID        string      `json:"id"`
	Name      string      `json:"name,omitempty"`
	Revenue   money.Money `json:"revenue"`
	UnitsSold int         `json:"units_sold"`
}

// Window bounds order dates. Both ends are inclusive; a zero end is open.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// KeyCounter counts keys per status.
type KeyCounter interface {
	CountByStatus(ctx context.Context, gameID string) (inventory.Counts, error)
}

// OrderSource reads orders and their details.
type OrderSource interface {
	ListByStatus(ctx context.Context, status string) ([]orders.Order, error)
	AllDetails(ctx context.Context) ([]orders.OrderDetail, error)
}

// GameSource reads catalog entries.
type GameSource interface {
	GetGame(ctx context.Context, gameID string) (*catalog.Game, error)
	ListByPublisher(ctx context.Context, publisherID string) ([]catalog.Game, error)
}

type Engine struct {
	keys   KeyCounter
	orders OrderSource
	games  GameSource
}

func NewEngine(keys KeyCounter, src OrderSource, games GameSource) *Engine {
	return &Engine{keys: keys, orders: src, games: games}
}

// sale is one sold unit of a game.
type sale struct {
	orderDate time.Time
	gameID    string
	value     money.Money
}

// sales lists every unit sold by Completed orders inside w. The details
// table is read in one scan and joined to the orders in memory. An order's
// details are authoritative; legacy embedded items are read only for orders
// that have no details.
func (e *Engine) sales(ctx context.Context, w Window) ([]sale, error) {
	completed, err := e.orders.ListByStatus(ctx, orders.StatusCompleted)
	if err != nil {
		return nil, err
	}
	inWindow := make(map[string]*orders.Order, len(completed))
	for i := range completed {
		if w.contains(completed[i].OrderDate) {
			inWindow[completed[i].OrderID] = &completed[i]
		}
	}
	if len(inWindow) == 0 {
		return nil, nil
	}

	details, err := e.orders.AllDetails(ctx)
	if err != nil {
		return nil, err
	}
	var out []sale
	detailed := make(map[string]bool, len(inWindow))
	for _, d := range details {
		o, ok := inWindow[d.OrderID]
		if !ok {
			continue
		}
		detailed[d.OrderID] = true
		out = append(out, sale{orderDate: o.OrderDate, gameID: d.GameID, value: d.Value})
	}
	for id, o := range inWindow {
		if detailed[id] {
			continue
		}
		for _, it := range o.Items {
			out = append(out, sale{orderDate: o.OrderDate, gameID: it.GameID, value: it.Price})
		}
	}
	return out, nil
}

// KeyStats returns the key-status counts of each game.
func (e *Engine) KeyStats(ctx context.Context, gameIDs []string) (map[string]inventory.Counts, error) {
	out := make(map[string]inventory.Counts, len(gameIDs))
	for _, id := range gameIDs {
		if _, done := out[id]; done {
			continue
		}
		c, err := e.keys.CountByStatus(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("key stats of game %s: %w", id, err)
		}
		out[id] = c
	}
	return out, nil
}

// RevenueSeries buckets the revenue of gameIDs by calendar period. Periods
// without revenue are left out and the rest come in ascending order.
func (e *Engine) RevenueSeries(ctx context.Context, gameIDs []string, g Granularity, w Window) ([]Point, error) {
	wanted := set(gameIDs)
	sales, err := e.sales(ctx, w)
	if err != nil {
		return nil, err
	}
	buckets := map[string]money.Money{}
	for _, s := range sales {
		if !wanted[s.gameID] {
			continue
		}
		buckets[g.Bucket(s.orderDate)] += s.value
	}
	points := make([]Point, 0, len(buckets))
	for period, revenue := range buckets {
		if revenue == 0 {
			continue
		}
		points = append(points, Point{Period: period, Revenue: revenue})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Period < points[j].Period })
	return points, nil
}

// TopN orders rows by revenue, then units sold, then id, and keeps the
// first n. n <= 0 keeps every row. rows is not modified.
func TopN(rows []Row, n int) []Row {
	out := append([]Row(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Revenue != b.Revenue {
			return a.Revenue > b.Revenue
		}
		if a.UnitsSold != b.UnitsSold {
			return a.UnitsSold > b.UnitsSold
		}
		return a.ID < b.ID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// GameSales totals revenue and units per game. Every requested game gets a
// row, sold or not.
func (e *Engine) GameSales(ctx context.Context, gameIDs []string, w Window) ([]Row, error) {
	sales, err := e.sales(ctx, w)
	if err != nil {
		return nil, err
	}
	rows := map[string]*Row{}
	order := make([]string, 0, len(gameIDs))
	for _, id := range gameIDs {
		if _, dup := rows[id]; dup {
			continue
		}
		name, err := e.title(ctx, id)
		if err != nil {
			return nil, err
		}
		rows[id] = &Row{ID: id, Name: name}
		order = append(order, id)
	}
	for _, s := range sales {
		if r, ok := rows[s.gameID]; ok {
			r.Revenue += s.value
			r.UnitsSold++
		}
	}
	out := make([]Row, 0, len(order))
	for _, id := range order {
		out = append(out, *rows[id])
	}
	return out, nil
}

// PublisherSales totals revenue and units per publisher across all games.
// Sales of games missing from the catalog are skipped.
func (e *Engine) PublisherSales(ctx context.Context, w Window) ([]Row, error) {
	sales, err := e.sales(ctx, w)
	if err != nil {
		return nil, err
	}
	publisherOf := map[string]string{}
	rows := map[string]*Row{}
	for _, s := range sales {
		pub, seen := publisherOf[s.gameID]
		if !seen {
			g, err := e.games.GetGame(ctx, s.gameID)
			switch {
			case errors.Is(err, errs.ErrNotFound):
				log.Printf("[stats] sale of unknown game=%s skipped", s.gameID)
			case err != nil:
				return nil, err
			default:
				pub = g.PublisherID
			}
			publisherOf[s.gameID] = pub
		}
		if pub == "" {
			continue
		}
		r, ok := rows[pub]
		if !ok {
			r = &Row{ID: pub}
			rows[pub] = r
		}
		r.Revenue += s.value
		r.UnitsSold++
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Summary is a publisher dashboard.
type Summary struct {
	PublisherID string                      `json:"publisher_id"`
	Games       int                         `json:"games"`
	Keys        inventory.Counts            `json:"keys"`
	KeysByGame  map[string]inventory.Counts `json:"keys_by_game"`
	Revenue     money.Money                 `json:"revenue"`
	UnitsSold   int                         `json:"units_sold"`
	TopGames    []Row                       `json:"top_games"`
}

// PublisherSummary combines key stats and sales of every game the
// publisher owns.
func (e *Engine) PublisherSummary(ctx context.Context, publisherID string, w Window, top int) (*Summary, error) {
	games, err := e.games.ListByPublisher(ctx, publisherID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(games))
	for _, g := range games {
		ids = append(ids, g.GameID)
	}

	keys, err := e.KeyStats(ctx, ids)
	if err != nil {
		return nil, err
	}
	sum := &Summary{PublisherID: publisherID, Games: len(games), KeysByGame: keys}
	for _, c := range keys {
		sum.Keys.Available += c.Available
		sum.Keys.Reserved += c.Reserved
		sum.Keys.Sold += c.Sold
		sum.Keys.Total += c.Total
	}

	rows, err := e.GameSales(ctx, ids, w)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		sum.Revenue += r.Revenue
		sum.UnitsSold += r.UnitsSold
	}
	sum.TopGames = TopN(rows, top)
	return sum, nil
}

func (e *Engine) title(ctx context.Context, gameID string) (string, error) {
	g, err := e.games.GetGame(ctx, gameID)
	if errors.Is(err, errs.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return g.Title, nil
}

func set(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
