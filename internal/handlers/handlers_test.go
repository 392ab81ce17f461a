package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/accounts"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/catalog"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/dynamotest"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/events"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/inventory"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/orders"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/stats"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, ev events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type testAPI struct {
	router *gin.Engine
	fake   *dynamotest.Fake
	inv    *inventory.Store
	events *recordingPublisher
}

func setupAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := dynamotest.New()
	for table, key := range map[string]string{
		"customers":      "customer_id",
		"games":          "game_id",
		"game_keys":      "key_id",
		"game_key_codes": "code_ref",
		"game_ownership": "ownership_ref",
		"orders":         "order_id",
		"order_details":  "detail_id",
		"idempotency":    "idempotency_key",
	} {
		f.CreateTable(table, key)
	}

	inv := inventory.NewStore(f, "game_keys", "game_key_codes", "game_ownership")
	cat := catalog.NewStore(f, "games")
	orderStore := orders.NewStore(f, "orders", "order_details")
	idem := idempotency.NewStore(f, "idempotency", 48*time.Hour)
	pub := &recordingPublisher{}

	r := gin.New()
	RegisterRoutes(r, HandlerConfig{
		Ledger:      orders.NewLedger(orderStore, inv, accounts.NewStore(f, "customers"), cat, idem),
		Inventory:   inv,
		Catalog:     cat,
		Stats:       stats.NewEngine(inv, orderStore, cat),
		Idempotency: idem,
		Publisher:   pub,
	})

	require.NoError(t, f.Seed("customers", accounts.Customer{CustomerID: "c1", Balance: 10000, Status: accounts.StatusActive}))
	require.NoError(t, f.Seed("customers", accounts.Customer{CustomerID: "poor", Balance: 5000, Status: accounts.StatusActive}))
	for _, g := range []catalog.Game{
		{GameID: "g1", Title: "Alpha", PublisherID: "p1", Price: 1999, Status: catalog.StatusReleased},
		{GameID: "g2", Title: "Beta", PublisherID: "p1", Price: 5999, Status: catalog.StatusReleased},
		{GameID: "g3", Title: "Gamma", PublisherID: "p2", Price: 999, Status: catalog.StatusReleased},
	} {
		require.NoError(t, f.Seed("games", g))
	}
	return &testAPI{router: r, fake: f, inv: inv, events: pub}
}

func (a *testAPI) keys(t *testing.T, gameID string, n int) {
	t.Helper()
	_, err := a.inv.CreateBatch(context.Background(), gameID, "1.0", n)
	require.NoError(t, err)
}

func (a *testAPI) do(method, path, account string, role Role, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if account != "" {
		req.Header.Set(HeaderAccountID, account)
		req.Header.Set(HeaderAccountRole, string(role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestCreateOrder_ThenHistoryAndLibrary(t *testing.T) {
	api := setupAPI(t)
	api.keys(t, "g1", 2)

	w := api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer,
		gin.H{"game_ids": []string{"g1"}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order orders.Order
	decode(t, w, &order)
	require.Equal(t, orders.StatusCompleted, order.Status)
	require.Equal(t, money.Money(1999), order.TotalValue)
	require.Len(t, order.Details, 1)
	require.Equal(t, "/customers/me/orders/"+order.OrderID, w.Header().Get("Location"))
	require.Contains(t, w.Body.String(), `"total_value":19.99`)

	require.Len(t, api.events.events, 1)
	require.Equal(t, events.TypeOrderCompleted, api.events.events[0].Type)
	require.Equal(t, order.Details[0].GameKeyID, api.events.events[0].Items[0].KeyID)

	w = api.do(http.MethodGet, "/customers/me/orders", "c1", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Orders []orders.Order `json:"orders"`
	}
	decode(t, w, &history)
	require.Len(t, history.Orders, 1)
	require.Equal(t, order.OrderID, history.Orders[0].OrderID)

	w = api.do(http.MethodGet, "/customers/me/orders/"+order.OrderID, "c1", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = api.do(http.MethodGet, "/customers/me/orders/"+order.OrderID, "other", RoleCustomer, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodGet, "/customers/me/library", "c1", RoleCustomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var lib struct {
		Games []orders.LibraryEntry `json:"games"`
	}
	decode(t, w, &lib)
	require.Len(t, lib.Games, 1)
	require.Equal(t, "Alpha", lib.Games[0].Title)

	w = api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer,
		gin.H{"game_ids": []string{"g1"}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), `"error":"already_owned"`)
}

func TestCreateOrder_IdempotencyReplay(t *testing.T) {
	api := setupAPI(t)
	api.keys(t, "g1", 3)
	body := gin.H{"game_ids": []string{"g1"}, "payment_method": "Wallet"}

	first := api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer, body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	again := api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer, body, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, again.Code)
	require.JSONEq(t, first.Body.String(), again.Body.String())
	require.Len(t, api.fake.Items("orders"), 1)

	changed := api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer,
		gin.H{"game_ids": []string{"g1"}, "payment_method": "PayPal"}, "Idempotency-Key", "abc")
	require.Equal(t, http.StatusUnprocessableEntity, changed.Code)

	counts, err := api.inv.CountByStatus(context.Background(), "g1")
	require.NoError(t, err)
	require.Equal(t, inventory.Counts{Available: 2, Sold: 1, Total: 3}, counts)
}

func TestCreateOrder_FailuresMapToStatus(t *testing.T) {
	api := setupAPI(t)
	api.keys(t, "g2", 1)

	w := api.do(http.MethodPost, "/customers/me/orders", "poor", RoleCustomer,
		gin.H{"game_ids": []string{"g2"}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Contains(t, w.Body.String(), `"error":"insufficient_funds"`)
	require.Empty(t, api.events.events)

	w = api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer,
		gin.H{"game_ids": []string{"g2", "g1"}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusConflict, w.Code)
	var body map[string]string
	decode(t, w, &body)
	require.Equal(t, "game_unavailable", body["error"])
	require.Equal(t, "out_of_stock", body["reason"])
	require.NotEmpty(t, body["order_id"])

	require.Len(t, api.events.events, 1)
	require.Equal(t, events.TypeOrderFailed, api.events.events[0].Type)
	require.Equal(t, "game_unavailable/out_of_stock", api.events.events[0].Reason)

	counts, err := api.inv.CountByStatus(context.Background(), "g2")
	require.NoError(t, err)
	require.Equal(t, inventory.Counts{Available: 1, Total: 1}, counts)

	w = api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer,
		gin.H{"game_ids": []string{}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "validation_failed")

	w = api.do(http.MethodPost, "/customers/me/orders", "ghost", RoleCustomer,
		gin.H{"game_ids": []string{"g2"}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequireRole(t *testing.T) {
	api := setupAPI(t)

	w := api.do(http.MethodGet, "/customers/me/orders", "", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = api.do(http.MethodGet, "/customers/me/orders", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/admin/dashboard/top-publishers", "c1", RoleCustomer, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestPublisherKeys(t *testing.T) {
	api := setupAPI(t)

	w := api.do(http.MethodPost, "/publisher/games/g1/keys", "p1", RolePublisher, gin.H{"version": "1.0", "quantity": 5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Count  int      `json:"count"`
		KeyIDs []string `json:"key_ids"`
	}
	decode(t, w, &created)
	require.Equal(t, 5, created.Count)
	require.Len(t, created.KeyIDs, 5)

	w = api.do(http.MethodGet, "/publisher/games/g1/keys/stats", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Keys inventory.Counts `json:"keys"`
	}
	decode(t, w, &got)
	require.Equal(t, inventory.Counts{Available: 5, Total: 5}, got.Keys)

	w = api.do(http.MethodGet, "/publisher/games/g1/keys/stats", "p2", RolePublisher, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/publisher/games/g1/keys/stats", "root", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/publisher/games/g1/keys", "p1", RolePublisher, gin.H{"version": "1.0", "quantity": 501})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/publisher/games/nope/keys", "p1", RolePublisher, gin.H{"version": "1.0", "quantity": 1})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDashboards(t *testing.T) {
	api := setupAPI(t)
	api.keys(t, "g1", 3)
	api.keys(t, "g3", 1)

	for _, games := range [][]string{{"g1"}, {"g3"}} {
		w := api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer, gin.H{"game_ids": games, "payment_method": "Wallet"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := api.do(http.MethodGet, "/publisher/dashboard/revenue?granularity=year", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var rev struct {
		Series []stats.Point `json:"series"`
	}
	decode(t, w, &rev)
	require.Len(t, rev.Series, 1)
	require.Equal(t, money.Money(1999), rev.Series[0].Revenue)

	w = api.do(http.MethodGet, "/publisher/dashboard/revenue?gameId=g3", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/publisher/dashboard/revenue?from=2024-06-02&to=2024-06-01", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/publisher/dashboard/revenue?gameId=g1&gameId=g3&granularity=month", "root", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &rev)
	require.Len(t, rev.Series, 1)
	require.Equal(t, money.Money(1999+999), rev.Series[0].Revenue)

	w = api.do(http.MethodGet, "/publisher/dashboard/summary", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sum stats.Summary
	decode(t, w, &sum)
	require.Equal(t, 2, sum.Games)
	require.Equal(t, inventory.Counts{Available: 2, Sold: 1, Total: 3}, sum.Keys)
	require.Equal(t, money.Money(1999), sum.Revenue)
	require.Equal(t, "g1", sum.TopGames[0].ID)

	w = api.do(http.MethodGet, "/admin/dashboard/top-publishers?n=1", "root", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var top struct {
		Publishers []stats.Row `json:"publishers"`
	}
	decode(t, w, &top)
	require.Equal(t, []stats.Row{{ID: "p1", Revenue: 1999, UnitsSold: 1}}, top.Publishers)
}

func TestAdminRefund(t *testing.T) {
	api := setupAPI(t)
	api.keys(t, "g1", 1)

	w := api.do(http.MethodPost, "/customers/me/orders", "c1", RoleCustomer, gin.H{"game_ids": []string{"g1"}, "payment_method": "Wallet"})
	require.Equal(t, http.StatusCreated, w.Code)
	var order orders.Order
	decode(t, w, &order)

	w = api.do(http.MethodPost, "/admin/orders/"+order.OrderID+"/refund", "root", RoleAdmin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, "/admin/orders/missing/refund", "root", RoleAdmin, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = api.do(http.MethodGet, "/publisher/dashboard/revenue", "p1", RolePublisher, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"series":[]`)
}

func TestOrderEventBuilders(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	o := &orders.Order{
		OrderID: "o1", CustomerID: "c1", TransactionID: "TXN-1", PaymentMethod: orders.MethodWallet, TotalValue: 1999,
		Details: []orders.OrderDetail{{GameID: "g1", GameKeyID: "k1", Value: 1999}},
	}

	done := completedEvent(o, at)
	require.Equal(t, events.TypeOrderCompleted, done.Type)
	require.Equal(t, []events.Item{{GameID: "g1", KeyID: "k1", Value: 1999}}, done.Items)
	require.Equal(t, "Wallet", done.PaymentMethod)
	require.Equal(t, time.UTC, done.OccurredAt.Location())

	o.FailureReason = "internal_error"
	failed := failedEvent(o, []string{"k9"}, at)
	require.Equal(t, events.TypeOrderFailed, failed.Type)
	require.Equal(t, "internal_error", failed.Reason)
	require.Equal(t, []string{"k9"}, failed.OrphanedKeyIDs)
	require.Empty(t, failed.Items)
}
