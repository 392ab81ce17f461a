package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/accounts"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/catalog"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/inventory"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
)

// MaxGamesPerOrder bounds one checkout so its commit (three items per game
// plus the order) fits a single transaction.
const MaxGamesPerOrder = 25

// Inventory is the part of the key inventory the ledger drives.
type Inventory interface {
	ReserveOne(ctx context.Context, gameID, orderID string) (string, error)
	ReleaseReservation(ctx context.Context, keyID string) error
	ConfirmSaleTx(keyID, customerID string, saleTime time.Time) types.TransactWriteItem
	ClaimOwnershipTx(customerID, gameID, keyID, orderID string, at time.Time) (types.TransactWriteItem, error)
	CustomerAlreadyOwns(ctx context.Context, gameID, customerID string) (bool, error)
	ListOwned(ctx context.Context, customerID string) ([]inventory.GameKey, error)
}

// Accounts looks up customers and moves wallet funds.
type Accounts interface {
	GetCustomer(ctx context.Context, customerID string) (*accounts.Customer, error)
	DebitWallet(ctx context.Context, customerID string, amount money.Money) error
	CreditWallet(ctx context.Context, customerID string, amount money.Money) error
}

// Catalog looks up games.
type Catalog interface {
	GetGame(ctx context.Context, gameID string) (*catalog.Game, error)
}

// Claims builds idempotency claims written together with a new order.
type Claims interface {
	NewRecord(key, customerID, orderID, requestHash string) idempotency.IdempotencyRecord
	ClaimPut(rec idempotency.IdempotencyRecord) (types.TransactWriteItem, error)
}

// CompensationError reports rollback steps that did not go through. Keys in
// OrphanedKeyIDs may still be Reserved and need an operator.
type CompensationError struct {
	OrderID        string
	OrphanedKeyIDs []string
	Err            error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation incomplete for order %s (orphaned keys %v): %v", e.OrderID, e.OrphanedKeyIDs, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// Ledger orchestrates checkout: reserve keys, charge, commit or roll back.
type Ledger struct {
	store     *Store
	inventory Inventory
	accounts  Accounts
	catalog   Catalog
	claims    Claims
	nowFunc   func() time.Time
}

// NewLedger wires the ledger. claims may be nil, in which case idempotency
// keys are ignored.
func NewLedger(store *Store, inv Inventory, acc Accounts, cat Catalog, claims Claims) *Ledger {
	return &Ledger{
		store:     store,
		inventory: inv,
		accounts:  acc,
		catalog:   cat,
		claims:    claims,
		nowFunc:   time.Now,
	}
}

// CreateOrderInput is one checkout request.
type CreateOrderInput struct {
	CustomerID     string
	PaymentMethod  PaymentMethod
	GameIDs        []string
	IdempotencyKey string
}

func (in CreateOrderInput) validate() error {
	if in.CustomerID == "" {
		return errs.BadRequest("customer id is required")
	}
	if !in.PaymentMethod.Valid() {
		return errs.BadRequest("unknown payment method %q", in.PaymentMethod)
	}
	if len(in.GameIDs) == 0 {
		return errs.BadRequest("at least one game is required")
	}
	if len(in.GameIDs) > MaxGamesPerOrder {
		return errs.BadRequest("at most %d games per order", MaxGamesPerOrder)
	}
	seen := make(map[string]bool, len(in.GameIDs))
	for _, id := range in.GameIDs {
		if id == "" {
			return errs.BadRequest("empty game id")
		}
		if seen[id] {
			return errs.BadRequest("game %s requested twice", id)
		}
		seen[id] = true
	}
	return nil
}

type line struct {
	gameID string
	price  money.Money
	keyID  string
}

// CreateOrder runs a checkout. On success the returned order is Completed
// and carries its details. Once the Pending order exists, failures return
// the Failed order alongside the error.
func (l *Ledger) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	customer, err := l.accounts.GetCustomer(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if !customer.Active() {
		return nil, errs.New(errs.KindAccountInactive, "customer %s is %s", customer.CustomerID, customer.Status)
	}

	lines := make([]line, 0, len(in.GameIDs))
	for _, gameID := range in.GameIDs {
		game, err := l.catalog.GetGame(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if !game.Released() {
			return nil, errs.NotReleased(gameID)
		}
		owns, err := l.inventory.CustomerAlreadyOwns(ctx, gameID, in.CustomerID)
		if err != nil {
			return nil, err
		}
		if owns {
			return nil, errs.New(errs.KindAlreadyOwned, "customer already owns game %s", gameID)
		}
		lines = append(lines, line{gameID: gameID, price: game.EffectivePrice()})
	}

	var total money.Money
	for _, ln := range lines {
		total += ln.price
	}

	if in.PaymentMethod == MethodWallet {
		if customer.Balance < total {
			return nil, errs.New(errs.KindInsufficientFunds, "balance %s does not cover %s", customer.Balance, total)
		}
	} else {
		log.Printf("[orders] customer=%s method=%s total=%s: no payment gateway, order is not charged", in.CustomerID, in.PaymentMethod, total)
	}

	now := l.nowFunc().UTC()
	order := Order{
		OrderID:       uuid.NewString(),
		CustomerID:    in.CustomerID,
		OrderDate:     now,
		TotalValue:    total,
		PaymentMethod: in.PaymentMethod,
		TransactionID: newTransactionID(now),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := l.persistPending(ctx, in, order); err != nil {
		return nil, err
	}

	reserved := make([]string, 0, len(lines))
	for i := range lines {
		keyID, err := l.inventory.ReserveOne(ctx, lines[i].gameID, order.OrderID)
		if err != nil {
			if errors.Is(err, errs.ErrOutOfStock) {
				err = errs.SoldOut(lines[i].gameID, err)
			}
			return l.abort(ctx, &order, reserved, 0, err)
		}
		lines[i].keyID = keyID
		reserved = append(reserved, keyID)
	}

	var charged money.Money
	if in.PaymentMethod == MethodWallet && total > 0 {
		if err := l.accounts.DebitWallet(ctx, in.CustomerID, total); err != nil {
			return l.abort(ctx, &order, reserved, 0, err)
		}
		charged = total
	}

	saleTime := l.nowFunc().UTC()
	details := make([]OrderDetail, 0, len(lines))
	items := make([]types.TransactWriteItem, 0, 3*len(lines)+1)
	claims := make(map[int]string, len(lines))
	for _, ln := range lines {
		d := OrderDetail{
			DetailID:  uuid.NewString(),
			OrderID:   order.OrderID,
			GameID:    ln.gameID,
			GameKeyID: ln.keyID,
			Value:     ln.price,
			CreatedAt: saleTime,
		}
		put, err := l.store.DetailTx(d)
		if err != nil {
			return l.abort(ctx, &order, reserved, charged, err)
		}
		claim, err := l.inventory.ClaimOwnershipTx(in.CustomerID, ln.gameID, ln.keyID, order.OrderID, saleTime)
		if err != nil {
			return l.abort(ctx, &order, reserved, charged, err)
		}
		details = append(details, d)
		items = append(items, l.inventory.ConfirmSaleTx(ln.keyID, in.CustomerID, saleTime), put)
		claims[len(items)] = ln.gameID
		items = append(items, claim)
	}
	items = append(items, l.store.CompleteTx(order.OrderID, saleTime))

	if err := l.store.Commit(ctx, order.OrderID, items); err != nil {
		done, cerr := l.committed(ctx, order.OrderID, err)
		if cerr != nil {
			log.Printf("[orders] order=%s commit outcome unknown, reserved keys=%v left as is: %v", order.OrderID, reserved, cerr)
			return &order, cerr
		}
		if !done {
			return l.abort(ctx, &order, reserved, charged, commitFailure(order.OrderID, err, claims))
		}
	}

	order.Status = StatusCompleted
	order.UpdatedAt = saleTime
	order.Details = details
	log.Printf("[orders] completed order=%s customer=%s txn=%s total=%s keys=%d", order.OrderID, order.CustomerID, order.TransactionID, order.TotalValue, len(details))
	return &order, nil
}

func (l *Ledger) persistPending(ctx context.Context, in CreateOrderInput, order Order) error {
	if in.IdempotencyKey == "" || l.claims == nil {
		return l.store.Create(ctx, order)
	}
	hash := idempotency.RequestHash(in.CustomerID, string(in.PaymentMethod), in.GameIDs)
	claim, err := l.claims.ClaimPut(l.claims.NewRecord(in.IdempotencyKey, in.CustomerID, order.OrderID, hash))
	if err != nil {
		return err
	}
	err = l.store.CreateWithIdempotencyTransaction(ctx, claim, order)
	if errors.Is(err, ErrDuplicateRequest) {
		return &errs.Error{Kind: errs.KindConflict, Msg: "idempotency key " + in.IdempotencyKey + " already used", Err: err}
	}
	return err
}

// committed resolves a commit call that returned an error. A rejected
// transaction did not apply. Any other error may hide a commit that did, so
// the order is read back.
func (l *Ledger) committed(ctx context.Context, orderID string, commitErr error) (bool, error) {
	if errors.Is(commitErr, ErrCommitRejected) {
		return false, nil
	}
	cur, err := l.store.Get(context.WithoutCancel(ctx), orderID)
	if err != nil {
		return false, fmt.Errorf("commit order %s: %w", orderID, errors.Join(commitErr, err))
	}
	return cur != nil && cur.Status == StatusCompleted, nil
}

// abort undoes a partial checkout: refunds a debit, releases every
// reservation and marks the order Failed. It keeps going past individual
// failures and reports them joined with cause.
func (l *Ledger) abort(ctx context.Context, order *Order, keyIDs []string, charged money.Money, cause error) (*Order, error) {
	ctx = context.WithoutCancel(ctx)

	var problems []error
	if charged > 0 {
		if err := l.accounts.CreditWallet(ctx, order.CustomerID, charged); err != nil {
			problems = append(problems, fmt.Errorf("refund %s: %w", charged, err))
		}
	}
	var orphaned []string
	for _, keyID := range keyIDs {
		if err := l.inventory.ReleaseReservation(ctx, keyID); err != nil {
			orphaned = append(orphaned, keyID)
			problems = append(problems, fmt.Errorf("release key %s: %w", keyID, err))
		}
	}
	reason := failureReason(cause)
	if err := l.store.MarkFailed(ctx, order.OrderID, reason); err != nil {
		problems = append(problems, fmt.Errorf("mark failed: %w", err))
	} else {
		order.Status = StatusFailed
		order.FailureReason = reason
	}

	if len(problems) > 0 {
		cerr := &CompensationError{OrderID: order.OrderID, OrphanedKeyIDs: orphaned, Err: errors.Join(problems...)}
		log.Printf("[orders] %v", cerr)
		return order, errors.Join(cause, cerr)
	}
	log.Printf("[orders] failed order=%s customer=%s reason=%s", order.OrderID, order.CustomerID, reason)
	return order, cause
}

// commitFailure turns a failed commit into the abort cause. A rejected
// ownership claim means a concurrent order already sold the game to the
// customer.
func commitFailure(orderID string, err error, claims map[int]string) error {
	var rej *CommitRejectedError
	if errors.As(err, &rej) {
		for _, i := range rej.Failed {
			if gameID, ok := claims[i]; ok {
				return &errs.Error{Kind: errs.KindAlreadyOwned, Msg: "customer already owns game " + gameID, Err: err}
			}
		}
	}
	return fmt.Errorf("commit order %s: %w", orderID, err)
}

func failureReason(err error) string {
	var e *errs.Error
	if !errors.As(err, &e) {
		return "internal_error"
	}
	if e.Reason != "" {
		return string(e.Kind) + "/" + e.Reason
	}
	return string(e.Kind)
}

// newTransactionID is TXN-<utc timestamp>-<12 random hex>.
func newTransactionID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return "TXN-" + now.UTC().Format("20060102150405") + "-" + suffix
}

// GetOrderHistory returns every order of the customer, newest first, with
// details attached.
func (l *Ledger) GetOrderHistory(ctx context.Context, customerID string) ([]Order, error) {
	list, err := l.store.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].OrderDate.Equal(list[j].OrderDate) {
			return list[i].OrderDate.After(list[j].OrderDate)
		}
		return list[i].OrderID < list[j].OrderID
	})
	for i := range list {
		if list[i].Status != StatusCompleted && list[i].Status != StatusRefunded {
			continue
		}
		details, err := l.store.Details(ctx, list[i].OrderID)
		if err != nil {
			return nil, err
		}
		list[i].Details = details
	}
	return list, nil
}

// GetLibrary lists the keys the customer owns joined with their games.
// Keys whose game has left the catalog are listed without game metadata.
func (l *Ledger) GetLibrary(ctx context.Context, customerID string) ([]LibraryEntry, error) {
	keys, err := l.inventory.ListOwned(ctx, customerID)
	if err != nil {
		return nil, err
	}
	games := map[string]*catalog.Game{}
	entries := make([]LibraryEntry, 0, len(keys))
	for _, k := range keys {
		g, ok := games[k.GameID]
		if !ok {
			g, err = l.catalog.GetGame(ctx, k.GameID)
			if err != nil && !errors.Is(err, errs.ErrNotFound) {
				return nil, err
			}
			games[k.GameID] = g
		}
		e := LibraryEntry{
			GameID:           k.GameID,
			KeyID:            k.KeyID,
			KeyCode:          k.KeyCode,
			GameVersion:      k.GameVersion,
			ActivationStatus: k.ActivationStatus,
			OwnershipDate:    k.OwnershipDate,
		}
		if g != nil {
			e.Title = g.Title
			e.PublisherID = g.PublisherID
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Title != entries[j].Title {
			return entries[i].Title < entries[j].Title
		}
		return entries[i].GameID < entries[j].GameID
	})
	return entries, nil
}

// MarkRefunded moves a Completed order to Refunded. Keys stay Sold and no
// money moves.
func (l *Ledger) MarkRefunded(ctx context.Context, orderID string) error {
	err := l.store.UpdateStatus(ctx, orderID, StatusCompleted, StatusRefunded)
	if !errors.Is(err, ErrStatusMismatch) {
		return err
	}
	cur, gerr := l.store.Get(ctx, orderID)
	if gerr != nil {
		return gerr
	}
	if cur == nil {
		return errs.NotFound("order %s", orderID)
	}
	return errs.InvalidTransition("order %s is %s, only Completed orders can be refunded", orderID, cur.Status)
}

// GetOrder returns one order of customerID with its details.
func (l *Ledger) GetOrder(ctx context.Context, customerID, orderID string) (*Order, error) {
	o, err := l.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.CustomerID != customerID {
		return nil, errs.NotFound("order %s", orderID)
	}
	if o.Details, err = l.store.Details(ctx, orderID); err != nil {
		return nil, err
	}
	return o, nil
}
