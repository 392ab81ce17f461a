package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-gamestore-orderflow/internal/dynamotest"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/errs"
	"github.com/imrishuroy/go-gamestore-orderflow/internal/money"
)

func newTestStore(t *testing.T, customers ...Customer) *Store {
	t.Helper()
	f := dynamotest.New()
	f.CreateTable("customers", "customer_id")
	for _, c := range customers {
		require.NoError(t, f.Seed("customers", c))
	}
	return NewStore(f, "customers")
}

func TestDebitWallet_InsufficientLeavesBalance(t *testing.T) {
	s := newTestStore(t, Customer{CustomerID: "c1", Balance: 5000, Status: StatusActive})
	ctx := context.Background()

	err := s.DebitWallet(ctx, "c1", 5999)
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, money.Money(5000), c.Balance)
}

func TestDebitWallet_ConcurrentNeverNegative(t *testing.T) {
	s := newTestStore(t, Customer{CustomerID: "c1", Balance: 10000, Status: StatusActive})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, short int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.DebitWallet(ctx, "c1", 3000)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, errs.ErrInsufficientFunds):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 3, ok)
	require.Equal(t, 5, short)
	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, money.Money(1000), c.Balance)
}

func TestDebitAndCredit_UnknownCustomer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.ErrorIs(t, s.DebitWallet(ctx, "ghost", 100), errs.ErrNotFound)
	require.ErrorIs(t, s.CreditWallet(ctx, "ghost", 100), errs.ErrNotFound)
	_, err := s.GetCustomer(ctx, "ghost")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreditWallet_RestoresBalance(t *testing.T) {
	s := newTestStore(t, Customer{CustomerID: "c1", Balance: 1000, Status: StatusActive})
	ctx := context.Background()

	require.NoError(t, s.DebitWallet(ctx, "c1", 400))
	require.NoError(t, s.CreditWallet(ctx, "c1", 400))

	c, err := s.GetCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, money.Money(1000), c.Balance)
	require.True(t, c.Active())
}
