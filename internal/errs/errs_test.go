package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("create order: %w", New(KindInsufficientFunds, "balance %s", "10.00"))

	require.ErrorIs(t, err, ErrInsufficientFunds)
	require.NotErrorIs(t, err, ErrOutOfStock)
	require.Equal(t, KindInsufficientFunds, KindOf(err))
}

func TestIs_SoldOutMatchesBothKinds(t *testing.T) {
	err := SoldOut("g1", New(KindOutOfStock, "no keys"))

	require.ErrorIs(t, err, ErrGameUnavailable)
	require.ErrorIs(t, err, ErrOutOfStock)
	require.Contains(t, err.Error(), "g1")

	nr := NotReleased("g2")
	require.ErrorIs(t, nr, ErrGameUnavailable)
	require.NotErrorIs(t, nr, ErrOutOfStock)
	require.ErrorIs(t, nr, &Error{Kind: KindGameUnavailable, Reason: ReasonNotReleased})
	require.NotErrorIs(t, nr, &Error{Kind: KindGameUnavailable, Reason: ReasonOutOfStock})
}

func TestKindOf_Untyped(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("dial tcp: timeout")))
}
