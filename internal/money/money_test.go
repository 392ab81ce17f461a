package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	m, err := Parse("19.99")
	require.NoError(t, err)
	require.Equal(t, Money(1999), m)
	require.Equal(t, "39.98", Sum(m, m).String())
	require.Equal(t, "5.00", Money(500).String())

	_, err = Parse("1.999")
	require.Error(t, err)
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Total Money `json:"total"`
	}{Total: 5999})
	require.NoError(t, err)
	require.JSONEq(t, `{"total":59.99}`, string(b))

	var out struct {
		Total Money `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"total":"12.50"}`), &out))
	require.Equal(t, Money(1250), out.Total)
}
