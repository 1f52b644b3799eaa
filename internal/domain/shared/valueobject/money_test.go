package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	t.Run("creates money with amount and currency", func(t *testing.T) {
		m, err := NewMoney(decimal.NewFromFloat(99.99), USD)
		require.NoError(t, err)
		assert.Equal(t, USD, m.Currency())
		assert.Equal(t, "99.99", m.StringFixed(2))
	})

	t.Run("rejects empty currency", func(t *testing.T) {
		_, err := NewMoney(decimal.NewFromInt(1), "")
		assert.Error(t, err)
	})

	t.Run("from string", func(t *testing.T) {
		m, err := NewMoneyFromString("12.345", EUR)
		require.NoError(t, err)
		assert.Equal(t, "12.35", m.StringFixed(2))

		_, err = NewMoneyFromString("not-a-number", EUR)
		assert.Error(t, err)
	})

	t.Run("allows negative amounts", func(t *testing.T) {
		m, err := NewMoneyFromString("-10.00", USD)
		require.NoError(t, err)
		assert.True(t, m.IsNegative())
	})
}

func TestMoney_Add(t *testing.T) {
	t.Run("adds amounts of the same currency", func(t *testing.T) {
		a, _ := NewMoneyFromString("100.00", USD)
		b, _ := NewMoneyFromString("25.50", USD)

		sum, err := a.Add(b)
		require.NoError(t, err)
		assert.Equal(t, "125.50", sum.StringFixed(2))
		// a is unchanged: Money is immutable
		assert.Equal(t, "100.00", a.StringFixed(2))
	})

	t.Run("rejects different currencies", func(t *testing.T) {
		a, _ := NewMoneyFromString("100.00", USD)
		b, _ := NewMoneyFromString("25.50", EUR)

		_, err := a.Add(b)
		assert.Error(t, err)
	})
}

func TestMoney_Zero(t *testing.T) {
	z := Zero(USD)
	assert.True(t, z.IsZero())
	assert.Equal(t, USD, z.Currency())
}

func TestMoney_Equals(t *testing.T) {
	a, _ := NewMoneyFromString("10.0", USD)
	b, _ := NewMoneyFromString("10.00", USD)
	c, _ := NewMoneyFromString("10.00", EUR)

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
}

func TestMoney_JSON(t *testing.T) {
	m, _ := NewMoneyFromString("42.42", GBP)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"42.42","currency":"GBP"}`, string(data))

	var got Money
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, m.Equals(got))
}

func TestMoney_String(t *testing.T) {
	m, _ := NewMoneyFromString("5", JPY)
	assert.Equal(t, "5.00 JPY", m.String())
}
