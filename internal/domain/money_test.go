package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	m, err := NewMoney(1990, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(1990), m.Amount)
	assert.Equal(t, "BRL", m.Currency)

	_, err = NewMoney(0, "BRL")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewMoney(-500, "BRL")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewMoney(100, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMoneyAdd(t *testing.T) {
	a := Money{Amount: 1000, Currency: "BRL"}
	b := Money{Amount: 2500, Currency: "BRL"}

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, Money{Amount: 3500, Currency: "BRL"}, sum)

	_, err = a.Add(Money{Amount: 100, Currency: "USD"})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = a.Add(Money{Amount: 0, Currency: "BRL"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSumMoney(t *testing.T) {
	total, err := SumMoney([]Money{
		{Amount: 100, Currency: "BRL"},
		{Amount: 200, Currency: "BRL"},
		{Amount: 300, Currency: "BRL"},
	})
	require.NoError(t, err)
	assert.Equal(t, Money{Amount: 600, Currency: "BRL"}, total)

	_, err = SumMoney(nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = SumMoney([]Money{
		{Amount: 100, Currency: "BRL"},
		{Amount: 200, Currency: "USD"},
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMoneyCompare(t *testing.T) {
	a := Money{Amount: 100, Currency: "BRL"}
	b := Money{Amount: 200, Currency: "BRL"}

	cmp, err := a.Compare(b)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = b.Compare(a)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	cmp, err = a.Compare(a)
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	_, err = a.Compare(Money{Amount: 100, Currency: "USD"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestChargeTotalAmount(t *testing.T) {
	charge := Charge{
		Items: []ChargeItem{
			{Amount: Money{Amount: 5000, Currency: "BRL"}},
			{Amount: Money{Amount: 1500, Currency: "BRL"}},
		},
	}

	total, err := charge.TotalAmount()
	require.NoError(t, err)
	assert.Equal(t, Money{Amount: 6500, Currency: "BRL"}, total)

	var empty Charge
	_, err = empty.TotalAmount()
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
