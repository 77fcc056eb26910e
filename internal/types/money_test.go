package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"12345.67", 1234567, true},
		{"5000", 500000, true},
		{"0.1", 10, true},
		{"-3.5", -350, true},
		{"1.234", 0, false},
		{"1.", 0, false},
		{".5", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"1e3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		m, err := ParseMoney(tc.in, CurrencyXOF)
		if !tc.ok {
			assert.ErrorIs(t, err, ErrInvalidMoney, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, m.Amount, tc.in)
	}
}

func TestMoneyDecimal(t *testing.T) {
	assert.Equal(t, "12345.67", XOF(1234567).Decimal())
	assert.Equal(t, "0.05", XOF(5).Decimal())
	assert.Equal(t, "-1.00", XOF(-100).Decimal())
	assert.Equal(t, "5000.00 XOF", XOF(500000).String())
}

func TestApplyBasisPoints(t *testing.T) {
	assert.Equal(t, int64(200000), XOF(1000000).ApplyBasisPoints(2000).Amount)
	// 1234567 * 0.3 = 370370.1
	assert.Equal(t, int64(370370), XOF(1234567).ApplyBasisPoints(3000).Amount)
	// 5 * 0.3 = 1.5 rounds half up
	assert.Equal(t, int64(2), XOF(5).ApplyBasisPoints(3000).Amount)
	// 1 * 0.2 = 0.2 rounds down
	assert.Equal(t, int64(0), XOF(1).ApplyBasisPoints(2000).Amount)
}
