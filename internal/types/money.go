// README: Common money value object used across modules.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CurrencyXOF is the platform currency.
const CurrencyXOF = "XOF"

// Money is an amount in minor units (hundredths) of Currency.
type Money struct {
	Amount   int64
	Currency string
}

var ErrInvalidMoney = errors.New("invalid money amount")

func XOF(minor int64) Money {
	return Money{Amount: minor, Currency: CurrencyXOF}
}

// ParseMoney reads a decimal string such as "12345.67" into minor units.
// At most two fractional digits are accepted; exponents, NaN and Inf are rejected.
func ParseMoney(s, currency string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidMoney
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" || (hasDot && (frac == "" || len(frac) > 2)) {
		return Money{}, ErrInvalidMoney
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return Money{}, ErrInvalidMoney
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w > (1<<62)/100 {
		return Money{}, ErrInvalidMoney
	}
	f, _ := strconv.ParseInt(frac, 10, 64)
	amount := w*100 + f
	if neg {
		amount = -amount
	}
	return Money{Amount: amount, Currency: currency}, nil
}

func (m Money) IsNegative() bool { return m.Amount < 0 }

func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount - o.Amount, Currency: m.Currency}
}

func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount + o.Amount, Currency: m.Currency}
}

// String renders "1234.56 XOF".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal(), m.Currency)
}

// Decimal renders the amount without currency, always with two fractional digits.
func (m Money) Decimal() string {
	a := m.Amount
	sign := ""
	if a < 0 {
		sign = "-"
		a = -a
	}
	return fmt.Sprintf("%s%d.%02d", sign, a/100, a%100)
}

// ApplyBasisPoints returns round_half_up(amount * bp / 10000) in the same currency.
// Amount must be non-negative.
func (m Money) ApplyBasisPoints(bp int64) Money {
	q := m.Amount / 10000 * bp
	r := m.Amount % 10000 * bp
	q += r / 10000
	if r%10000 >= 5000 {
		q++
	}
	return Money{Amount: q, Currency: m.Currency}
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
