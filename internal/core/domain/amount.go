package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAmountOverflow      = errors.New("amount overflow")
	ErrInvalidAmountFormat = errors.New("invalid amount format")
)

// RoundingMode selects how a higher-precision intermediate is scaled
// back down to cents.
type RoundingMode int

const (
	RoundHalfUp RoundingMode = iota
	RoundTruncate
	RoundHalfEven
)

// maxCents bounds the magnitude of any Amount. Arithmetic that would
// exceed it fails with ErrAmountOverflow instead of wrapping.
const maxCents = int64(1) << 53

// Amount is a signed monetary value with a fixed two-digit scale,
// stored as an integer number of cents. The zero value is $0.00.
type Amount struct {
	cents int64
}

func AmountFromCents(cents int64) (Amount, error) {
	if cents > maxCents || cents < -maxCents {
		return Amount{}, ErrAmountOverflow
	}
	return Amount{cents: cents}, nil
}

// AmountFromMajorMinor builds an Amount from whole units and cents.
// minor must be in [0, 99]; the sign is carried by major.
func AmountFromMajorMinor(major int64, minor int64) (Amount, error) {
	if minor < 0 || minor > 99 {
		return Amount{}, ErrInvalidAmountFormat
	}
	if major > maxCents/100 || major < -maxCents/100 {
		return Amount{}, ErrAmountOverflow
	}
	cents := major * 100
	if major < 0 {
		cents -= minor
	} else {
		cents += minor
	}
	return AmountFromCents(cents)
}

// ParseAmount parses decimal text such as "12.34", "-0.05" or "7".
// At most two fractional digits are accepted; no floating point is
// involved at any step.
func ParseAmount(s string) (Amount, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Amount{}, ErrInvalidAmountFormat
	}

	neg := false
	switch text[0] {
	case '-':
		neg = true
		text = text[1:]
	case '+':
		text = text[1:]
	}
	if text == "" {
		return Amount{}, ErrInvalidAmountFormat
	}

	whole := text
	frac := ""
	if i := strings.IndexByte(text, '.'); i >= 0 {
		whole, frac = text[:i], text[i+1:]
		if whole == "" || frac == "" || len(frac) > 2 {
			return Amount{}, ErrInvalidAmountFormat
		}
	}

	var cents int64
	for _, c := range []byte(whole) {
		if c < '0' || c > '9' {
			return Amount{}, ErrInvalidAmountFormat
		}
		cents = cents*10 + int64(c-'0')
		if cents > maxCents {
			return Amount{}, ErrAmountOverflow
		}
	}
	cents *= 100
	if cents > maxCents {
		return Amount{}, ErrAmountOverflow
	}

	switch len(frac) {
	case 1:
		frac += "0"
	case 0:
		frac = "00"
	}
	for _, c := range []byte(frac) {
		if c < '0' || c > '9' {
			return Amount{}, ErrInvalidAmountFormat
		}
	}
	cents += int64(frac[0]-'0')*10 + int64(frac[1]-'0')

	if neg {
		cents = -cents
	}
	return AmountFromCents(cents)
}

func (a Amount) Cents() int64 { return a.cents }

func (a Amount) IsZero() bool     { return a.cents == 0 }
func (a Amount) IsNegative() bool { return a.cents < 0 }

func (a Amount) Add(b Amount) (Amount, error) {
	return AmountFromCents(a.cents + b.cents)
}

func (a Amount) Sub(b Amount) (Amount, error) {
	return AmountFromCents(a.cents - b.cents)
}

// MulInt multiplies by an integer factor, e.g. unit price times quantity.
func (a Amount) MulInt(n int64) (Amount, error) {
	if n != 0 && (a.cents > maxCents/absInt64(n) || a.cents < -maxCents/absInt64(n)) {
		return Amount{}, ErrAmountOverflow
	}
	return AmountFromCents(a.cents * n)
}

// MulDiv computes a*num/den scaled back to cents under the given
// rounding mode. den must be positive. It is the primitive behind
// proportional discount/tax allocation and basis-point math.
func (a Amount) MulDiv(num, den int64, mode RoundingMode) (Amount, error) {
	if den <= 0 {
		return Amount{}, ErrInvalidAmountFormat
	}
	if num != 0 && (a.cents > maxCents/absInt64(num) || a.cents < -maxCents/absInt64(num)) {
		return Amount{}, ErrAmountOverflow
	}

	prod := a.cents * num
	neg := prod < 0
	if neg {
		prod = -prod
	}

	quo := prod / den
	rem := prod % den

	switch mode {
	case RoundTruncate:
		// drop the remainder
	case RoundHalfUp:
		if rem*2 >= den {
			quo++
		}
	case RoundHalfEven:
		if rem*2 > den || (rem*2 == den && quo%2 == 1) {
			quo++
		}
	}

	if neg {
		quo = -quo
	}
	return AmountFromCents(quo)
}

func (a Amount) Neg() Amount { return Amount{cents: -a.cents} }

func (a Amount) Abs() Amount {
	if a.cents < 0 {
		return Amount{cents: -a.cents}
	}
	return a
}

// Cmp returns -1, 0 or 1.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.cents < b.cents:
		return -1
	case a.cents > b.cents:
		return 1
	default:
		return 0
	}
}

// SumAmounts adds a sequence, failing on overflow at any step.
func SumAmounts(amounts ...Amount) (Amount, error) {
	var total Amount
	var err error
	for _, a := range amounts {
		total, err = total.Add(a)
		if err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

// String formats the value as decimal text with exactly two fractional
// digits, e.g. "-12.05".
func (a Amount) String() string {
	c := a.cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
