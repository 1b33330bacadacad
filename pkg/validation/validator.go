// Package validation sanitizes user and exchange supplied trading inputs
// before they reach accounting or order paths.
package validation

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	pterrors "github.com/powertraderai/powertrader/pkg/errors"
)

var (
	symbolPattern      = regexp.MustCompile(`^[A-Z]{2,10}$`)
	tradingPairPattern = regexp.MustCompile(`^[A-Z]{2,10}-[A-Z]{2,10}$`)
)

// Bounds applied to prices, volumes and percentages. Prices below one
// satoshi-equivalent or above ten million are rejected as feed corruption.
var (
	MinPrice      = decimal.RequireFromString("0.00000001")
	MaxPrice      = decimal.RequireFromString("10000000")
	MinVolume     = decimal.RequireFromString("0.00000001")
	MaxVolume     = decimal.RequireFromString("1000000000")
	MinPercentage = decimal.NewFromInt(-100)
	MaxPercentage = decimal.NewFromInt(10000)
)

// Symbol validates a bare asset symbol (e.g. BTC) and returns it normalized
// to upper case.
func Symbol(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", pterrors.NewValidationError("symbol", "symbol cannot be empty")
	}
	if !symbolPattern.MatchString(s) {
		return "", pterrors.NewValidationError("symbol", "invalid symbol format: "+s)
	}
	return s, nil
}

// TradingPair validates a dash-separated pair (e.g. BTC-USD) and returns it
// normalized to upper case.
func TradingPair(p string) (string, error) {
	p = strings.ToUpper(strings.TrimSpace(p))
	if p == "" {
		return "", pterrors.NewValidationError("pair", "trading pair cannot be empty")
	}
	if !tradingPairPattern.MatchString(p) {
		return "", pterrors.NewValidationError("pair", "invalid trading pair format: "+p)
	}
	return p, nil
}

// Price validates a price value against the global bounds.
func Price(d decimal.Decimal) error {
	return boundedPositive(d, "price", MinPrice, MaxPrice)
}

// ParsePrice parses and validates a price string.
func ParsePrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, pterrors.NewValidationError("price", "invalid price format: "+s)
	}
	if err := Price(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// Volume validates an order quantity against the global bounds.
func Volume(d decimal.Decimal) error {
	return boundedPositive(d, "volume", MinVolume, MaxVolume)
}

// Percentage validates a percentage value (e.g. a PnL ratio in percent).
func Percentage(d decimal.Decimal) error {
	if d.LessThan(MinPercentage) || d.GreaterThan(MaxPercentage) {
		return pterrors.NewValidationError("percentage", "percentage out of range: "+d.String())
	}
	return nil
}

func boundedPositive(d decimal.Decimal, field string, min, max decimal.Decimal) error {
	if d.LessThanOrEqual(decimal.Zero) {
		return pterrors.NewValidationError(field, field+" must be positive")
	}
	if d.LessThan(min) {
		return pterrors.NewValidationError(field, field+" too small: "+d.String())
	}
	if d.GreaterThan(max) {
		return pterrors.NewValidationError(field, field+" too large: "+d.String())
	}
	return nil
}
