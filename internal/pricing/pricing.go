// Package pricing estimates the USD value of a spoken swap amount. The value
// only feeds session spend-limit checks, so it is an estimate and never an
// execution price.
package pricing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/tokens"
)

// Estimator converts an input amount into an approximate USD value.
type Estimator interface {
	EstimateUSD(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error)
}

// StaticEstimator prices stable assets at 1.0 and everything else with a
// configured proxy rate.
type StaticEstimator struct {
	catalog     *tokens.Catalog
	rates       map[string]decimal.Decimal
	defaultRate decimal.Decimal
}

// Option customises a StaticEstimator.
type Option func(*StaticEstimator)

// WithRate sets the proxy rate for one symbol.
func WithRate(symbol string, rate decimal.Decimal) Option {
	return func(e *StaticEstimator) {
		e.rates[strings.ToUpper(strings.TrimSpace(symbol))] = rate
	}
}

// WithDefaultRate sets the rate used for symbols without an explicit entry.
func WithDefaultRate(rate decimal.Decimal) Option {
	return func(e *StaticEstimator) {
		e.defaultRate = rate
	}
}

// NewStaticEstimator builds an estimator backed by the token catalog.
func NewStaticEstimator(catalog *tokens.Catalog, opts ...Option) *StaticEstimator {
	if catalog == nil {
		catalog = tokens.Default()
	}
	e := &StaticEstimator{
		catalog:     catalog,
		rates:       make(map[string]decimal.Decimal),
		defaultRate: decimal.NewFromInt(3000),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseRates converts a symbol→string map from configuration into options.
func ParseRates(defaultRate string, rates map[string]string) ([]Option, error) {
	var opts []Option
	if strings.TrimSpace(defaultRate) != "" {
		d, err := decimal.NewFromString(strings.TrimSpace(defaultRate))
		if err != nil {
			return nil, fmt.Errorf("parse default proxy rate: %w", err)
		}
		opts = append(opts, WithDefaultRate(d))
	}
	for symbol, raw := range rates {
		d, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("parse proxy rate for %s: %w", symbol, err)
		}
		opts = append(opts, WithRate(symbol, d))
	}
	return opts, nil
}

// EstimateUSD implements Estimator.
func (e *StaticEstimator) EstimateUSD(_ context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must not be negative: %s", amount)
	}
	return amount.Mul(e.UnitPrice(symbol)), nil
}

// UnitPrice returns the USD price used for one unit of symbol.
func (e *StaticEstimator) UnitPrice(symbol string) decimal.Decimal {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if rate, ok := e.rates[symbol]; ok {
		return rate
	}
	if e.catalog.IsStable(symbol) {
		return decimal.NewFromInt(1)
	}
	return e.defaultRate
}

var _ Estimator = (*StaticEstimator)(nil)
