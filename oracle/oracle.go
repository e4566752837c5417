// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle serves USD prices for settlement assets.
package oracle

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/perps/state"
)

// BasisPointsDivisor is the denominator for spread basis points.
const BasisPointsDivisor = 10000

// PricePrecision is the fixed-point scale of every price (1e30 = 1 USD).
var PricePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)

var (
	ErrPriceNotFound = errors.New("price not found")
	ErrStalePrice    = errors.New("stale price")
	ErrInvalidPrice  = errors.New("invalid price")
	ErrInvalidSpread = errors.New("invalid spread basis points")
)

// Price is the last value reported for an asset.
type Price struct {
	Value     *big.Int
	UpdatedAt uint64
}

// Feed holds reported prices and derives the min/max quote for each asset by
// applying its spread.
type Feed struct {
	chain       state.Chain
	maxPriceAge uint64

	prices    map[common.Address]Price
	spreadBps map[common.Address]uint64

	mu sync.RWMutex
}

// NewFeed creates a feed. A zero maxPriceAge disables staleness checks.
func NewFeed(chain state.Chain, maxPriceAge uint64) *Feed {
	return &Feed{
		chain:       chain,
		maxPriceAge: maxPriceAge,
		prices:      make(map[common.Address]Price),
		spreadBps:   make(map[common.Address]uint64),
	}
}

// SetPrice records a new price for asset at the current chain time.
func (f *Feed) SetPrice(asset common.Address, price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.prices[asset] = Price{
		Value:     new(big.Int).Set(price),
		UpdatedAt: f.chain.Timestamp(),
	}
	return nil
}

// SetSpreadBasisPoints sets the spread applied around the reported price.
func (f *Feed) SetSpreadBasisPoints(asset common.Address, bps uint64) error {
	if bps >= BasisPointsDivisor {
		return ErrInvalidSpread
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.spreadBps[asset] = bps
	return nil
}

// SetMaxPriceAge sets how long a reported price stays usable, in seconds.
func (f *Feed) SetMaxPriceAge(age uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxPriceAge = age
}

// Latest returns the raw reported price.
func (f *Feed) Latest(asset common.Address) (Price, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[asset]
	if !ok {
		return Price{}, false
	}
	return Price{Value: new(big.Int).Set(p.Value), UpdatedAt: p.UpdatedAt}, true
}

// Price returns the quote for asset. maximise selects the upper side of the
// spread, used when the protocol pays out in asset terms.
func (f *Feed) Price(asset common.Address, maximise bool) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.prices[asset]
	if !ok {
		return nil, ErrPriceNotFound
	}
	if f.maxPriceAge > 0 && f.chain.Timestamp() > p.UpdatedAt+f.maxPriceAge {
		return nil, ErrStalePrice
	}

	spread := f.spreadBps[asset]
	if spread == 0 {
		return new(big.Int).Set(p.Value), nil
	}

	factor := uint64(BasisPointsDivisor - spread)
	if maximise {
		factor = BasisPointsDivisor + spread
	}
	price := new(big.Int).Mul(p.Value, new(big.Int).SetUint64(factor))
	return price.Div(price, big.NewInt(BasisPointsDivisor)), nil
}

// USD values amount token units, with the given decimals, at price.
func USD(amount, price *big.Int, decimals uint8) *big.Int {
	v := new(big.Int).Mul(amount, price)
	return v.Div(v, pow10(decimals))
}

// TokenAmount converts a 1e30 USD value to a token amount at price.
func TokenAmount(usd, price *big.Int, decimals uint8) *big.Int {
	if price.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(usd, pow10(decimals))
	return v.Div(v, price)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
