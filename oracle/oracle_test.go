// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/state"
)

var testAsset = common.HexToAddress("0x4444444444444444444444444444444444444444")

func usd(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), PricePrecision)
}

func TestFeedSpread(t *testing.T) {
	require := require.New(t)
	f := NewFeed(state.NewClock(1, 1000), 0)

	_, err := f.Price(testAsset, true)
	require.ErrorIs(err, ErrPriceNotFound)

	require.NoError(f.SetPrice(testAsset, usd(300)))
	p, err := f.Price(testAsset, true)
	require.NoError(err)
	require.Equal(usd(300), p)

	require.NoError(f.SetSpreadBasisPoints(testAsset, 10))
	maxPrice, err := f.Price(testAsset, true)
	require.NoError(err)
	minPrice, err := f.Price(testAsset, false)
	require.NoError(err)
	require.Equal(new(big.Int).Div(usd(300*1001), big.NewInt(1000)), maxPrice)
	require.Equal(new(big.Int).Div(usd(300*999), big.NewInt(1000)), minPrice)

	require.ErrorIs(f.SetSpreadBasisPoints(testAsset, BasisPointsDivisor), ErrInvalidSpread)
	require.ErrorIs(f.SetPrice(testAsset, big.NewInt(0)), ErrInvalidPrice)
}

func TestFeedStaleness(t *testing.T) {
	require := require.New(t)
	clock := state.NewClock(1, 1000)
	f := NewFeed(clock, 60)

	require.NoError(f.SetPrice(testAsset, usd(2)))
	clock.Advance(1, 60)
	_, err := f.Price(testAsset, false)
	require.NoError(err)

	clock.Advance(1, 1)
	_, err = f.Price(testAsset, false)
	require.ErrorIs(err, ErrStalePrice)

	latest, ok := f.Latest(testAsset)
	require.True(ok)
	require.Equal(uint64(1000), latest.UpdatedAt)
}

func TestUSDConversion(t *testing.T) {
	require := require.New(t)

	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	value := USD(oneEth, usd(300), 18)
	require.Equal(usd(300), value)
	require.Equal(oneEth, TokenAmount(value, usd(300), 18))
	require.Zero(TokenAmount(value, new(big.Int), 18).Sign())
}
