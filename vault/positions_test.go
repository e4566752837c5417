// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

// seedPool adds liquidity so positions have something to reserve against.
func (f *fixture) seedPool(t *testing.T) {
	t.Helper()
	f.deposit(t, testEth, testBob, units(10, 18))
	_, err := f.vault.BuyUSDF(testBob, testEth, testBob)
	require.NoError(t, err)
	f.deposit(t, testUsdc, testBob, units(10000, 6))
	_, err = f.vault.BuyUSDF(testBob, testUsdc, testBob)
	require.NoError(t, err)
}

func usdFraction(numerator, denominator int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(numerator), new(big.Int).Div(usd(1), big.NewInt(denominator)))
	return v
}

func TestLongPositionLifecycle(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.seedPool(t)

	f.deposit(t, testEth, testAlice, units(1, 18))
	require.NoError(f.vault.IncreasePosition(testAlice, testAlice, testEth, testEth, usd(1500), true))

	position, ok := f.vault.Position(testAlice, testEth, testEth, true)
	require.True(ok)
	require.Equal(usd(1500), position.Size)
	require.Equal(usdFraction(2985, 10), position.Collateral)
	require.Equal(usd(300), position.AveragePrice)
	require.Equal(units(5, 18), position.ReserveAmount)
	require.Equal(units(5, 18), f.vault.ReservedAmount(testEth))
	require.Equal(usdFraction(12015, 10), f.vault.GuaranteedUsd(testEth))

	require.NoError(f.feed.SetPrice(testEth, usd(330)))
	hasProfit, delta, err := f.vault.PositionDelta(testAlice, testEth, testEth, true)
	require.NoError(err)
	require.True(hasProfit)
	require.Equal(usd(150), delta)

	out, err := f.vault.DecreasePosition(testAlice, testAlice, testEth, testEth, nil, usd(1500), true, testAlice)
	require.NoError(err)
	// 150 profit plus 298.5 collateral less the 1.5 close fee, at 330
	require.Equal(bigString("1354545454545454545"), out)
	require.Equal(out, f.ledger.BalanceOf(testEth, testAlice))

	_, ok = f.vault.Position(testAlice, testEth, testEth, true)
	require.False(ok)
	require.Zero(f.vault.ReservedAmount(testEth).Sign())
	require.Zero(f.vault.GuaranteedUsd(testEth).Sign())
}

func TestDecreasePositionTieredFee(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.seedPool(t)
	require.NoError(f.fees.SetTokenFeeFactors(testEth, []uint64{0, 850}, []uint64{15, 100}, []uint64{150, 1000}))

	f.deposit(t, testEth, testAlice, units(1, 18))
	require.NoError(f.vault.IncreasePosition(testAlice, testAlice, testEth, testEth, usd(1500), true))

	position, ok := f.vault.Position(testAlice, testEth, testEth, true)
	require.True(ok)
	require.Equal(usdFraction(29775, 100), position.Collateral)

	// +10% is 1000 bps of size, so the second tier applies: 15 + 15 USD
	require.NoError(f.feed.SetPrice(testEth, usd(330)))
	out, err := f.vault.DecreasePosition(testAlice, testAlice, testEth, testEth, nil, usd(1500), true, testAlice)
	require.NoError(err)
	require.Equal(bigString("1265909090909090909"), out)
}

func TestPartialDecrease(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.seedPool(t)

	f.deposit(t, testEth, testAlice, units(1, 18))
	require.NoError(f.vault.IncreasePosition(testAlice, testAlice, testEth, testEth, usd(1500), true))

	out, err := f.vault.DecreasePosition(testAlice, testAlice, testEth, testEth, usd(100), usd(500), true, testAlice)
	require.NoError(err)
	require.Equal(bigString("331666666666666666"), out)

	position, ok := f.vault.Position(testAlice, testEth, testEth, true)
	require.True(ok)
	require.Equal(usd(1000), position.Size)
	require.Equal(usdFraction(1985, 10), position.Collateral)
}

func TestShortPositionLifecycle(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.seedPool(t)

	f.deposit(t, testUsdc, testAlice, units(300, 6))
	require.NoError(f.vault.IncreasePosition(testAlice, testAlice, testUsdc, testEth, usd(1500), false))
	require.Equal(usd(1500), f.vault.GlobalShortSize(testEth))
	require.Equal(units(1500, 6), f.vault.ReservedAmount(testUsdc))

	aumBefore, err := f.vault.Aum(true)
	require.NoError(err)

	require.NoError(f.feed.SetPrice(testEth, usd(270)))
	aumAfter, err := f.vault.Aum(true)
	require.NoError(err)

	// eth pool value drops with price; the short's 150 USD gain is a liability
	ethPool := f.vault.PoolAmount(testEth)
	ethDrop := new(big.Int).Mul(ethPool, big.NewInt(30))
	ethDrop.Mul(ethDrop, usd(1))
	ethDrop.Div(ethDrop, units(1, 18))
	want := new(big.Int).Sub(aumBefore, ethDrop)
	want.Sub(want, usd(150))
	require.Equal(want, aumAfter)

	usdcPool := f.vault.PoolAmount(testUsdc)
	out, err := f.vault.DecreasePosition(testAlice, testAlice, testUsdc, testEth, nil, usd(1500), false, testAlice)
	require.NoError(err)
	require.Equal(units(447, 6), out)
	require.Equal(new(big.Int).Sub(usdcPool, units(150, 6)), f.vault.PoolAmount(testUsdc))
	require.Zero(f.vault.GlobalShortSize(testEth).Sign())
	require.Zero(f.vault.ReservedAmount(testUsdc).Sign())
}

func TestIncreasePositionValidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.seedPool(t)

	f.deposit(t, testEth, testAlice, units(1, 18))
	feesBefore := f.vault.FeeReserve(testEth)

	err := f.vault.IncreasePosition(testAlice, testAlice, testEth, testEth, usd(18000), true)
	require.ErrorIs(err, ErrExcessiveLeverage)
	_, ok := f.vault.Position(testAlice, testEth, testEth, true)
	require.False(ok)
	require.Equal(feesBefore, f.vault.FeeReserve(testEth))
	require.Zero(f.vault.ReservedAmount(testEth).Sign())

	require.ErrorIs(f.vault.IncreasePosition(testBob, testAlice, testEth, testEth, usd(1500), true), ErrForbidden)
	require.ErrorIs(f.vault.IncreasePosition(testAlice, testAlice, testUsdc, testEth, usd(1500), true), ErrInvalidTokens)
	require.ErrorIs(f.vault.IncreasePosition(testAlice, testAlice, testEth, testEth, usd(1500), false), ErrInvalidTokens)

	// the rejected deposit is still available
	require.NoError(f.vault.IncreasePosition(testAlice, testAlice, testEth, testEth, usd(1500), true))

	_, err = f.vault.DecreasePosition(testAlice, testAlice, testUsdc, testEth, nil, usd(1), false, testAlice)
	require.ErrorIs(err, ErrPositionNotFound)
	_, err = f.vault.DecreasePosition(testAlice, testAlice, testEth, testEth, nil, usd(1501), true, testAlice)
	require.ErrorIs(err, ErrInvalidPositionSize)
}

func TestManagerActsForAccount(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.seedPool(t)
	f.vault.SetManager(testManager, true)

	f.deposit(t, testEth, testManager, units(1, 18))
	require.NoError(f.vault.IncreasePosition(testManager, testAlice, testEth, testEth, usd(900), true))
	_, ok := f.vault.Position(testAlice, testEth, testEth, true)
	require.True(ok)
}
