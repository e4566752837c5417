// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/oracle"
)

func newTestLiquidityManager(t *testing.T, f *fixture) *LiquidityManager {
	t.Helper()
	f.vault.SetInManagerMode(true)
	f.vault.SetManager(testManager, true)
	return NewLiquidityManager(f.vault, LiquidityOptions{
		Address:          testManager,
		Plp:              testPlp,
		CooldownDuration: 900,
	})
}

func TestAddLiquidity(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	lm := newTestLiquidityManager(t, f)

	require.NoError(f.ledger.Mint(testEth, testAlice, units(2, 18)))
	minted, err := lm.AddLiquidity(testAlice, testAlice, testEth, units(2, 18), nil, units(590, 18))
	require.NoError(err)
	require.Equal(bigString("598200000000000000000"), minted)
	require.Equal(minted, f.ledger.BalanceOf(testPlp, testAlice))
	require.Equal(minted, f.ledger.BalanceOf(testUsdf, testManager))
	require.Zero(f.ledger.BalanceOf(testEth, testAlice).Sign())
	require.Equal(f.clock.Timestamp(), lm.LastAddedAt(testAlice))

	price, err := lm.PlpPrice(true)
	require.NoError(err)
	require.Equal(oracle.PricePrecision, price)

	// a second deposit at the same price mints PLP one to one with USDF
	require.NoError(f.ledger.Mint(testEth, testBob, units(1, 18)))
	usdfBefore := f.ledger.BalanceOf(testUsdf, testManager)
	minted, err = lm.AddLiquidity(testBob, testBob, testEth, units(1, 18), nil, nil)
	require.NoError(err)
	usdfDelta := f.ledger.BalanceOf(testUsdf, testManager)
	usdfDelta.Sub(usdfDelta, usdfBefore)
	require.Equal(usdfDelta, minted)
}

func TestAddLiquidityMinimums(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	lm := newTestLiquidityManager(t, f)

	require.NoError(f.ledger.Mint(testEth, testAlice, units(2, 18)))

	_, err := lm.AddLiquidity(testAlice, testAlice, testEth, units(2, 18), nil, units(599, 18))
	require.ErrorIs(err, ErrInsufficientPlpOutput)
	_, err = lm.AddLiquidity(testAlice, testAlice, testEth, units(2, 18), units(599, 18), nil)
	require.ErrorIs(err, ErrInsufficientUsdfOutput)

	require.Equal(units(2, 18), f.ledger.BalanceOf(testEth, testAlice))
	require.Zero(f.ledger.TotalSupply(testPlp).Sign())
	require.Zero(f.ledger.TotalSupply(testUsdf).Sign())
	require.Zero(f.vault.PoolAmount(testEth).Sign())
	require.Zero(lm.LastAddedAt(testAlice))

	_, err = lm.AddLiquidity(testAlice, testAlice, testEth, units(0, 18), nil, nil)
	require.ErrorIs(err, ErrInvalidAmount)
}

func TestRemoveLiquidity(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	lm := newTestLiquidityManager(t, f)

	require.NoError(f.ledger.Mint(testEth, testAlice, units(2, 18)))
	_, err := lm.AddLiquidity(testAlice, testAlice, testEth, units(2, 18), nil, nil)
	require.NoError(err)

	_, err = lm.RemoveLiquidity(testAlice, testAlice, testEth, units(100, 18), nil, testAlice)
	require.ErrorIs(err, ErrCooldownNotPassed)

	f.clock.Advance(75, 900)

	_, err = lm.RemoveLiquidity(testAlice, testAlice, testEth, units(100, 18), units(1, 18), testAlice)
	require.ErrorIs(err, ErrInsufficientAmountOut)
	require.Equal(bigString("598200000000000000000"), f.ledger.BalanceOf(testPlp, testAlice))

	out, err := lm.RemoveLiquidity(testAlice, testAlice, testEth, units(100, 18), nil, testBob)
	require.NoError(err)
	// ETH is overweight against USDC, so the burn fee is fully rebated
	require.Equal(bigString("333333333333333333"), out)
	require.Equal(out, f.ledger.BalanceOf(testEth, testBob))
	require.Equal(bigString("498200000000000000000"), f.ledger.BalanceOf(testPlp, testAlice))
	require.Equal(bigString("498200000000000000000"), f.ledger.TotalSupply(testUsdf))
}
