// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/ledger"
)

func newRemoveRequest(plpAmount, acceptable *big.Int) *RemoveLiquidityRequest {
	return &RemoveLiquidityRequest{
		Header:          Header{ExecutionFee: new(big.Int).Set(testFee)},
		TokenOut:        testWeth,
		PlpAmount:       plpAmount,
		MinOut:          big.NewInt(0),
		AcceptablePrice: acceptable,
		Receiver:        testAlice,
	}
}

// addDirect gives account PLP without going through a router.
func (f *fixture) addDirect(t *testing.T, account common.Address, amount *big.Int) *big.Int {
	t.Helper()
	f.wrap(t, account, amount)
	minted, err := f.manager.AddLiquidity(account, account, testWeth, amount, nil, nil)
	require.NoError(t, err)
	f.journal.Finalise()
	return minted
}

func TestAddLiquidityCreateValidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.native(t, testAlice, testFee)

	req := newAddRequest(ether(1), nil, big.NewInt(0), testAlice)
	_, err := f.add.Create(testAlice, testFee, req)
	require.ErrorIs(err, ErrInvalidPriceLimit)

	req = newAddRequest(ether(1), big.NewInt(-1), usd(290), testAlice)
	_, err = f.add.Create(testAlice, testFee, req)
	require.ErrorIs(err, ErrInvalidAmount)

	req = newAddRequest(ether(1), nil, usd(290), testAlice)
	req.Token = testUsdc
	req.IsNativeIn = true
	_, err = f.add.Create(testAlice, sum(ether(1), testFee), req)
	require.ErrorIs(err, ErrInvalidPath)

	// PLP has no native form
	req = newAddRequest(ether(1), nil, usd(290), testAlice)
	req.IsNativeOut = true
	_, err = f.add.Create(testAlice, testFee, req)
	require.ErrorIs(err, ErrInvalidPath)

	_, length := f.add.RequestQueueLengths()
	require.Zero(length)
}

func TestRemoveLiquidityNativeOut(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	minted := f.addDirect(t, testAlice, ether(2))
	f.native(t, testAlice, testFee)
	require.NoError(f.ledger.Approve(testPlp, testAlice, testRemoveRouter, minted))

	req := newRemoveRequest(ether(100), usd(310))
	req.IsNativeOut = true
	key, err := f.remove.Create(testAlice, testFee, req)
	require.NoError(err)
	requireBig(t, ether(100), f.ledger.BalanceOf(testPlp, testRemoveRouter))
	requireBig(t, testFee, f.ledger.BalanceOf(testWeth, testRemoveRouter))

	supply := f.ledger.TotalSupply(testPlp)
	executed, err := f.remove.Execute(testKeeper, key, testKeeper)
	require.NoError(err)
	require.True(executed)

	// 100 PLP is worth about 100 USD, a third of an ETH at 300
	out := f.ledger.BalanceOf(ledger.NativeToken, testAlice)
	require.True(out.Sign() > 0)
	require.True(out.Cmp(bigString("333333333333333334")) < 0, "out %s", out)
	require.Zero(f.ledger.BalanceOf(testWeth, testAlice).Sign())
	requireBig(t, new(big.Int).Sub(supply, ether(100)), f.ledger.TotalSupply(testPlp))
	require.Zero(f.ledger.BalanceOf(testPlp, testRemoveRouter).Sign())
	require.Zero(f.ledger.BalanceOf(testWeth, testRemoveRouter).Sign())
	requireBig(t, testFee, f.ledger.BalanceOf(ledger.NativeToken, testKeeper))
}

func TestRemoveLiquidityPriceAboveLimit(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	minted := f.addDirect(t, testAlice, ether(2))
	f.native(t, testAlice, testFee)
	require.NoError(f.ledger.Approve(testPlp, testAlice, testRemoveRouter, minted))

	key, err := f.remove.Create(testAlice, testFee, newRemoveRequest(ether(100), usd(310)))
	require.NoError(err)

	require.NoError(f.feed.SetPrice(testWeth, usd(320)))
	_, err = f.remove.Execute(testKeeper, key, testKeeper)
	require.ErrorIs(err, ErrPriceHigherThanLimit)
	requireBig(t, ether(100), f.ledger.BalanceOf(testPlp, testRemoveRouter))

	require.NoError(f.feed.SetPrice(testWeth, usd(305)))
	executed, err := f.remove.Execute(testKeeper, key, testKeeper)
	require.NoError(err)
	require.True(executed)
	require.True(f.ledger.BalanceOf(testWeth, testAlice).Sign() > 0)
}

func TestRemoveLiquidityRejectsNativeIn(t *testing.T) {
	f := newFixture(t)
	f.native(t, testAlice, sum(ether(1), testFee))

	req := newRemoveRequest(ether(1), usd(310))
	req.IsNativeIn = true
	_, err := f.remove.Create(testAlice, sum(ether(1), testFee), req)
	require.ErrorIs(t, err, ErrInvalidMsgValue)
}

func TestRemoveLiquidityNativeOutNeedsWrappedToken(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	minted := f.addDirect(t, testAlice, ether(2))
	f.native(t, testAlice, testFee)
	require.NoError(f.ledger.Approve(testPlp, testAlice, testRemoveRouter, minted))

	req := newRemoveRequest(ether(100), usd(2))
	req.TokenOut = testUsdc
	req.IsNativeOut = true
	_, err := f.remove.Create(testAlice, testFee, req)
	require.ErrorIs(err, ErrInvalidPath)

	_, length := f.remove.RequestQueueLengths()
	require.Zero(length)
	requireBig(t, minted, f.ledger.BalanceOf(testPlp, testAlice))
	requireBig(t, testFee, f.ledger.BalanceOf(ledger.NativeToken, testAlice))
	require.Zero(f.ledger.BalanceOf(testWeth, testRemoveRouter).Sign())
}
