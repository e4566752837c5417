// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/fees"
	"github.com/luxfi/perps/ledger"
	"github.com/luxfi/perps/oracle"
	"github.com/luxfi/perps/state"
)

var (
	testVaultAddr = common.HexToAddress("0x0000000000000000000000000000000000009101")
	testUsdf      = common.HexToAddress("0x0000000000000000000000000000000000009102")
	testPlp       = common.HexToAddress("0x0000000000000000000000000000000000009103")
	testManager   = common.HexToAddress("0x0000000000000000000000000000000000009104")
	testWrapped   = common.HexToAddress("0x0000000000000000000000000000000000009105")
	testEth       = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testUsdc      = common.HexToAddress("0x7777777777777777777777777777777777777777")
	testAlice     = common.HexToAddress("0x5555555555555555555555555555555555555555")
	testBob       = common.HexToAddress("0x6666666666666666666666666666666666666666")
)

type fixture struct {
	journal *state.Journal
	clock   *state.Clock
	ledger  *ledger.Ledger
	feed    *oracle.Feed
	fees    *fees.Engine
	vault   *Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	require := require.New(t)

	journal := state.NewJournal()
	clock := state.NewClock(100, 1_700_000_000)
	l := ledger.New(journal, testWrapped)
	feed := oracle.NewFeed(clock, 0)
	engine, err := fees.NewEngine(fees.DefaultConfig())
	require.NoError(err)

	v := New(Options{
		Address: testVaultAddr,
		Usdf:    testUsdf,
		Ledger:  l,
		Oracle:  feed,
		Fees:    engine,
		Chain:   clock,
		Journal: journal,
		Log:     log.NewTestLogger(log.InfoLevel),
	})
	require.NoError(v.SetTokenConfig(testEth, TokenConfig{Decimals: 18, Weight: 10000, IsShortable: true}))
	require.NoError(v.SetTokenConfig(testUsdc, TokenConfig{Decimals: 6, Weight: 10000, IsStable: true}))
	require.NoError(feed.SetPrice(testEth, usd(300)))
	require.NoError(feed.SetPrice(testUsdc, usd(1)))

	return &fixture{
		journal: journal,
		clock:   clock,
		ledger:  l,
		feed:    feed,
		fees:    engine,
		vault:   v,
	}
}

// deposit credits account with amount of token and moves it into the vault.
func (f *fixture) deposit(t *testing.T, token, account common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(token, account, amount))
	require.NoError(t, f.ledger.Transfer(token, account, testVaultAddr, amount))
}

func usd(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), oracle.PricePrecision)
}

func units(v int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), pow10(decimals))
}

func bigString(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big int " + s)
	}
	return v
}

// =========================================================================
// USDF Tests
// =========================================================================

func TestBuyUSDF(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	f.deposit(t, testEth, testAlice, units(2, 18))
	minted, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)

	// 2 ETH at 300 less the 30 bps base mint fee
	want := bigString("598200000000000000000")
	require.Equal(want, minted)
	require.Equal(want, f.ledger.BalanceOf(testUsdf, testAlice))
	require.Equal(want, f.vault.UsdfAmount(testEth))
	require.Equal(bigString("6000000000000000"), f.vault.FeeReserve(testEth))
	require.Equal(bigString("1994000000000000000"), f.vault.PoolAmount(testEth))

	// weights are equal, so half the supply is the target
	require.Equal(bigString("299100000000000000000"), f.vault.TargetUsdfAmount(testEth))

	_, err = f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.ErrorIs(err, ErrInvalidAmount)
}

func TestBuyUSDFRevertsOnFailure(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.NoError(f.vault.SetTokenConfig(testEth, TokenConfig{
		Decimals:      18,
		Weight:        10000,
		MaxUsdfAmount: units(100, 18),
		IsShortable:   true,
	}))
	f.deposit(t, testEth, testAlice, units(2, 18))

	_, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.ErrorIs(err, ErrMaxUsdfExceeded)
	require.Zero(f.vault.PoolAmount(testEth).Sign())
	require.Zero(f.vault.FeeReserve(testEth).Sign())
	require.Zero(f.ledger.TotalSupply(testUsdf).Sign())

	// the deposit is still unaccounted for and can be used once the cap lifts
	require.NoError(f.vault.SetTokenConfig(testEth, TokenConfig{Decimals: 18, Weight: 10000, IsShortable: true}))
	minted, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)
	require.Equal(bigString("598200000000000000000"), minted)
}

func TestManagerMode(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.vault.SetInManagerMode(true)

	f.deposit(t, testEth, testAlice, units(1, 18))
	_, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.ErrorIs(err, ErrForbidden)

	f.vault.SetManager(testManager, true)
	_, err = f.vault.BuyUSDF(testManager, testEth, testAlice)
	require.NoError(err)
}

func TestSellUSDF(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	f.deposit(t, testEth, testAlice, units(2, 18))
	_, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)

	require.NoError(f.ledger.Transfer(testUsdf, testAlice, testVaultAddr, units(100, 18)))
	out, err := f.vault.SellUSDF(testAlice, testEth, testAlice)
	require.NoError(err)

	// ETH is overweight, so redeeming it earns the full rebate
	require.Equal(bigString("333333333333333333"), out)
	require.Equal(out, f.ledger.BalanceOf(testEth, testAlice))
	require.Equal(bigString("498200000000000000000"), f.ledger.TotalSupply(testUsdf))
	require.Equal(bigString("498200000000000000000"), f.vault.UsdfAmount(testEth))
	require.Zero(f.ledger.BalanceOf(testUsdf, testVaultAddr).Sign())

	_, err = f.vault.SellUSDF(testAlice, testEth, testAlice)
	require.ErrorIs(err, ErrInvalidUsdfAmount)
}

func TestSwap(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	f.deposit(t, testEth, testAlice, units(10, 18))
	_, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)
	f.deposit(t, testUsdc, testAlice, units(3000, 6))
	_, err = f.vault.BuyUSDF(testAlice, testUsdc, testAlice)
	require.NoError(err)

	poolBefore := f.vault.PoolAmount(testUsdc)
	feesBefore := f.vault.FeeReserve(testUsdc)

	f.deposit(t, testEth, testBob, new(big.Int).Div(units(1, 18), big.NewInt(10)))
	out, err := f.vault.Swap(testBob, testEth, testUsdc, testBob)
	require.NoError(err)

	gross := units(30, 6)
	require.Equal(out, f.ledger.BalanceOf(testUsdc, testBob))
	require.Negative(out.Cmp(gross))
	require.Positive(out.Cmp(new(big.Int).Div(new(big.Int).Mul(gross, big.NewInt(99)), big.NewInt(100))))
	require.Equal(new(big.Int).Sub(poolBefore, gross), f.vault.PoolAmount(testUsdc))
	require.Equal(new(big.Int).Add(feesBefore, new(big.Int).Sub(gross, out)), f.vault.FeeReserve(testUsdc))
}

func TestSwapValidation(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	_, err := f.vault.Swap(testAlice, testEth, testEth, testAlice)
	require.ErrorIs(err, ErrInvalidTokens)

	_, err = f.vault.Swap(testAlice, testEth, testBob, testAlice)
	require.ErrorIs(err, ErrTokenNotWhitelisted)

	// nothing in the usdc pool to pay out
	f.deposit(t, testEth, testAlice, units(1, 18))
	_, err = f.vault.Swap(testAlice, testEth, testUsdc, testAlice)
	require.ErrorIs(err, ErrInsufficientPoolAmount)
	require.Zero(f.vault.PoolAmount(testEth).Sign())
}

func TestJournalRevertRestoresVault(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)
	f.journal.Finalise()

	f.deposit(t, testEth, testAlice, units(2, 18))
	snap := f.journal.Snapshot()
	_, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)
	f.journal.RevertToSnapshot(snap)

	require.Zero(f.vault.PoolAmount(testEth).Sign())
	require.Zero(f.vault.UsdfAmount(testEth).Sign())
	require.Zero(f.ledger.TotalSupply(testUsdf).Sign())

	_, err = f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)
}

func TestAum(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	aum, err := f.vault.Aum(true)
	require.NoError(err)
	require.Zero(aum.Sign())

	f.deposit(t, testEth, testAlice, units(2, 18))
	_, err = f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)
	f.deposit(t, testUsdc, testAlice, units(1000, 6))
	_, err = f.vault.BuyUSDF(testAlice, testUsdc, testAlice)
	require.NoError(err)

	aum, err = f.vault.Aum(true)
	require.NoError(err)
	// 1.994 ETH at 300 plus 997 USDC after fees
	want := new(big.Int).Add(bigString("598200000000000000000000000000000"), oracle.USD(f.vault.PoolAmount(testUsdc), usd(1), 6))
	require.Equal(want, aum)

	inUsdf, err := f.vault.AumInUsdf(true)
	require.NoError(err)
	require.Equal(usdToUsdf(want), inUsdf)
}

func TestTokenConfig(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	require.Equal(uint64(20000), f.vault.TotalWeights())
	require.ErrorIs(f.vault.SetTokenConfig(common.Address{}, TokenConfig{}), ErrInvalidTokenConfig)
	require.ErrorIs(f.vault.SetTokenConfig(testUsdf, TokenConfig{}), ErrInvalidTokenConfig)

	require.NoError(f.vault.SetTokenConfig(testEth, TokenConfig{Decimals: 18, Weight: 5000}))
	require.Equal(uint64(15000), f.vault.TotalWeights())

	require.NoError(f.vault.ClearTokenConfig(testUsdc))
	require.Equal([]common.Address{testEth}, f.vault.WhitelistedTokens())
	require.Equal(uint64(5000), f.vault.TotalWeights())
	require.ErrorIs(f.vault.ClearTokenConfig(testUsdc), ErrTokenNotWhitelisted)
}

func TestWithdrawFees(t *testing.T) {
	require := require.New(t)
	f := newFixture(t)

	f.deposit(t, testEth, testAlice, units(2, 18))
	_, err := f.vault.BuyUSDF(testAlice, testEth, testAlice)
	require.NoError(err)

	amount, err := f.vault.WithdrawFees(testEth, testBob)
	require.NoError(err)
	require.Equal(bigString("6000000000000000"), amount)
	require.Equal(amount, f.ledger.BalanceOf(testEth, testBob))
	require.Zero(f.vault.FeeReserve(testEth).Sign())
}
