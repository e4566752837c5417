// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vault is the settlement target of the protocol: a multi-asset pool
// that mints and burns USDF against deposited tokens, swaps between pool
// assets, backs leveraged positions and issues PLP through its liquidity
// manager.
package vault

import (
	"errors"
	"math/big"
	"slices"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/fees"
	"github.com/luxfi/perps/oracle"
	"github.com/luxfi/perps/state"
)

const (
	// UsdfDecimals is the precision of USDF and PLP.
	UsdfDecimals = 18

	// DefaultMaxLeverage is 50x in basis points.
	DefaultMaxLeverage = 50 * fees.BasisPointsDivisor
)

var (
	ErrForbidden                     = errors.New("forbidden")
	ErrTokenNotWhitelisted           = errors.New("token not whitelisted")
	ErrInvalidTokenConfig            = errors.New("invalid token config")
	ErrInvalidAmount                 = errors.New("invalid amount")
	ErrInvalidUsdfAmount             = errors.New("invalid usdf amount")
	ErrInvalidRedemptionAmount       = errors.New("invalid redemption amount")
	ErrInvalidTokens                 = errors.New("invalid tokens")
	ErrInsufficientPoolAmount        = errors.New("insufficient pool amount")
	ErrPoolExceedsBalance            = errors.New("pool amount exceeds balance")
	ErrReserveExceedsPool            = errors.New("reserve exceeds pool")
	ErrMaxUsdfExceeded               = errors.New("max usdf amount exceeded")
	ErrInsufficientAmountOut         = errors.New("insufficient amount out")
	ErrInsufficientUsdfOutput        = errors.New("insufficient usdf output")
	ErrInsufficientPlpOutput         = errors.New("insufficient plp output")
	ErrCooldownNotPassed             = errors.New("cooldown duration not yet passed")
	ErrPositionNotFound              = errors.New("position not found")
	ErrInvalidPositionSize           = errors.New("invalid position size")
	ErrInsufficientCollateral        = errors.New("insufficient collateral")
	ErrInsufficientCollateralForFees = errors.New("insufficient collateral for fees")
	ErrExcessiveLeverage             = errors.New("leverage exceeds maximum allowed")
	ErrInvalidAveragePrice           = errors.New("invalid average price")
)

// PriceOracle quotes USD prices at oracle.PricePrecision.
type PriceOracle interface {
	Price(asset common.Address, maximise bool) (*big.Int, error)
}

// TokenLedger moves and issues tokens.
type TokenLedger interface {
	BalanceOf(token, account common.Address) *big.Int
	TotalSupply(token common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	Mint(token, to common.Address, amount *big.Int) error
	Burn(token, from common.Address, amount *big.Int) error
}

// FeeEngine prices pool and position actions.
type FeeEngine interface {
	MintFeeBps(pool fees.PoolState, asset common.Address, usdfDelta *big.Int) uint64
	BurnFeeBps(pool fees.PoolState, asset common.Address, usdfDelta *big.Int) uint64
	SwapFeeBps(pool fees.PoolState, tokenIn, tokenOut common.Address, usdfDelta *big.Int, isStableSwap bool) uint64
	PositionOpenFeeBps(asset common.Address) uint64
	PositionCloseFee(asset common.Address, sizeDelta, realizedPnlUsd *big.Int, hasProfit bool) *big.Int
}

// TokenConfig describes a whitelisted pool asset.
type TokenConfig struct {
	Decimals uint8  `json:"decimals"`
	Weight   uint64 `json:"weight"`
	// MaxUsdfAmount caps the USDF debt against the token. Nil or zero is
	// unlimited.
	MaxUsdfAmount *big.Int `json:"maxUsdfAmount"`
	IsStable      bool     `json:"isStable"`
	IsShortable   bool     `json:"isShortable"`
}

// Options configures a Vault.
type Options struct {
	Address common.Address
	Usdf    common.Address
	Ledger  TokenLedger
	Oracle  PriceOracle
	Fees    FeeEngine
	Chain   state.Chain
	Journal *state.Journal
	Log     log.Logger
}

type amounts map[common.Address]*big.Int

// Vault holds pool accounting for every whitelisted token.
type Vault struct {
	log     log.Logger
	journal *state.Journal
	chain   state.Chain
	ledger  TokenLedger
	oracle  PriceOracle
	fees    FeeEngine

	address common.Address
	usdf    common.Address

	tokens        map[common.Address]TokenConfig
	allTokens     []common.Address
	totalWeights  uint64
	maxLeverage   uint64
	inManagerMode bool
	managers      map[common.Address]bool

	tokenBalances            amounts // last observed ledger balance
	poolAmounts              amounts
	reservedAmounts          amounts
	usdfAmounts              amounts
	feeReserves              amounts
	guaranteedUsd            amounts
	globalShortSizes         amounts
	globalShortAveragePrices amounts

	positions map[[32]byte]*Position

	mu sync.RWMutex
}

// New creates an empty vault.
func New(opts Options) *Vault {
	logger := opts.Log
	if logger == nil {
		logger = log.Root()
	}
	journal := opts.Journal
	if journal == nil {
		journal = state.NewJournal()
	}
	return &Vault{
		log:                      logger,
		journal:                  journal,
		chain:                    opts.Chain,
		ledger:                   opts.Ledger,
		oracle:                   opts.Oracle,
		fees:                     opts.Fees,
		address:                  opts.Address,
		usdf:                     opts.Usdf,
		tokens:                   make(map[common.Address]TokenConfig),
		maxLeverage:              DefaultMaxLeverage,
		managers:                 make(map[common.Address]bool),
		tokenBalances:            make(amounts),
		poolAmounts:              make(amounts),
		reservedAmounts:          make(amounts),
		usdfAmounts:              make(amounts),
		feeReserves:              make(amounts),
		guaranteedUsd:            make(amounts),
		globalShortSizes:         make(amounts),
		globalShortAveragePrices: make(amounts),
		positions:                make(map[[32]byte]*Position),
	}
}

// Address returns the vault's custody account.
func (v *Vault) Address() common.Address {
	return v.address
}

// Usdf returns the USDF token address.
func (v *Vault) Usdf() common.Address {
	return v.usdf
}

// =========================================================================
// Admin Functions
// =========================================================================

// SetTokenConfig whitelists token or updates its configuration.
func (v *Vault) SetTokenConfig(token common.Address, config TokenConfig) error {
	if token == (common.Address{}) || token == v.usdf || config.Decimals > 30 {
		return ErrInvalidTokenConfig
	}
	if config.MaxUsdfAmount != nil && config.MaxUsdfAmount.Sign() < 0 {
		return ErrInvalidTokenConfig
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if prev, ok := v.tokens[token]; ok {
		v.totalWeights -= prev.Weight
	} else {
		v.allTokens = append(v.allTokens, token)
	}
	v.totalWeights += config.Weight
	if config.MaxUsdfAmount != nil {
		config.MaxUsdfAmount = new(big.Int).Set(config.MaxUsdfAmount)
	}
	v.tokens[token] = config
	return nil
}

// ClearTokenConfig removes token from the whitelist.
func (v *Vault) ClearTokenConfig(token common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	prev, ok := v.tokens[token]
	if !ok {
		return ErrTokenNotWhitelisted
	}
	v.totalWeights -= prev.Weight
	delete(v.tokens, token)
	v.allTokens = slices.DeleteFunc(v.allTokens, func(a common.Address) bool { return a == token })
	return nil
}

// SetManager allows or revokes account as a manager.
func (v *Vault) SetManager(account common.Address, active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if active {
		v.managers[account] = true
	} else {
		delete(v.managers, account)
	}
}

// SetInManagerMode restricts USDF minting and burning to managers.
func (v *Vault) SetInManagerMode(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inManagerMode = enabled
}

// SetMaxLeverage sets the leverage cap in basis points.
func (v *Vault) SetMaxLeverage(maxLeverage uint64) error {
	if maxLeverage <= fees.BasisPointsDivisor {
		return ErrExcessiveLeverage
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxLeverage = maxLeverage
	return nil
}

// WithdrawFees sends the collected fees of token to receiver.
func (v *Vault) WithdrawFees(token, receiver common.Address) (*big.Int, error) {
	var amount *big.Int
	err := v.atomic(func() error {
		amount = v.get(v.feeReserves, token)
		if amount.Sign() == 0 {
			return nil
		}
		v.set(v.feeReserves, token, new(big.Int))
		return v.transferOut(token, amount, receiver)
	})
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// =========================================================================
// Views
// =========================================================================

// TokenConfig returns the configuration of token.
func (v *Vault) TokenConfig(token common.Address) (TokenConfig, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.tokens[token]
	return c, ok
}

// WhitelistedTokens returns the pool assets in whitelisting order.
func (v *Vault) WhitelistedTokens() []common.Address {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.allTokens)
}

// TotalWeights returns the sum of all token weights.
func (v *Vault) TotalWeights() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.totalWeights
}

func (v *Vault) PoolAmount(token common.Address) *big.Int {
	return v.view(v.poolAmounts, token)
}

func (v *Vault) ReservedAmount(token common.Address) *big.Int {
	return v.view(v.reservedAmounts, token)
}

func (v *Vault) UsdfAmount(token common.Address) *big.Int {
	return v.view(v.usdfAmounts, token)
}

func (v *Vault) FeeReserve(token common.Address) *big.Int {
	return v.view(v.feeReserves, token)
}

func (v *Vault) GuaranteedUsd(token common.Address) *big.Int {
	return v.view(v.guaranteedUsd, token)
}

func (v *Vault) GlobalShortSize(token common.Address) *big.Int {
	return v.view(v.globalShortSizes, token)
}

// TargetUsdfAmount returns the USDF amount token would carry at its weight.
func (v *Vault) TargetUsdfAmount(token common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.targetUsdfAmount(token)
}

// Aum returns the pool's assets under management in USD at 1e30.
func (v *Vault) Aum(maximise bool) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	aum := new(big.Int)
	shortProfits := new(big.Int)
	for _, token := range v.allTokens {
		config := v.tokens[token]
		pool := v.get(v.poolAmounts, token)
		shortSize := v.get(v.globalShortSizes, token)
		guaranteed := v.get(v.guaranteedUsd, token)
		if pool.Sign() == 0 && shortSize.Sign() == 0 && guaranteed.Sign() == 0 {
			continue
		}

		price, err := v.oracle.Price(token, maximise)
		if err != nil {
			return nil, err
		}
		if config.IsStable {
			aum.Add(aum, oracle.USD(pool, price, config.Decimals))
			continue
		}

		if shortSize.Sign() > 0 {
			avg := v.get(v.globalShortAveragePrices, token)
			if avg.Sign() > 0 {
				delta := priceDeltaUsd(shortSize, avg, price)
				if price.Cmp(avg) > 0 {
					aum.Add(aum, delta)
				} else {
					shortProfits.Add(shortProfits, delta)
				}
			}
		}
		aum.Add(aum, guaranteed)
		available := new(big.Int).Sub(pool, v.get(v.reservedAmounts, token))
		aum.Add(aum, oracle.USD(available, price, config.Decimals))
	}

	if shortProfits.Cmp(aum) > 0 {
		return new(big.Int), nil
	}
	return aum.Sub(aum, shortProfits), nil
}

// AumInUsdf returns Aum scaled to USDF precision.
func (v *Vault) AumInUsdf(maximise bool) (*big.Int, error) {
	aum, err := v.Aum(maximise)
	if err != nil {
		return nil, err
	}
	return usdToUsdf(aum), nil
}

// =========================================================================
// Internal Functions
// =========================================================================

// atomic runs fn under the vault lock and reverts every journaled change if
// it fails. Undo entries take the lock themselves, so the revert runs after
// it is released.
func (v *Vault) atomic(fn func() error) error {
	snap := v.journal.Snapshot()
	v.mu.Lock()
	err := fn()
	v.mu.Unlock()
	if err != nil {
		v.journal.RevertToSnapshot(snap)
	}
	return err
}

func (v *Vault) view(m amounts, token common.Address) *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.get(m, token))
}

func (v *Vault) get(m amounts, token common.Address) *big.Int {
	if a, ok := m[token]; ok {
		return a
	}
	return new(big.Int)
}

func (v *Vault) set(m amounts, token common.Address, value *big.Int) {
	prev, existed := m[token]
	m[token] = value

	v.journal.Append(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if existed {
			m[token] = prev
		} else {
			delete(m, token)
		}
	})
}

func (v *Vault) targetUsdfAmount(token common.Address) *big.Int {
	supply := v.ledger.TotalSupply(v.usdf)
	config, ok := v.tokens[token]
	if supply.Sign() == 0 || !ok || v.totalWeights == 0 {
		return new(big.Int)
	}
	target := new(big.Int).Mul(supply, new(big.Int).SetUint64(config.Weight))
	return target.Div(target, new(big.Int).SetUint64(v.totalWeights))
}

// pool exposes USDF accounting to the fee engine while the vault lock is held.
func (v *Vault) pool() fees.PoolState {
	return lockedPool{v}
}

type lockedPool struct {
	v *Vault
}

func (p lockedPool) UsdfAmount(token common.Address) *big.Int {
	return new(big.Int).Set(p.v.get(p.v.usdfAmounts, token))
}

func (p lockedPool) TargetUsdfAmount(token common.Address) *big.Int {
	return p.v.targetUsdfAmount(token)
}

func (v *Vault) validateManager(caller common.Address) error {
	if v.inManagerMode && !v.managers[caller] {
		return ErrForbidden
	}
	return nil
}

func (v *Vault) tokenConfig(token common.Address) (TokenConfig, error) {
	config, ok := v.tokens[token]
	if !ok {
		return TokenConfig{}, ErrTokenNotWhitelisted
	}
	return config, nil
}

// transferIn returns how much of token arrived since the last observation.
func (v *Vault) transferIn(token common.Address) *big.Int {
	prev := v.get(v.tokenBalances, token)
	next := v.ledger.BalanceOf(token, v.address)
	v.set(v.tokenBalances, token, next)
	return new(big.Int).Sub(next, prev)
}

func (v *Vault) transferOut(token common.Address, amount *big.Int, receiver common.Address) error {
	if err := v.ledger.Transfer(token, v.address, receiver, amount); err != nil {
		return err
	}
	v.set(v.tokenBalances, token, v.ledger.BalanceOf(token, v.address))
	return nil
}

// updateTokenBalance re-syncs the observed balance after an out-of-band
// change such as a burn.
func (v *Vault) updateTokenBalance(token common.Address) {
	v.set(v.tokenBalances, token, v.ledger.BalanceOf(token, v.address))
}

func (v *Vault) increasePoolAmount(token common.Address, amount *big.Int) error {
	next := new(big.Int).Add(v.get(v.poolAmounts, token), amount)
	if next.Cmp(v.ledger.BalanceOf(token, v.address)) > 0 {
		return ErrPoolExceedsBalance
	}
	v.set(v.poolAmounts, token, next)
	return nil
}

func (v *Vault) decreasePoolAmount(token common.Address, amount *big.Int) error {
	pool := v.get(v.poolAmounts, token)
	if pool.Cmp(amount) < 0 {
		return ErrInsufficientPoolAmount
	}
	next := new(big.Int).Sub(pool, amount)
	if v.get(v.reservedAmounts, token).Cmp(next) > 0 {
		return ErrReserveExceedsPool
	}
	v.set(v.poolAmounts, token, next)
	return nil
}

func (v *Vault) increaseReservedAmount(token common.Address, amount *big.Int) error {
	next := new(big.Int).Add(v.get(v.reservedAmounts, token), amount)
	if next.Cmp(v.get(v.poolAmounts, token)) > 0 {
		return ErrReserveExceedsPool
	}
	v.set(v.reservedAmounts, token, next)
	return nil
}

func (v *Vault) decreaseReservedAmount(token common.Address, amount *big.Int) error {
	reserved := v.get(v.reservedAmounts, token)
	if reserved.Cmp(amount) < 0 {
		return ErrInsufficientPoolAmount
	}
	v.set(v.reservedAmounts, token, new(big.Int).Sub(reserved, amount))
	return nil
}

func (v *Vault) increaseUsdfAmount(token common.Address, amount *big.Int) error {
	next := new(big.Int).Add(v.get(v.usdfAmounts, token), amount)
	if limit := v.tokens[token].MaxUsdfAmount; limit != nil && limit.Sign() > 0 && next.Cmp(limit) > 0 {
		return ErrMaxUsdfExceeded
	}
	v.set(v.usdfAmounts, token, next)
	return nil
}

// decreaseUsdfAmount floors at zero; USDF debt can drift below redemptions
// when prices move.
func (v *Vault) decreaseUsdfAmount(token common.Address, amount *big.Int) {
	next := new(big.Int).Sub(v.get(v.usdfAmounts, token), amount)
	if next.Sign() < 0 {
		next.SetUint64(0)
	}
	v.set(v.usdfAmounts, token, next)
}

func (v *Vault) addGuaranteedUsd(token common.Address, delta *big.Int) {
	next := new(big.Int).Add(v.get(v.guaranteedUsd, token), delta)
	if next.Sign() < 0 {
		next.SetUint64(0)
	}
	v.set(v.guaranteedUsd, token, next)
}

// collectSwapFees books the fee on amount into the fee reserve and returns
// what is left.
func (v *Vault) collectSwapFees(token common.Address, amount *big.Int, feeBps uint64) *big.Int {
	afterFees := fees.AmountAfterFees(amount, feeBps)
	fee := new(big.Int).Sub(amount, afterFees)
	if fee.Sign() > 0 {
		v.set(v.feeReserves, token, new(big.Int).Add(v.get(v.feeReserves, token), fee))
	}
	return afterFees
}

// priceDeltaUsd returns size * |avg - price| / avg.
func priceDeltaUsd(size, avg, price *big.Int) *big.Int {
	diff := new(big.Int).Sub(avg, price)
	diff.Abs(diff)
	delta := diff.Mul(diff, size)
	return delta.Div(delta, avg)
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// adjustForDecimals rescales amount from one token precision to another.
func adjustForDecimals(amount *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Mul(amount, pow10(to))
	return out.Div(out, pow10(from))
}

func usdToUsdf(usd *big.Int) *big.Int {
	out := new(big.Int).Mul(usd, pow10(UsdfDecimals))
	return out.Div(out, oracle.PricePrecision)
}
