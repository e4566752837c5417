// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fees prices every pool-affecting action. Mint, burn and swap fees
// follow a pool-imbalance curve that subsidises actions moving an asset toward
// its target weight and taxes actions moving it away. Position fees follow a
// per-asset schedule stepped on realised pnl relative to position size.
package fees

import (
	"errors"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
)

var (
	ErrInvalidFeeConfig   = errors.New("invalid fee config")
	ErrInvalidFeeFactors  = errors.New("invalid fee factors")
	ErrFeeFactorsMismatch = errors.New("fee factor lengths mismatch")
)

// PoolState exposes the USDF accounting of the pool being priced.
type PoolState interface {
	UsdfAmount(asset common.Address) *big.Int
	TargetUsdfAmount(asset common.Address) *big.Int
}

// FeeTier is one step of an asset's position fee schedule. All values are in
// basis points.
type FeeTier struct {
	RelativePnlThreshold uint64 `json:"relativePnlThreshold"`
	PositionFeeBps       uint64 `json:"positionFeeBps"`
	ProfitFeeBps         uint64 `json:"profitFeeBps"`
}

// Engine computes fees from its configuration and per-asset tier schedules.
type Engine struct {
	config Config
	tiers  map[common.Address][]FeeTier

	mu sync.RWMutex
}

// NewEngine creates an engine with the given configuration.
func NewEngine(config Config) (*Engine, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	return &Engine{
		config: config,
		tiers:  make(map[common.Address][]FeeTier),
	}, nil
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// =========================================================================
// Admin Functions
// =========================================================================

// SetConfig replaces the global rates.
func (e *Engine) SetConfig(config Config) error {
	if err := config.Verify(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = config
	return nil
}

// SetActive toggles the dynamic curve. Inactive mode charges base rates times
// the configured multiplier.
func (e *Engine) SetActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config.IsActive = active
}

// SetTokenFeeFactors replaces the position fee schedule of asset. The three
// slices are parallel; thresholds must start at zero and strictly increase.
// On any error the existing schedule is left untouched.
func (e *Engine) SetTokenFeeFactors(asset common.Address, thresholds, positionFees, profitFees []uint64) error {
	if len(thresholds) != len(positionFees) || len(thresholds) != len(profitFees) {
		return ErrFeeFactorsMismatch
	}

	tiers := make([]FeeTier, len(thresholds))
	for i := range thresholds {
		switch {
		case i == 0 && thresholds[i] != 0:
			return ErrInvalidFeeFactors
		case i > 0 && thresholds[i] <= thresholds[i-1]:
			return ErrInvalidFeeFactors
		case positionFees[i] > BasisPointsDivisor, profitFees[i] > BasisPointsDivisor:
			return ErrInvalidFeeFactors
		}
		tiers[i] = FeeTier{
			RelativePnlThreshold: thresholds[i],
			PositionFeeBps:       positionFees[i],
			ProfitFeeBps:         profitFees[i],
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(tiers) == 0 {
		delete(e.tiers, asset)
		return nil
	}
	e.tiers[asset] = tiers
	return nil
}

// TokenFeeFactors returns a copy of the schedule for asset.
func (e *Engine) TokenFeeFactors(asset common.Address) []FeeTier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]FeeTier(nil), e.tiers[asset]...)
}

// =========================================================================
// Pool Fees
// =========================================================================

// PoolImbalanceFeeBps prices an action of usdfDelta on asset against pool.
func (e *Engine) PoolImbalanceFeeBps(pool PoolState, asset common.Address, usdfDelta *big.Int, baseFeeBps, taxFeeBps uint64, isIncrement bool) uint64 {
	e.mu.RLock()
	config := e.config
	e.mu.RUnlock()

	if !config.IsActive {
		return saturatingMul(baseFeeBps, config.FeeMultiplierIfInactive)
	}
	return PoolImbalanceFee(pool.UsdfAmount(asset), pool.TargetUsdfAmount(asset), usdfDelta, baseFeeBps, taxFeeBps, isIncrement)
}

// MintFeeBps prices minting usdfDelta USDF against asset.
func (e *Engine) MintFeeBps(pool PoolState, asset common.Address, usdfDelta *big.Int) uint64 {
	c := e.Config()
	return e.PoolImbalanceFeeBps(pool, asset, usdfDelta, c.MintBurnFeeBasisPoints, c.TaxBasisPoints, true)
}

// BurnFeeBps prices redeeming usdfDelta USDF for asset.
func (e *Engine) BurnFeeBps(pool PoolState, asset common.Address, usdfDelta *big.Int) uint64 {
	c := e.Config()
	return e.PoolImbalanceFeeBps(pool, asset, usdfDelta, c.MintBurnFeeBasisPoints, c.TaxBasisPoints, false)
}

// SwapFeeBps prices a swap worth usdfDelta from tokenIn to tokenOut. The
// larger of the two legs' fees applies. Stable pairs use the stable rates.
func (e *Engine) SwapFeeBps(pool PoolState, tokenIn, tokenOut common.Address, usdfDelta *big.Int, isStableSwap bool) uint64 {
	c := e.Config()
	baseBps, taxBps := c.SwapFeeBasisPoints, c.TaxBasisPoints
	if isStableSwap {
		baseBps, taxBps = c.StableSwapFeeBasisPoints, c.StableTaxBasisPoints
	}
	feesIn := e.PoolImbalanceFeeBps(pool, tokenIn, usdfDelta, baseBps, taxBps, true)
	feesOut := e.PoolImbalanceFeeBps(pool, tokenOut, usdfDelta, baseBps, taxBps, false)
	return max(feesIn, feesOut)
}

// =========================================================================
// Position Fees
// =========================================================================

// PositionOpenFeeBps returns the fee rate for opening or increasing a
// position. Unrealised pnl is zero, so the first tier applies.
func (e *Engine) PositionOpenFeeBps(asset common.Address) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.config.IsActive {
		return saturatingMul(e.config.MarginFeeBasisPoints, e.config.FeeMultiplierIfInactive)
	}
	if tiers := e.tiers[asset]; len(tiers) > 0 {
		return tiers[0].PositionFeeBps
	}
	return e.config.MarginFeeBasisPoints
}

// PositionCloseFee returns the USD fee for closing sizeDelta of a position
// that realised realizedPnlUsd. The tier is chosen by the greatest threshold
// not above the pnl relative to size; the profit share only applies to gains.
func (e *Engine) PositionCloseFee(asset common.Address, sizeDelta, realizedPnlUsd *big.Int, hasProfit bool) *big.Int {
	if sizeDelta == nil || sizeDelta.Sign() <= 0 {
		return new(big.Int)
	}
	pnl := new(big.Int).Abs(orZero(realizedPnlUsd))

	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.config.IsActive {
		return FeeAmount(sizeDelta, saturatingMul(e.config.MarginFeeBasisPoints, e.config.FeeMultiplierIfInactive))
	}

	tiers := e.tiers[asset]
	if len(tiers) == 0 {
		return FeeAmount(sizeDelta, e.config.MarginFeeBasisPoints)
	}

	relativePnl := new(big.Int).Mul(pnl, bpsDivisor)
	relativePnl.Div(relativePnl, sizeDelta)

	tier := tiers[0]
	for _, t := range tiers[1:] {
		if relativePnl.Cmp(new(big.Int).SetUint64(t.RelativePnlThreshold)) < 0 {
			break
		}
		tier = t
	}

	fee := FeeAmount(sizeDelta, tier.PositionFeeBps)
	if hasProfit {
		fee.Add(fee, FeeAmount(pnl, tier.ProfitFeeBps))
	}
	return fee
}
