// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fees

import (
	"math"
	"math/big"
	"math/bits"
)

var bpsDivisor = big.NewInt(BasisPointsDivisor)

// PoolImbalanceFee prices an action that moves an asset's USDF amount from
// initial by delta, relative to its target amount.
//
// An action that brings the asset closer to target earns a rebate scaled by
// the current deviation. An action that pushes it away pays a tax scaled by
// the average deviation across the move. The tax has no upper bound beyond
// saturating at math.MaxUint64.
func PoolImbalanceFee(initial, target, delta *big.Int, baseFeeBps, taxFeeBps uint64, isIncrement bool) uint64 {
	if target == nil || target.Sign() <= 0 {
		return baseFeeBps
	}
	initial = orZero(initial)
	delta = orZero(delta)

	next := new(big.Int)
	if isIncrement {
		next.Add(initial, delta)
	} else {
		next.Sub(initial, delta)
		if next.Sign() < 0 {
			next.SetUint64(0)
		}
	}

	initialDiff := absDiff(initial, target)
	nextDiff := absDiff(next, target)
	tax := new(big.Int).SetUint64(taxFeeBps)

	if nextDiff.Cmp(initialDiff) < 0 {
		rebate := tax.Mul(tax, initialDiff)
		rebate.Div(rebate, target)
		if rebate.Cmp(new(big.Int).SetUint64(baseFeeBps)) >= 0 {
			return 0
		}
		return baseFeeBps - rebate.Uint64()
	}

	averageDiff := new(big.Int).Add(initialDiff, nextDiff)
	averageDiff.Rsh(averageDiff, 1)
	surcharge := tax.Mul(tax, averageDiff)
	surcharge.Div(surcharge, target)
	if !surcharge.IsUint64() {
		return math.MaxUint64
	}
	sum, carry := bits.Add64(baseFeeBps, surcharge.Uint64(), 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// ClampBps bounds a basis-point value to the divisor.
func ClampBps(bps uint64) uint64 {
	if bps > BasisPointsDivisor {
		return BasisPointsDivisor
	}
	return bps
}

// FeeAmount returns amount * bps / 10000 with bps clamped to [0, 10000].
func FeeAmount(amount *big.Int, bps uint64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(ClampBps(bps)))
	return fee.Div(fee, bpsDivisor)
}

// AmountAfterFees returns amount * (10000 - bps) / 10000 with bps clamped.
func AmountAfterFees(amount *big.Int, bps uint64) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(BasisPointsDivisor-ClampBps(bps)))
	return out.Div(out, bpsDivisor)
}

func absDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
