// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/perps/fees"
	"github.com/luxfi/perps/oracle"
)

// Position is a leveraged position backed by the pool. Size, Collateral and
// RealisedPnl are USD at oracle.PricePrecision; ReserveAmount is in collateral
// token units.
type Position struct {
	Size              *big.Int
	Collateral        *big.Int
	AveragePrice      *big.Int
	ReserveAmount     *big.Int
	RealisedPnl       *big.Int
	LastIncreasedTime uint64
}

func newPosition() *Position {
	return &Position{
		Size:          new(big.Int),
		Collateral:    new(big.Int),
		AveragePrice:  new(big.Int),
		ReserveAmount: new(big.Int),
		RealisedPnl:   new(big.Int),
	}
}

func (p *Position) clone() *Position {
	return &Position{
		Size:              new(big.Int).Set(p.Size),
		Collateral:        new(big.Int).Set(p.Collateral),
		AveragePrice:      new(big.Int).Set(p.AveragePrice),
		ReserveAmount:     new(big.Int).Set(p.ReserveAmount),
		RealisedPnl:       new(big.Int).Set(p.RealisedPnl),
		LastIncreasedTime: p.LastIncreasedTime,
	}
}

// PositionKey identifies a position by owner, collateral, index token and side.
func PositionKey(account, collateralToken, indexToken common.Address, isLong bool) [32]byte {
	h := blake3.New()
	h.Write(account.Bytes())
	h.Write(collateralToken.Bytes())
	h.Write(indexToken.Bytes())
	if isLong {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// Position returns a copy of the position, if open.
func (v *Vault) Position(account, collateralToken, indexToken common.Address, isLong bool) (*Position, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[PositionKey(account, collateralToken, indexToken, isLong)]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// PositionDelta returns the unrealised pnl of an open position.
func (v *Vault) PositionDelta(account, collateralToken, indexToken common.Address, isLong bool) (bool, *big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[PositionKey(account, collateralToken, indexToken, isLong)]
	if !ok {
		return false, nil, ErrPositionNotFound
	}
	return v.delta(indexToken, p.Size, p.AveragePrice, isLong)
}

// IncreasePosition grows a position by sizeDelta USD, adding whatever
// collateral token the caller transferred into the vault beforehand. The
// open fee is charged from collateral at the asset's first fee tier.
func (v *Vault) IncreasePosition(caller, account, collateralToken, indexToken common.Address, sizeDelta *big.Int, isLong bool) error {
	return v.atomic(func() error {
		if err := v.validateRouter(caller, account); err != nil {
			return err
		}
		if err := v.validatePositionTokens(collateralToken, indexToken, isLong); err != nil {
			return err
		}
		if sizeDelta == nil || sizeDelta.Sign() < 0 {
			return ErrInvalidPositionSize
		}

		price, err := v.oracle.Price(indexToken, isLong)
		if err != nil {
			return err
		}

		key := PositionKey(account, collateralToken, indexToken, isLong)
		position := newPosition()
		if p, ok := v.positions[key]; ok {
			position = p.clone()
		}

		if position.Size.Sign() == 0 {
			position.AveragePrice = new(big.Int).Set(price)
		} else if sizeDelta.Sign() > 0 {
			next, err := v.nextAveragePrice(indexToken, position, price, sizeDelta, isLong)
			if err != nil {
				return err
			}
			position.AveragePrice = next
		}

		fee := fees.FeeAmount(sizeDelta, v.fees.PositionOpenFeeBps(indexToken))
		collateralDelta := v.transferIn(collateralToken)
		collateralDeltaUsd, err := v.tokenToUsdMin(collateralToken, collateralDelta)
		if err != nil {
			return err
		}

		position.Collateral.Add(position.Collateral, collateralDeltaUsd)
		if position.Collateral.Cmp(fee) < 0 {
			return ErrInsufficientCollateralForFees
		}
		position.Collateral.Sub(position.Collateral, fee)
		feeTokens, err := v.usdToTokenMin(collateralToken, fee)
		if err != nil {
			return err
		}
		v.set(v.feeReserves, collateralToken, new(big.Int).Add(v.get(v.feeReserves, collateralToken), feeTokens))

		position.Size.Add(position.Size, sizeDelta)
		position.LastIncreasedTime = v.chain.Timestamp()
		if position.Size.Sign() == 0 {
			return ErrInvalidPositionSize
		}
		if err := v.validatePosition(position); err != nil {
			return err
		}

		reserveDelta, err := v.usdToTokenMax(collateralToken, sizeDelta)
		if err != nil {
			return err
		}
		position.ReserveAmount.Add(position.ReserveAmount, reserveDelta)

		if isLong {
			guaranteed := new(big.Int).Add(sizeDelta, fee)
			guaranteed.Sub(guaranteed, collateralDeltaUsd)
			v.addGuaranteedUsd(collateralToken, guaranteed)
			if err := v.increasePoolAmount(collateralToken, collateralDelta); err != nil {
				return err
			}
			if err := v.decreasePoolAmount(collateralToken, feeTokens); err != nil {
				return err
			}
		} else {
			v.increaseGlobalShortSize(indexToken, price, sizeDelta)
		}
		if err := v.increaseReservedAmount(collateralToken, reserveDelta); err != nil {
			return err
		}

		v.setPosition(key, position)
		v.log.Debug("position increased",
			"account", account,
			"indexToken", indexToken,
			"isLong", isLong,
			"sizeDelta", sizeDelta,
			"fee", fee,
		)
		return nil
	})
}

// DecreasePosition shrinks a position by sizeDelta USD and withdraws
// collateralDelta USD of collateral. Realised profit and released collateral
// are paid to receiver in the collateral token, net of the tiered close fee.
func (v *Vault) DecreasePosition(caller, account, collateralToken, indexToken common.Address, collateralDelta, sizeDelta *big.Int, isLong bool, receiver common.Address) (*big.Int, error) {
	amountOut := new(big.Int)
	err := v.atomic(func() error {
		if err := v.validateRouter(caller, account); err != nil {
			return err
		}

		key := PositionKey(account, collateralToken, indexToken, isLong)
		stored, ok := v.positions[key]
		if !ok {
			return ErrPositionNotFound
		}
		position := stored.clone()

		if sizeDelta == nil || sizeDelta.Sign() <= 0 || sizeDelta.Cmp(position.Size) > 0 {
			return ErrInvalidPositionSize
		}
		if collateralDelta == nil {
			collateralDelta = new(big.Int)
		}
		if collateralDelta.Sign() < 0 || collateralDelta.Cmp(position.Collateral) > 0 {
			return ErrInsufficientCollateral
		}

		collateralBefore := new(big.Int).Set(position.Collateral)

		reserveDelta := new(big.Int).Mul(position.ReserveAmount, sizeDelta)
		reserveDelta.Div(reserveDelta, position.Size)
		position.ReserveAmount.Sub(position.ReserveAmount, reserveDelta)
		if err := v.decreaseReservedAmount(collateralToken, reserveDelta); err != nil {
			return err
		}

		usdOut, usdOutAfterFee, err := v.reduceCollateral(position, collateralToken, indexToken, collateralDelta, sizeDelta, isLong)
		if err != nil {
			return err
		}

		closed := position.Size.Cmp(sizeDelta) == 0
		if isLong {
			released := new(big.Int).Sub(collateralBefore, position.Collateral)
			released.Sub(released, sizeDelta)
			v.addGuaranteedUsd(collateralToken, released)
		} else {
			v.decreaseGlobalShortSize(indexToken, sizeDelta)
		}

		if closed {
			v.setPosition(key, nil)
		} else {
			position.Size.Sub(position.Size, sizeDelta)
			if err := v.validatePosition(position); err != nil {
				return err
			}
			v.setPosition(key, position)
		}

		if usdOut.Sign() > 0 {
			if isLong {
				tokens, err := v.usdToTokenMin(collateralToken, usdOut)
				if err != nil {
					return err
				}
				if err := v.decreasePoolAmount(collateralToken, tokens); err != nil {
					return err
				}
			}
			out, err := v.usdToTokenMin(collateralToken, usdOutAfterFee)
			if err != nil {
				return err
			}
			if out.Sign() > 0 {
				if err := v.transferOut(collateralToken, out, receiver); err != nil {
					return err
				}
			}
			amountOut = out
		}

		v.log.Debug("position decreased",
			"account", account,
			"indexToken", indexToken,
			"isLong", isLong,
			"sizeDelta", sizeDelta,
			"amountOut", amountOut,
			"closed", closed,
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// reduceCollateral settles pnl and the close fee against the position and
// returns the USD owed to the account before and after the fee.
func (v *Vault) reduceCollateral(position *Position, collateralToken, indexToken common.Address, collateralDelta, sizeDelta *big.Int, isLong bool) (*big.Int, *big.Int, error) {
	hasProfit, delta, err := v.delta(indexToken, position.Size, position.AveragePrice, isLong)
	if err != nil {
		return nil, nil, err
	}
	adjustedDelta := new(big.Int).Mul(sizeDelta, delta)
	adjustedDelta.Div(adjustedDelta, position.Size)

	fee := v.fees.PositionCloseFee(indexToken, sizeDelta, adjustedDelta, hasProfit)

	usdOut := new(big.Int)
	if adjustedDelta.Sign() > 0 {
		deltaTokens, err := v.usdToTokenMin(collateralToken, adjustedDelta)
		if err != nil {
			return nil, nil, err
		}
		if hasProfit {
			usdOut.Set(adjustedDelta)
			position.RealisedPnl.Add(position.RealisedPnl, adjustedDelta)
			if !isLong {
				if err := v.decreasePoolAmount(collateralToken, deltaTokens); err != nil {
					return nil, nil, err
				}
			}
		} else {
			if position.Collateral.Cmp(adjustedDelta) < 0 {
				return nil, nil, ErrInsufficientCollateral
			}
			position.Collateral.Sub(position.Collateral, adjustedDelta)
			position.RealisedPnl.Sub(position.RealisedPnl, adjustedDelta)
			if !isLong {
				if err := v.increasePoolAmount(collateralToken, deltaTokens); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	if collateralDelta.Sign() > 0 {
		if position.Collateral.Cmp(collateralDelta) < 0 {
			return nil, nil, ErrInsufficientCollateral
		}
		usdOut.Add(usdOut, collateralDelta)
		position.Collateral.Sub(position.Collateral, collateralDelta)
	}
	if position.Size.Cmp(sizeDelta) == 0 {
		usdOut.Add(usdOut, position.Collateral)
		position.Collateral.SetUint64(0)
	}

	usdOutAfterFee := new(big.Int).Set(usdOut)
	if usdOut.Cmp(fee) > 0 {
		usdOutAfterFee.Sub(usdOut, fee)
	} else {
		if position.Collateral.Cmp(fee) < 0 {
			return nil, nil, ErrInsufficientCollateralForFees
		}
		position.Collateral.Sub(position.Collateral, fee)
		if isLong {
			feeTokens, err := v.usdToTokenMin(collateralToken, fee)
			if err != nil {
				return nil, nil, err
			}
			if err := v.decreasePoolAmount(collateralToken, feeTokens); err != nil {
				return nil, nil, err
			}
		}
	}

	feeTokens, err := v.usdToTokenMin(collateralToken, fee)
	if err != nil {
		return nil, nil, err
	}
	v.set(v.feeReserves, collateralToken, new(big.Int).Add(v.get(v.feeReserves, collateralToken), feeTokens))
	return usdOut, usdOutAfterFee, nil
}

// =========================================================================
// Internal Functions
// =========================================================================

func (v *Vault) setPosition(key [32]byte, position *Position) {
	prev, existed := v.positions[key]
	if position == nil {
		delete(v.positions, key)
	} else {
		v.positions[key] = position
	}

	v.journal.Append(func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if existed {
			v.positions[key] = prev
		} else {
			delete(v.positions, key)
		}
	})
}

// validateRouter allows accounts to manage their own positions and managers
// to act on their behalf.
func (v *Vault) validateRouter(caller, account common.Address) error {
	if caller != account && !v.managers[caller] {
		return ErrForbidden
	}
	return nil
}

func (v *Vault) validatePositionTokens(collateralToken, indexToken common.Address, isLong bool) error {
	collateral, err := v.tokenConfig(collateralToken)
	if err != nil {
		return err
	}
	index, err := v.tokenConfig(indexToken)
	if err != nil {
		return err
	}
	if isLong {
		if collateralToken != indexToken || collateral.IsStable {
			return ErrInvalidTokens
		}
		return nil
	}
	if !collateral.IsStable || index.IsStable || !index.IsShortable {
		return ErrInvalidTokens
	}
	return nil
}

func (v *Vault) validatePosition(position *Position) error {
	if position.Collateral.Sign() == 0 {
		return ErrInsufficientCollateral
	}
	if position.Size.Cmp(position.Collateral) < 0 {
		return ErrInvalidPositionSize
	}
	leverage := new(big.Int).Mul(position.Size, big.NewInt(fees.BasisPointsDivisor))
	leverage.Div(leverage, position.Collateral)
	if leverage.Cmp(new(big.Int).SetUint64(v.maxLeverage)) > 0 {
		return ErrExcessiveLeverage
	}
	return nil
}

// delta returns whether a position of size opened at averagePrice is in
// profit and by how much, marked at the price the protocol would close at.
func (v *Vault) delta(indexToken common.Address, size, averagePrice *big.Int, isLong bool) (bool, *big.Int, error) {
	if averagePrice.Sign() <= 0 {
		return false, nil, ErrInvalidAveragePrice
	}
	price, err := v.oracle.Price(indexToken, !isLong)
	if err != nil {
		return false, nil, err
	}
	delta := priceDeltaUsd(size, averagePrice, price)
	if isLong {
		return price.Cmp(averagePrice) > 0, delta, nil
	}
	return averagePrice.Cmp(price) > 0, delta, nil
}

func (v *Vault) nextAveragePrice(indexToken common.Address, position *Position, nextPrice, sizeDelta *big.Int, isLong bool) (*big.Int, error) {
	delta := priceDeltaUsd(position.Size, position.AveragePrice, nextPrice)
	hasProfit := nextPrice.Cmp(position.AveragePrice) > 0
	if !isLong {
		hasProfit = position.AveragePrice.Cmp(nextPrice) > 0
	}

	nextSize := new(big.Int).Add(position.Size, sizeDelta)
	divisor := new(big.Int).Set(nextSize)
	if hasProfit == isLong {
		divisor.Add(divisor, delta)
	} else {
		divisor.Sub(divisor, delta)
	}
	if divisor.Sign() <= 0 {
		return nil, ErrInvalidAveragePrice
	}
	next := new(big.Int).Mul(nextPrice, nextSize)
	return next.Div(next, divisor), nil
}

func (v *Vault) increaseGlobalShortSize(indexToken common.Address, price, sizeDelta *big.Int) {
	size := v.get(v.globalShortSizes, indexToken)
	avg := v.get(v.globalShortAveragePrices, indexToken)

	nextAvg := new(big.Int).Set(price)
	if size.Sign() > 0 && avg.Sign() > 0 {
		delta := priceDeltaUsd(size, avg, price)
		nextSize := new(big.Int).Add(size, sizeDelta)
		divisor := new(big.Int).Set(nextSize)
		if avg.Cmp(price) > 0 {
			divisor.Sub(divisor, delta)
		} else {
			divisor.Add(divisor, delta)
		}
		if divisor.Sign() > 0 {
			nextAvg.Mul(price, nextSize)
			nextAvg.Div(nextAvg, divisor)
		}
	}
	v.set(v.globalShortAveragePrices, indexToken, nextAvg)
	v.set(v.globalShortSizes, indexToken, new(big.Int).Add(size, sizeDelta))
}

func (v *Vault) decreaseGlobalShortSize(indexToken common.Address, sizeDelta *big.Int) {
	next := new(big.Int).Sub(v.get(v.globalShortSizes, indexToken), sizeDelta)
	if next.Sign() < 0 {
		next.SetUint64(0)
	}
	v.set(v.globalShortSizes, indexToken, next)
}

func (v *Vault) tokenToUsdMin(token common.Address, amount *big.Int) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int), nil
	}
	price, err := v.oracle.Price(token, false)
	if err != nil {
		return nil, err
	}
	return oracle.USD(amount, price, v.tokens[token].Decimals), nil
}

func (v *Vault) usdToTokenMin(token common.Address, usd *big.Int) (*big.Int, error) {
	return v.usdToToken(token, usd, true)
}

func (v *Vault) usdToTokenMax(token common.Address, usd *big.Int) (*big.Int, error) {
	return v.usdToToken(token, usd, false)
}

func (v *Vault) usdToToken(token common.Address, usd *big.Int, maximisePrice bool) (*big.Int, error) {
	if usd.Sign() == 0 {
		return new(big.Int), nil
	}
	price, err := v.oracle.Price(token, maximisePrice)
	if err != nil {
		return nil, err
	}
	return oracle.TokenAmount(usd, price, v.tokens[token].Decimals), nil
}
