// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/perps/oracle"
)

// BuyUSDF mints USDF to receiver against the token the caller transferred
// into the vault beforehand. The token is priced at its minimum and the mint
// fee follows the pool-imbalance curve.
func (v *Vault) BuyUSDF(caller, token, receiver common.Address) (*big.Int, error) {
	var minted *big.Int
	err := v.atomic(func() error {
		if err := v.validateManager(caller); err != nil {
			return err
		}
		config, err := v.tokenConfig(token)
		if err != nil {
			return err
		}

		tokenAmount := v.transferIn(token)
		if tokenAmount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		price, err := v.oracle.Price(token, false)
		if err != nil {
			return err
		}

		usdfAmount := tokenToUsdf(tokenAmount, price, config.Decimals)
		if usdfAmount.Sign() == 0 {
			return ErrInvalidUsdfAmount
		}

		feeBps := v.fees.MintFeeBps(v.pool(), token, usdfAmount)
		amountAfterFees := v.collectSwapFees(token, tokenAmount, feeBps)
		mintAmount := tokenToUsdf(amountAfterFees, price, config.Decimals)

		if err := v.increaseUsdfAmount(token, mintAmount); err != nil {
			return err
		}
		if err := v.increasePoolAmount(token, amountAfterFees); err != nil {
			return err
		}
		if err := v.ledger.Mint(v.usdf, receiver, mintAmount); err != nil {
			return err
		}

		v.log.Debug("usdf bought",
			"token", token,
			"amount", tokenAmount,
			"usdf", mintAmount,
			"feeBps", feeBps,
		)
		minted = mintAmount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// SellUSDF burns the USDF the caller transferred into the vault and pays out
// token to receiver, priced at its maximum and net of the burn fee.
func (v *Vault) SellUSDF(caller, token, receiver common.Address) (*big.Int, error) {
	var amountOut *big.Int
	err := v.atomic(func() error {
		if err := v.validateManager(caller); err != nil {
			return err
		}
		config, err := v.tokenConfig(token)
		if err != nil {
			return err
		}

		usdfAmount := v.transferIn(v.usdf)
		if usdfAmount.Sign() <= 0 {
			return ErrInvalidUsdfAmount
		}
		price, err := v.oracle.Price(token, true)
		if err != nil {
			return err
		}

		redemption := usdfToToken(usdfAmount, price, config.Decimals)
		if redemption.Sign() == 0 {
			return ErrInvalidRedemptionAmount
		}

		feeBps := v.fees.BurnFeeBps(v.pool(), token, usdfAmount)

		v.decreaseUsdfAmount(token, usdfAmount)
		if err := v.decreasePoolAmount(token, redemption); err != nil {
			return err
		}
		if err := v.ledger.Burn(v.usdf, v.address, usdfAmount); err != nil {
			return err
		}
		v.updateTokenBalance(v.usdf)

		out := v.collectSwapFees(token, redemption, feeBps)
		if out.Sign() == 0 {
			return ErrInvalidAmount
		}
		if err := v.transferOut(token, out, receiver); err != nil {
			return err
		}

		v.log.Debug("usdf sold",
			"token", token,
			"usdf", usdfAmount,
			"amountOut", out,
			"feeBps", feeBps,
		)
		amountOut = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// Swap exchanges the tokenIn the caller transferred into the vault for
// tokenOut. The fee is the larger of the two legs' imbalance fees.
func (v *Vault) Swap(caller, tokenIn, tokenOut, receiver common.Address) (*big.Int, error) {
	var amountOut *big.Int
	err := v.atomic(func() error {
		if tokenIn == tokenOut {
			return ErrInvalidTokens
		}
		configIn, err := v.tokenConfig(tokenIn)
		if err != nil {
			return err
		}
		configOut, err := v.tokenConfig(tokenOut)
		if err != nil {
			return err
		}

		amountIn := v.transferIn(tokenIn)
		if amountIn.Sign() <= 0 {
			return ErrInvalidAmount
		}
		priceIn, err := v.oracle.Price(tokenIn, false)
		if err != nil {
			return err
		}
		priceOut, err := v.oracle.Price(tokenOut, true)
		if err != nil {
			return err
		}

		out := new(big.Int).Mul(amountIn, priceIn)
		out.Div(out, priceOut)
		out = adjustForDecimals(out, configIn.Decimals, configOut.Decimals)

		usdfAmount := tokenToUsdf(amountIn, priceIn, configIn.Decimals)
		isStableSwap := configIn.IsStable && configOut.IsStable
		feeBps := v.fees.SwapFeeBps(v.pool(), tokenIn, tokenOut, usdfAmount, isStableSwap)
		outAfterFees := v.collectSwapFees(tokenOut, out, feeBps)
		if outAfterFees.Sign() == 0 {
			return ErrInsufficientAmountOut
		}

		if err := v.increaseUsdfAmount(tokenIn, usdfAmount); err != nil {
			return err
		}
		v.decreaseUsdfAmount(tokenOut, usdfAmount)
		if err := v.increasePoolAmount(tokenIn, amountIn); err != nil {
			return err
		}
		if err := v.decreasePoolAmount(tokenOut, out); err != nil {
			return err
		}
		if err := v.transferOut(tokenOut, outAfterFees, receiver); err != nil {
			return err
		}

		v.log.Debug("swap",
			"caller", caller,
			"tokenIn", tokenIn,
			"tokenOut", tokenOut,
			"amountIn", amountIn,
			"amountOut", outAfterFees,
			"feeBps", feeBps,
		)
		amountOut = outAfterFees
		return nil
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// tokenToUsdf values a token amount in USDF units.
func tokenToUsdf(amount, price *big.Int, decimals uint8) *big.Int {
	usd := new(big.Int).Mul(amount, price)
	usd.Div(usd, oracle.PricePrecision)
	return adjustForDecimals(usd, decimals, UsdfDecimals)
}

// usdfToToken converts a USDF amount to token units at price.
func usdfToToken(usdfAmount, price *big.Int, decimals uint8) *big.Int {
	amount := new(big.Int).Mul(usdfAmount, oracle.PricePrecision)
	amount.Div(amount, price)
	return adjustForDecimals(amount, UsdfDecimals, decimals)
}
