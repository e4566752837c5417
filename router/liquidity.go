// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"

	"github.com/luxfi/geth/common"
)

// Action kinds of the liquidity routers.
const (
	AddLiquidityKind    = "addLiquidity"
	RemoveLiquidityKind = "removeLiquidity"
)

// AddLiquidityRequest deposits AmountIn of Token into the pool for PLP.
type AddLiquidityRequest struct {
	Header
	Token    common.Address
	AmountIn *big.Int
	MinUsdf  *big.Int
	MinPlp   *big.Int
	// AcceptablePrice is the lowest accepted min price of Token.
	AcceptablePrice *big.Int
	Receiver        common.Address
}

// RemoveLiquidityRequest redeems PlpAmount for TokenOut.
type RemoveLiquidityRequest struct {
	Header
	TokenOut  common.Address
	PlpAmount *big.Int
	MinOut    *big.Int
	// AcceptablePrice is the highest accepted max price of TokenOut.
	AcceptablePrice *big.Int
	Receiver        common.Address
}

// LiquidityManager issues and redeems pool shares.
type LiquidityManager interface {
	Plp() common.Address
	AddLiquidity(funder, account, token common.Address, amount, minUsdf, minPlp *big.Int) (*big.Int, error)
	RemoveLiquidity(holder, account, tokenOut common.Address, plpAmount, minOut *big.Int, receiver common.Address) (*big.Int, error)
}

// AddLiquidityHandler settles add-liquidity requests.
type AddLiquidityHandler struct {
	manager LiquidityManager
	oracle  PriceOracle
}

// NewAddLiquidityHandler returns a handler over manager, priced by feed.
func NewAddLiquidityHandler(manager LiquidityManager, feed PriceOracle) *AddLiquidityHandler {
	return &AddLiquidityHandler{manager: manager, oracle: feed}
}

// NewAddLiquidityRouter builds a router for add-liquidity requests.
func NewAddLiquidityRouter(opts Options, manager LiquidityManager, feed PriceOracle) (*Router[*AddLiquidityRequest], error) {
	return New[*AddLiquidityRequest](opts, NewAddLiquidityHandler(manager, feed))
}

func (h *AddLiquidityHandler) Kind() string {
	return AddLiquidityKind
}

func (h *AddLiquidityHandler) NewRequest() *AddLiquidityRequest {
	return new(AddLiquidityRequest)
}

func (h *AddLiquidityHandler) Validate(req *AddLiquidityRequest) error {
	if req.Token == (common.Address{}) {
		return ErrInvalidPath
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !nonNegative(req.MinUsdf) || !nonNegative(req.MinPlp) {
		return ErrInvalidAmount
	}
	if req.AcceptablePrice == nil || req.AcceptablePrice.Sign() <= 0 {
		return ErrInvalidPriceLimit
	}
	if req.Receiver == (common.Address{}) {
		return ErrInvalidReceiver
	}
	return nil
}

func (h *AddLiquidityHandler) Input(req *AddLiquidityRequest) (common.Address, *big.Int) {
	return req.Token, req.AmountIn
}

func (h *AddLiquidityHandler) Output(*AddLiquidityRequest) common.Address {
	return h.manager.Plp()
}

func (h *AddLiquidityHandler) Execute(custody Custody, req *AddLiquidityRequest) (*big.Int, error) {
	price, err := h.oracle.Price(req.Token, false)
	if err != nil {
		return nil, err
	}
	if price.Cmp(req.AcceptablePrice) < 0 {
		return nil, ErrPriceLowerThanLimit
	}
	return h.manager.AddLiquidity(custody.Address, req.Receiver, req.Token, req.AmountIn, req.MinUsdf, req.MinPlp)
}

// RemoveLiquidityHandler settles remove-liquidity requests.
type RemoveLiquidityHandler struct {
	manager LiquidityManager
	oracle  PriceOracle
}

// NewRemoveLiquidityHandler returns a handler over manager, priced by feed.
func NewRemoveLiquidityHandler(manager LiquidityManager, feed PriceOracle) *RemoveLiquidityHandler {
	return &RemoveLiquidityHandler{manager: manager, oracle: feed}
}

// NewRemoveLiquidityRouter builds a router for remove-liquidity requests.
func NewRemoveLiquidityRouter(opts Options, manager LiquidityManager, feed PriceOracle) (*Router[*RemoveLiquidityRequest], error) {
	return New[*RemoveLiquidityRequest](opts, NewRemoveLiquidityHandler(manager, feed))
}

func (h *RemoveLiquidityHandler) Kind() string {
	return RemoveLiquidityKind
}

func (h *RemoveLiquidityHandler) NewRequest() *RemoveLiquidityRequest {
	return new(RemoveLiquidityRequest)
}

func (h *RemoveLiquidityHandler) Validate(req *RemoveLiquidityRequest) error {
	if req.IsNativeIn {
		return ErrInvalidMsgValue
	}
	if req.TokenOut == (common.Address{}) {
		return ErrInvalidPath
	}
	if req.PlpAmount == nil || req.PlpAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !nonNegative(req.MinOut) {
		return ErrInvalidAmount
	}
	if req.AcceptablePrice == nil || req.AcceptablePrice.Sign() <= 0 {
		return ErrInvalidPriceLimit
	}
	if req.Receiver == (common.Address{}) {
		return ErrInvalidReceiver
	}
	return nil
}

func (h *RemoveLiquidityHandler) Input(req *RemoveLiquidityRequest) (common.Address, *big.Int) {
	return h.manager.Plp(), req.PlpAmount
}

func (h *RemoveLiquidityHandler) Output(req *RemoveLiquidityRequest) common.Address {
	return req.TokenOut
}

// Execute burns the escrowed PLP. Native payouts are redeemed into custody
// first and unwrapped from there.
func (h *RemoveLiquidityHandler) Execute(custody Custody, req *RemoveLiquidityRequest) (*big.Int, error) {
	price, err := h.oracle.Price(req.TokenOut, true)
	if err != nil {
		return nil, err
	}
	if price.Cmp(req.AcceptablePrice) > 0 {
		return nil, ErrPriceHigherThanLimit
	}

	receiver := req.Receiver
	if req.IsNativeOut {
		receiver = custody.Address
	}
	out, err := h.manager.RemoveLiquidity(custody.Address, req.Account, req.TokenOut, req.PlpAmount, req.MinOut, receiver)
	if err != nil {
		return nil, err
	}
	if req.IsNativeOut {
		if err := custody.PayOut(req.TokenOut, req.Receiver, out, true); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func nonNegative(v *big.Int) bool {
	return v == nil || v.Sign() >= 0
}
