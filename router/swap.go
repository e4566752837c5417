// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/perps/oracle"
	"github.com/luxfi/perps/vault"
)

// SwapKind is the action kind of swap routers.
const SwapKind = "swap"

// SwapRequest swaps AmountIn of Path[0] into Path[len-1], optionally through
// one intermediate pool asset.
type SwapRequest struct {
	Header
	Path     []common.Address
	AmountIn *big.Int
	MinOut   *big.Int
	// AcceptablePrice is the lowest accepted ratio of the input price to
	// the output price, at oracle precision. Zero accepts any ratio.
	AcceptablePrice *big.Int
	Receiver        common.Address
}

// SwapVault is the pool a swap router settles against.
type SwapVault interface {
	Address() common.Address
	Usdf() common.Address
	Swap(caller, tokenIn, tokenOut, receiver common.Address) (*big.Int, error)
	BuyUSDF(caller, token, receiver common.Address) (*big.Int, error)
	SellUSDF(caller, token, receiver common.Address) (*big.Int, error)
}

// SwapHandler settles swap requests through a SwapVault.
type SwapHandler struct {
	vault  SwapVault
	oracle PriceOracle
}

// NewSwapHandler returns a handler settling against pool, priced by feed.
func NewSwapHandler(pool SwapVault, feed PriceOracle) *SwapHandler {
	return &SwapHandler{vault: pool, oracle: feed}
}

// NewSwapRouter builds a router for swap requests.
func NewSwapRouter(opts Options, pool SwapVault, feed PriceOracle) (*Router[*SwapRequest], error) {
	return New[*SwapRequest](opts, NewSwapHandler(pool, feed))
}

func (h *SwapHandler) Kind() string {
	return SwapKind
}

func (h *SwapHandler) NewRequest() *SwapRequest {
	return new(SwapRequest)
}

func (h *SwapHandler) Validate(req *SwapRequest) error {
	if len(req.Path) != 2 && len(req.Path) != 3 {
		return ErrInvalidPathLength
	}
	for i := 1; i < len(req.Path); i++ {
		if req.Path[i] == req.Path[i-1] {
			return ErrInvalidPath
		}
	}
	if req.AmountIn == nil || req.AmountIn.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if req.MinOut == nil || req.MinOut.Sign() < 0 {
		return ErrInvalidAmount
	}
	if req.AcceptablePrice == nil || req.AcceptablePrice.Sign() < 0 {
		return ErrInvalidPriceLimit
	}
	if req.Receiver == (common.Address{}) {
		return ErrInvalidReceiver
	}
	return nil
}

func (h *SwapHandler) Input(req *SwapRequest) (common.Address, *big.Int) {
	return req.Path[0], req.AmountIn
}

func (h *SwapHandler) Output(req *SwapRequest) common.Address {
	return req.Path[len(req.Path)-1]
}

// Execute checks the price ratio, routes the escrowed input through every
// hop of the path and pays the final output to the receiver.
func (h *SwapHandler) Execute(custody Custody, req *SwapRequest) (*big.Int, error) {
	if err := h.validatePrice(req); err != nil {
		return nil, err
	}

	amount := req.AmountIn
	last := len(req.Path) - 1
	for i := 0; i < last; i++ {
		if err := custody.Ledger.Transfer(req.Path[i], custody.Address, h.vault.Address(), amount); err != nil {
			return nil, err
		}
		out, err := h.swap(custody.Address, req.Path[i], req.Path[i+1])
		if err != nil {
			return nil, err
		}
		amount = out
	}

	if amount.Cmp(req.MinOut) < 0 {
		return nil, vault.ErrInsufficientAmountOut
	}
	if err := custody.PayOut(req.Path[last], req.Receiver, amount, req.IsNativeOut); err != nil {
		return nil, err
	}
	return amount, nil
}

// swap settles one hop into custody.
func (h *SwapHandler) swap(custody, tokenIn, tokenOut common.Address) (*big.Int, error) {
	usdf := h.vault.Usdf()
	switch {
	case tokenOut == usdf:
		return h.vault.BuyUSDF(custody, tokenIn, custody)
	case tokenIn == usdf:
		return h.vault.SellUSDF(custody, tokenOut, custody)
	default:
		return h.vault.Swap(custody, tokenIn, tokenOut, custody)
	}
}

func (h *SwapHandler) validatePrice(req *SwapRequest) error {
	if req.AcceptablePrice.Sign() == 0 {
		return nil
	}
	priceIn, err := h.price(req.Path[0], false)
	if err != nil {
		return err
	}
	priceOut, err := h.price(req.Path[len(req.Path)-1], true)
	if err != nil {
		return err
	}
	ratio := new(big.Int).Mul(priceIn, oracle.PricePrecision)
	ratio.Div(ratio, priceOut)
	if ratio.Cmp(req.AcceptablePrice) < 0 {
		return ErrPriceLowerThanLimit
	}
	return nil
}

// price treats USDF as pegged at one dollar.
func (h *SwapHandler) price(token common.Address, maximise bool) (*big.Int, error) {
	if token == h.vault.Usdf() {
		return new(big.Int).Set(oracle.PricePrecision), nil
	}
	return h.oracle.Price(token, maximise)
}
