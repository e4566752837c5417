// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vault

import (
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/state"
)

// LiquidityOptions configures a LiquidityManager.
type LiquidityOptions struct {
	// Address is the manager's custody account. It must be a vault manager
	// when the vault runs in manager mode.
	Address common.Address
	Plp     common.Address
	// CooldownDuration is the number of seconds an account must wait after
	// adding liquidity before it may remove any.
	CooldownDuration uint64
	Chain            state.Chain
	Journal          *state.Journal
	Log              log.Logger
}

// LiquidityManager issues PLP against deposits into the vault and redeems
// it for any pool asset, pricing shares by the vault's assets under
// management.
type LiquidityManager struct {
	log     log.Logger
	journal *state.Journal
	chain   state.Chain
	ledger  TokenLedger
	vault   *Vault

	address          common.Address
	plp              common.Address
	cooldownDuration uint64
	lastAddedAt      map[common.Address]uint64

	mu sync.Mutex
}

// NewLiquidityManager creates a manager over vault.
func NewLiquidityManager(vault *Vault, opts LiquidityOptions) *LiquidityManager {
	logger := opts.Log
	if logger == nil {
		logger = vault.log
	}
	journal := opts.Journal
	if journal == nil {
		journal = vault.journal
	}
	chain := opts.Chain
	if chain == nil {
		chain = vault.chain
	}
	return &LiquidityManager{
		log:              logger,
		journal:          journal,
		chain:            chain,
		ledger:           vault.ledger,
		vault:            vault,
		address:          opts.Address,
		plp:              opts.Plp,
		cooldownDuration: opts.CooldownDuration,
		lastAddedAt:      make(map[common.Address]uint64),
	}
}

// Address returns the manager's custody account.
func (lm *LiquidityManager) Address() common.Address {
	return lm.address
}

// Plp returns the pool share token.
func (lm *LiquidityManager) Plp() common.Address {
	return lm.plp
}

// SetCooldownDuration sets the add-to-remove cooldown in seconds.
func (lm *LiquidityManager) SetCooldownDuration(seconds uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.cooldownDuration = seconds
}

// LastAddedAt returns when account last added liquidity.
func (lm *LiquidityManager) LastAddedAt(account common.Address) uint64 {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.lastAddedAt[account]
}

// PlpPrice returns the USD value of one PLP at oracle precision.
func (lm *LiquidityManager) PlpPrice(maximise bool) (*big.Int, error) {
	aum, err := lm.vault.Aum(maximise)
	if err != nil {
		return nil, err
	}
	supply := lm.ledger.TotalSupply(lm.plp)
	if supply.Sign() == 0 {
		return new(big.Int), nil
	}
	price := new(big.Int).Mul(aum, pow10(UsdfDecimals))
	return price.Div(price, supply), nil
}

// AddLiquidity moves amount of token from funder into the vault, mints USDF
// against it and issues PLP to account in proportion to the pool's value.
func (lm *LiquidityManager) AddLiquidity(funder, account, token common.Address, amount, minUsdf, minPlp *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	snap := lm.journal.Snapshot()
	minted, err := lm.addLiquidity(funder, account, token, amount, minUsdf, minPlp)
	if err != nil {
		lm.journal.RevertToSnapshot(snap)
		return nil, err
	}
	return minted, nil
}

func (lm *LiquidityManager) addLiquidity(funder, account, token common.Address, amount, minUsdf, minPlp *big.Int) (*big.Int, error) {
	aumInUsdf, err := lm.vault.AumInUsdf(true)
	if err != nil {
		return nil, err
	}
	plpSupply := lm.ledger.TotalSupply(lm.plp)

	if err := lm.ledger.Transfer(token, funder, lm.vault.Address(), amount); err != nil {
		return nil, err
	}
	usdfAmount, err := lm.vault.BuyUSDF(lm.address, token, lm.address)
	if err != nil {
		return nil, err
	}
	if minUsdf != nil && usdfAmount.Cmp(minUsdf) < 0 {
		return nil, ErrInsufficientUsdfOutput
	}

	mintAmount := new(big.Int).Set(usdfAmount)
	if aumInUsdf.Sign() > 0 {
		mintAmount.Mul(usdfAmount, plpSupply)
		mintAmount.Div(mintAmount, aumInUsdf)
	}
	if minPlp != nil && mintAmount.Cmp(minPlp) < 0 {
		return nil, ErrInsufficientPlpOutput
	}
	if err := lm.ledger.Mint(lm.plp, account, mintAmount); err != nil {
		return nil, err
	}
	lm.setLastAddedAt(account, lm.chain.Timestamp())

	lm.log.Info("liquidity added",
		"account", account,
		"token", token,
		"amount", amount,
		"aumInUsdf", aumInUsdf,
		"plpSupply", plpSupply,
		"usdf", usdfAmount,
		"plp", mintAmount,
	)
	return mintAmount, nil
}

// RemoveLiquidity burns plpAmount held by holder on behalf of account and
// pays the redeemed tokenOut to receiver.
func (lm *LiquidityManager) RemoveLiquidity(holder, account, tokenOut common.Address, plpAmount, minOut *big.Int, receiver common.Address) (*big.Int, error) {
	if plpAmount == nil || plpAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	snap := lm.journal.Snapshot()
	out, err := lm.removeLiquidity(holder, account, tokenOut, plpAmount, minOut, receiver)
	if err != nil {
		lm.journal.RevertToSnapshot(snap)
		return nil, err
	}
	return out, nil
}

func (lm *LiquidityManager) removeLiquidity(holder, account, tokenOut common.Address, plpAmount, minOut *big.Int, receiver common.Address) (*big.Int, error) {
	lm.mu.Lock()
	lastAdded, cooldown := lm.lastAddedAt[account], lm.cooldownDuration
	lm.mu.Unlock()
	if lastAdded+cooldown > lm.chain.Timestamp() {
		return nil, ErrCooldownNotPassed
	}

	aumInUsdf, err := lm.vault.AumInUsdf(false)
	if err != nil {
		return nil, err
	}
	plpSupply := lm.ledger.TotalSupply(lm.plp)
	if plpSupply.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	usdfAmount := new(big.Int).Mul(plpAmount, aumInUsdf)
	usdfAmount.Div(usdfAmount, plpSupply)

	usdf := lm.vault.Usdf()
	if balance := lm.ledger.BalanceOf(usdf, lm.address); balance.Cmp(usdfAmount) < 0 {
		if err := lm.ledger.Mint(usdf, lm.address, new(big.Int).Sub(usdfAmount, balance)); err != nil {
			return nil, err
		}
	}

	if err := lm.ledger.Burn(lm.plp, holder, plpAmount); err != nil {
		return nil, err
	}
	if err := lm.ledger.Transfer(usdf, lm.address, lm.vault.Address(), usdfAmount); err != nil {
		return nil, err
	}
	amountOut, err := lm.vault.SellUSDF(lm.address, tokenOut, receiver)
	if err != nil {
		return nil, err
	}
	if minOut != nil && amountOut.Cmp(minOut) < 0 {
		return nil, ErrInsufficientAmountOut
	}

	lm.log.Info("liquidity removed",
		"account", account,
		"token", tokenOut,
		"plp", plpAmount,
		"aumInUsdf", aumInUsdf,
		"usdf", usdfAmount,
		"amountOut", amountOut,
	)
	return amountOut, nil
}

func (lm *LiquidityManager) setLastAddedAt(account common.Address, at uint64) {
	lm.mu.Lock()
	prev, existed := lm.lastAddedAt[account]
	lm.lastAddedAt[account] = at
	lm.mu.Unlock()

	lm.journal.Append(func() {
		lm.mu.Lock()
		defer lm.mu.Unlock()
		if existed {
			lm.lastAddedAt[account] = prev
		} else {
			delete(lm.lastAddedAt, account)
		}
	})
}
