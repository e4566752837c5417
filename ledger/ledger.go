// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger keeps fungible balances for the native coin and every token
// the settlement layer touches, including the wrapped native token and the
// USDF and PLP units minted by the vault.
package ledger

import (
	"errors"
	"math/big"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"

	"github.com/luxfi/perps/state"
)

// NativeToken identifies the chain's native coin.
var NativeToken = common.Address{}

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrOverflow              = errors.New("amount overflow")
	ErrInvalidToken          = errors.New("invalid token")
)

// Ledger is a multi-token balance sheet. Every mutation is recorded in the
// journal so an enclosing transition can be rolled back.
type Ledger struct {
	journal *state.Journal
	wrapped common.Address

	balances   map[common.Address]map[common.Address]*uint256.Int // token -> account -> balance
	supplies   map[common.Address]*uint256.Int
	allowances map[[32]byte]*uint256.Int

	mu sync.RWMutex
}

// New creates a ledger. wrapped is the token address holding native coin one
// to one.
func New(journal *state.Journal, wrapped common.Address) *Ledger {
	return &Ledger{
		journal:    journal,
		wrapped:    wrapped,
		balances:   make(map[common.Address]map[common.Address]*uint256.Int),
		supplies:   make(map[common.Address]*uint256.Int),
		allowances: make(map[[32]byte]*uint256.Int),
	}
}

// WrappedNative returns the wrapped native token address.
func (l *Ledger) WrappedNative() common.Address {
	return l.wrapped
}

// BalanceOf returns the balance of account in token.
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(token, account).ToBig()
}

// TotalSupply returns the amount of token in existence.
func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.supplies[token]; ok {
		return s.ToBig()
	}
	return new(big.Int)
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[allowanceKey(token, owner, spender)]; ok {
		return a.ToBig()
	}
	return new(big.Int)
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transfer(token, from, to, value)
}

// Approve sets the allowance of spender over owner's tokens.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(allowanceKey(token, owner, spender), value)
	return nil
}

// TransferFrom moves owner's tokens on behalf of spender, consuming allowance.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey(token, from, spender)
	allowance, ok := l.allowances[key]
	if !ok || allowance.Lt(value) {
		return ErrInsufficientAllowance
	}
	if l.balance(token, from).Lt(value) {
		return ErrInsufficientBalance
	}
	l.setAllowance(key, new(uint256.Int).Sub(allowance, value))
	return l.transfer(token, from, to, value)
}

// Mint creates amount of token in the to account.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	supply := l.supply(token)
	next, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return ErrOverflow
	}
	l.setSupply(token, next)
	l.setBalance(token, to, new(uint256.Int).Add(l.balance(token, to), value))
	return nil
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balance(token, from)
	if balance.Lt(value) {
		return ErrInsufficientBalance
	}
	l.setBalance(token, from, new(uint256.Int).Sub(balance, value))
	l.setSupply(token, new(uint256.Int).Sub(l.supply(token), value))
	return nil
}

// Deposit wraps native coin held by account into the wrapped native token.
// The native coin is held by the wrapped token's own account.
func (l *Ledger) Deposit(account common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	if l.wrapped == NativeToken {
		return ErrInvalidToken
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.balance(NativeToken, account).Lt(value) {
		return ErrInsufficientBalance
	}
	if err := l.transfer(NativeToken, account, l.wrapped, value); err != nil {
		return err
	}
	l.setSupply(l.wrapped, new(uint256.Int).Add(l.supply(l.wrapped), value))
	l.setBalance(l.wrapped, account, new(uint256.Int).Add(l.balance(l.wrapped, account), value))
	return nil
}

// Withdraw unwraps wrapped native token held by account back into native coin.
func (l *Ledger) Withdraw(account common.Address, amount *big.Int) error {
	value, err := toU256(amount)
	if err != nil {
		return err
	}
	if l.wrapped == NativeToken {
		return ErrInvalidToken
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balance(l.wrapped, account)
	if balance.Lt(value) {
		return ErrInsufficientBalance
	}
	l.setBalance(l.wrapped, account, new(uint256.Int).Sub(balance, value))
	l.setSupply(l.wrapped, new(uint256.Int).Sub(l.supply(l.wrapped), value))
	return l.transfer(NativeToken, l.wrapped, account, value)
}

// =========================================================================
// Internal Functions
// =========================================================================

func (l *Ledger) transfer(token, from, to common.Address, value *uint256.Int) error {
	balance := l.balance(token, from)
	if balance.Lt(value) {
		return ErrInsufficientBalance
	}
	if from == to || value.IsZero() {
		return nil
	}
	l.setBalance(token, from, new(uint256.Int).Sub(balance, value))
	l.setBalance(token, to, new(uint256.Int).Add(l.balance(token, to), value))
	return nil
}

func (l *Ledger) balance(token, account common.Address) *uint256.Int {
	if accounts, ok := l.balances[token]; ok {
		if b, ok := accounts[account]; ok {
			return b
		}
	}
	return new(uint256.Int)
}

func (l *Ledger) supply(token common.Address) *uint256.Int {
	if s, ok := l.supplies[token]; ok {
		return s
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(token, account common.Address, value *uint256.Int) {
	accounts, ok := l.balances[token]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		l.balances[token] = accounts
	}
	prev, existed := accounts[account]
	accounts[account] = value

	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.balances[token][account] = prev
		} else {
			delete(l.balances[token], account)
		}
	})
}

func (l *Ledger) setSupply(token common.Address, value *uint256.Int) {
	prev, existed := l.supplies[token]
	l.supplies[token] = value

	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.supplies[token] = prev
		} else {
			delete(l.supplies, token)
		}
	})
}

func (l *Ledger) setAllowance(key [32]byte, value *uint256.Int) {
	prev, existed := l.allowances[key]
	l.allowances[key] = value

	l.journal.Append(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if existed {
			l.allowances[key] = prev
		} else {
			delete(l.allowances, key)
		}
	})
}

// allowanceKey derives the storage key for an (token, owner, spender) triple.
func allowanceKey(token, owner, spender common.Address) [32]byte {
	h := blake3.New()
	h.Write(token.Bytes())
	h.Write(owner.Bytes())
	h.Write(spender.Bytes())
	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}
