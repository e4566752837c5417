// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package router implements delayed request execution. Users create
// requests that escrow their input and a native execution fee; keepers, or
// the owner after a longer delay, execute them later at the then-current
// oracle price, or cancel them for a refund.
package router

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/ledger"
	"github.com/luxfi/perps/state"
)

// TokenLedger is the custody the router escrows into.
type TokenLedger interface {
	BalanceOf(token, account common.Address) *big.Int
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Deposit(account common.Address, amount *big.Int) error
	Withdraw(account common.Address, amount *big.Int) error
	WrappedNative() common.Address
}

// PriceOracle returns the min or max USD price of an asset.
type PriceOracle interface {
	Price(asset common.Address, maximise bool) (*big.Int, error)
}

// Custody is the router's escrow account.
type Custody struct {
	Address common.Address
	Ledger  TokenLedger
}

// PayOut sends amount of token from escrow to receiver. With unwrap set the
// token must be the wrapped native token and receiver gets native coin.
func (c Custody) PayOut(token, receiver common.Address, amount *big.Int, unwrap bool) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if !unwrap {
		return c.Ledger.Transfer(token, c.Address, receiver, amount)
	}
	if token != c.Ledger.WrappedNative() {
		return ErrInvalidPath
	}
	if err := c.Ledger.Withdraw(c.Address, amount); err != nil {
		return err
	}
	return c.Ledger.Transfer(ledger.NativeToken, c.Address, receiver, amount)
}

// Handler supplies the action-specific part of a router.
type Handler[R Request] interface {
	// Kind names the action, and namespaces the router's store.
	Kind() string
	// NewRequest returns an empty request to decode into.
	NewRequest() R
	// Validate checks the payload of a new request.
	Validate(req R) error
	// Input returns the token and amount escrowed for req.
	Input(req R) (common.Address, *big.Int)
	// Output returns the token req pays out.
	Output(req R) common.Address
	// Execute checks the current price against the request's bound and
	// settles it from custody, returning the amount delivered.
	Execute(custody Custody, req R) (*big.Int, error)
}

// Options configures a Router.
type Options struct {
	// Address is the router's custody account.
	Address common.Address
	Admin   common.Address
	Config  Config
	// DB persists the request store. An in-memory database is used when nil.
	DB      database.Database
	Ledger  TokenLedger
	Chain   state.Chain
	Journal *state.Journal
	Log     log.Logger
}

// BatchResult summarises one batch sweep.
type BatchResult struct {
	// Start and End are the cursor before and after the sweep.
	Start   uint64
	End     uint64
	Settled int
	Failed  int
	Skipped int
	// Refunded counts expired requests cancelled back to their owners.
	Refunded int
	// Stalled is set when the sweep stopped at a request still inside its
	// keeper delay.
	Stalled bool
}

type outcome int

const (
	outcomeCleared outcome = iota
	outcomePending
	outcomeDone
	outcomeRefunded
)

// Router queues requests of one action kind and settles them after their
// delay window.
type Router[R Request] struct {
	log     log.Logger
	journal *state.Journal
	chain   state.Chain
	ledger  TokenLedger
	handler Handler[R]
	store   *Store[R]

	address common.Address
	admin   common.Address
	config  Config
	keepers map[common.Address]bool

	mu sync.RWMutex
}

// New creates a router for handler's action kind.
func New[R Request](opts Options, handler Handler[R]) (*Router[R], error) {
	if err := opts.Config.Verify(); err != nil {
		return nil, err
	}
	if opts.Ledger == nil || opts.Chain == nil {
		return nil, fmt.Errorf("%w: ledger and chain are required", ErrInvalidConfig)
	}
	db := opts.DB
	if db == nil {
		db = memdb.New()
	}
	store, err := NewStore(db, handler.Kind(), handler.NewRequest)
	if err != nil {
		return nil, err
	}
	logger := opts.Log
	if logger == nil {
		logger = log.Root()
	}
	journal := opts.Journal
	if journal == nil {
		journal = state.NewJournal()
	}
	return &Router[R]{
		log:     logger,
		journal: journal,
		chain:   opts.Chain,
		ledger:  opts.Ledger,
		handler: handler,
		store:   store,
		address: opts.Address,
		admin:   opts.Admin,
		config:  opts.Config.clone(),
		keepers: make(map[common.Address]bool),
	}, nil
}

// Kind returns the action kind the router serves.
func (r *Router[R]) Kind() string {
	return r.handler.Kind()
}

// Address returns the router's custody account.
func (r *Router[R]) Address() common.Address {
	return r.address
}

// Create escrows the input and execution fee of req and queues it under
// the next index of caller. value is the native amount caller sends along.
func (r *Router[R]) Create(caller common.Address, value *big.Int, req R) (Key, error) {
	r.journal.Lock()
	defer r.journal.Unlock()

	cfg := r.Config()
	header := req.RequestHeader()
	if header.ExecutionFee == nil || header.ExecutionFee.Cmp(cfg.MinExecutionFee) < 0 {
		return Key{}, ErrInvalidExecutionFee
	}
	if err := r.handler.Validate(req); err != nil {
		return Key{}, err
	}
	token, amountIn := r.handler.Input(req)
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Key{}, ErrInvalidAmount
	}
	if header.IsNativeIn && token != r.ledger.WrappedNative() {
		return Key{}, ErrInvalidPath
	}
	if header.IsNativeOut && r.handler.Output(req) != r.ledger.WrappedNative() {
		return Key{}, ErrInvalidPath
	}

	expected := new(big.Int).Set(header.ExecutionFee)
	if header.IsNativeIn {
		expected.Add(expected, amountIn)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Cmp(expected) != 0 {
		return Key{}, ErrInvalidMsgValue
	}

	header.Account = caller
	header.BlockNumber = r.chain.BlockNumber()
	header.BlockTime = r.chain.Timestamp()

	snap := r.journal.Snapshot()
	key, err := r.escrow(caller, value, token, amountIn, req)
	if err != nil {
		r.journal.RevertToSnapshot(snap)
		return Key{}, err
	}
	r.journal.Finalise()

	r.log.Info("request created",
		"router", r.handler.Kind(),
		"key", key,
		"account", caller,
		"index", header.Index,
		"amountIn", amountIn,
		"executionFee", header.ExecutionFee,
	)
	return key, nil
}

// Execute settles the request under key. It reports false when the slot is
// already cleared.
func (r *Router[R]) Execute(caller common.Address, key Key, feeReceiver common.Address) (bool, error) {
	r.journal.Lock()
	defer r.journal.Unlock()

	result, err := r.execute(caller, key, feeReceiver, false)
	return result == outcomeDone, err
}

// Cancel refunds the request under key to its owner. It reports false when
// the slot is already cleared.
func (r *Router[R]) Cancel(caller common.Address, key Key, feeReceiver common.Address) (bool, error) {
	r.journal.Lock()
	defer r.journal.Unlock()

	result, err := r.cancel(caller, key, feeReceiver, false)
	return result == outcomeDone, err
}

// ExecuteBatch executes queued requests from the cursor up to endIndex.
// Expired requests are refunded to their owners instead.
func (r *Router[R]) ExecuteBatch(caller common.Address, endIndex uint64, feeReceiver common.Address) (BatchResult, error) {
	return r.batch(caller, endIndex, feeReceiver, r.executeOrRefund)
}

// CancelBatch cancels queued requests from the cursor up to endIndex.
func (r *Router[R]) CancelBatch(caller common.Address, endIndex uint64, feeReceiver common.Address) (BatchResult, error) {
	return r.batch(caller, endIndex, feeReceiver, r.cancel)
}

// =========================================================================
// Admin Functions
// =========================================================================

// SetAdmin hands the admin role to admin.
func (r *Router[R]) SetAdmin(caller, admin common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrForbidden
	}
	r.admin = admin
	return nil
}

// SetKeeper grants or revokes the keeper role.
func (r *Router[R]) SetKeeper(caller, keeper common.Address, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrForbidden
	}
	if active {
		r.keepers[keeper] = true
	} else {
		delete(r.keepers, keeper)
	}
	r.log.Info("keeper updated", "router", r.handler.Kind(), "keeper", keeper, "active", active)
	return nil
}

// SetMinExecutionFee sets the smallest accepted execution fee.
func (r *Router[R]) SetMinExecutionFee(caller common.Address, fee *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrForbidden
	}
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidExecutionFee
	}
	r.config.MinExecutionFee = new(big.Int).Set(fee)
	return nil
}

// SetDelayValues sets the keeper block delay, the owner time delay and the
// expiry age.
func (r *Router[R]) SetDelayValues(caller common.Address, minBlockDelayKeeper, minTimeDelayPublic, maxTimeDelay uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.admin {
		return ErrForbidden
	}
	next := r.config.clone()
	next.MinBlockDelayKeeper = minBlockDelayKeeper
	next.MinTimeDelayPublic = minTimeDelayPublic
	next.MaxTimeDelay = maxTimeDelay
	if err := next.Verify(); err != nil {
		return err
	}
	r.config = next
	return nil
}

// SetRequestKeysStartValue moves the batch cursor.
func (r *Router[R]) SetRequestKeysStartValue(caller common.Address, start uint64) error {
	r.mu.RLock()
	admin := r.admin
	r.mu.RUnlock()
	if caller != admin {
		return ErrForbidden
	}

	r.journal.Lock()
	defer r.journal.Unlock()
	return r.store.SetStart(start)
}

// =========================================================================
// Views
// =========================================================================

// Config returns a copy of the router parameters.
func (r *Router[R]) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config.clone()
}

// Admin returns the admin account.
func (r *Router[R]) Admin() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admin
}

// IsKeeper reports whether account holds the keeper role.
func (r *Router[R]) IsKeeper(account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.keepers[account]
}

// Request returns the pending request under key.
func (r *Router[R]) Request(key Key) (R, bool, error) {
	return r.store.Get(key)
}

// RequestQueueLengths returns the batch cursor and the number of keys ever
// queued.
func (r *Router[R]) RequestQueueLengths() (uint64, uint64) {
	return r.store.Start(), r.store.Len()
}

// NextIndex returns the index the next request of account will receive.
func (r *Router[R]) NextIndex(account common.Address) (uint64, error) {
	return r.store.NextIndex(account)
}

// =========================================================================
// Internal Functions
// =========================================================================

func (r *Router[R]) custody() Custody {
	return Custody{Address: r.address, Ledger: r.ledger}
}

func (r *Router[R]) escrow(caller common.Address, value *big.Int, token common.Address, amountIn *big.Int, req R) (Key, error) {
	if value.Sign() > 0 {
		if err := r.ledger.Transfer(ledger.NativeToken, caller, r.address, value); err != nil {
			return Key{}, err
		}
		if err := r.ledger.Deposit(r.address, value); err != nil {
			return Key{}, err
		}
	}
	if !req.RequestHeader().IsNativeIn {
		if err := r.ledger.TransferFrom(token, r.address, caller, r.address, amountIn); err != nil {
			return Key{}, err
		}
	}
	// The store is written last so a failed escrow leaves it untouched.
	return r.store.Append(req)
}

type transition func(caller common.Address, key Key, feeReceiver common.Address, batch bool) (outcome, error)

func (r *Router[R]) execute(caller common.Address, key Key, feeReceiver common.Address, batch bool) (outcome, error) {
	req, ok, err := r.store.Get(key)
	if err != nil {
		return outcomePending, err
	}
	if !ok {
		return outcomeCleared, nil
	}
	header := req.RequestHeader()
	cfg := r.Config()

	if err := r.validateDelay(caller, header, cfg); err != nil {
		return outcomePending, err
	}
	if r.chain.Timestamp() > header.BlockTime+cfg.MaxTimeDelay {
		return outcomePending, ErrRequestExpired
	}

	snap := r.journal.Snapshot()
	amountOut, err := r.handler.Execute(r.custody(), req)
	if err == nil {
		err = r.finish(caller, key, header, feeReceiver)
	}
	if err != nil {
		r.journal.RevertToSnapshot(snap)
		return outcomePending, err
	}
	r.journal.Finalise()

	r.log.Info("request executed",
		"router", r.handler.Kind(),
		"key", key,
		"account", header.Account,
		"index", header.Index,
		"amountOut", amountOut,
		"batch", batch,
	)
	return outcomeDone, nil
}

func (r *Router[R]) executeOrRefund(caller common.Address, key Key, feeReceiver common.Address, batch bool) (outcome, error) {
	result, err := r.execute(caller, key, feeReceiver, batch)
	if !errors.Is(err, ErrRequestExpired) {
		return result, err
	}
	if result, err = r.cancel(caller, key, feeReceiver, batch); err != nil {
		return result, err
	}
	return outcomeRefunded, nil
}

func (r *Router[R]) cancel(caller common.Address, key Key, feeReceiver common.Address, batch bool) (outcome, error) {
	req, ok, err := r.store.Get(key)
	if err != nil {
		return outcomePending, err
	}
	if !ok {
		return outcomeCleared, nil
	}
	header := req.RequestHeader()
	if err := r.validateDelay(caller, header, r.Config()); err != nil {
		return outcomePending, err
	}

	token, amountIn := r.handler.Input(req)
	snap := r.journal.Snapshot()
	err = r.custody().PayOut(token, header.Account, amountIn, header.IsNativeIn)
	if err == nil {
		err = r.finish(caller, key, header, feeReceiver)
	}
	if err != nil {
		r.journal.RevertToSnapshot(snap)
		return outcomePending, err
	}
	r.journal.Finalise()

	r.log.Info("request cancelled",
		"router", r.handler.Kind(),
		"key", key,
		"account", header.Account,
		"index", header.Index,
		"refund", amountIn,
		"batch", batch,
	)
	return outcomeDone, nil
}

// finish pays the execution fee and clears the slot.
func (r *Router[R]) finish(caller common.Address, key Key, header *Header, feeReceiver common.Address) error {
	if feeReceiver == (common.Address{}) {
		feeReceiver = caller
	}
	if err := r.custody().PayOut(r.ledger.WrappedNative(), feeReceiver, header.ExecutionFee, true); err != nil {
		return fmt.Errorf("failed to pay execution fee: %w", err)
	}
	return r.store.Clear(key)
}

// validateDelay lets keepers act after the block delay and the owner after
// the longer time delay.
func (r *Router[R]) validateDelay(caller common.Address, header *Header, cfg Config) error {
	if r.IsKeeper(caller) {
		if r.chain.BlockNumber() < header.BlockNumber+cfg.MinBlockDelayKeeper {
			return ErrMinDelayNotPassed
		}
		return nil
	}
	if caller != header.Account {
		return ErrForbidden
	}
	if r.chain.Timestamp() < header.BlockTime+cfg.MinTimeDelayPublic {
		return ErrMinDelayNotPassed
	}
	return nil
}

func (r *Router[R]) batch(caller common.Address, endIndex uint64, feeReceiver common.Address, fn transition) (BatchResult, error) {
	if !r.IsKeeper(caller) {
		return BatchResult{}, ErrForbidden
	}

	r.journal.Lock()
	defer r.journal.Unlock()

	start, length := r.store.Start(), r.store.Len()
	result := BatchResult{Start: start, End: start}
	if start >= length || start >= endIndex {
		return result, nil
	}
	end := min(endIndex, length)

	index := start
	for ; index < end; index++ {
		key, err := r.store.KeyAt(index)
		if err != nil {
			return result, err
		}
		done, err := fn(caller, key, feeReceiver, true)
		if errors.Is(err, ErrMinDelayNotPassed) {
			result.Stalled = true
			break
		}
		switch {
		case err != nil:
			result.Failed++
			r.log.Warn("batch request failed", "router", r.handler.Kind(), "key", key, "index", index, "err", err)
		case done == outcomeCleared:
			result.Skipped++
		case done == outcomeRefunded:
			result.Refunded++
		default:
			result.Settled++
		}
	}

	if err := r.store.SetStart(index); err != nil {
		return result, err
	}
	result.End = index
	return result, nil
}
