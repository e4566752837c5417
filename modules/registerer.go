// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package modules

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

var (
	ErrInvalidName         = errors.New("invalid module name")
	ErrAddressNotInRange   = errors.New("address not in a reserved range")
	ErrDuplicateName       = errors.New("name already registered")
	ErrDuplicateAddress    = errors.New("address already registered")
	ErrBlackholeAddress    = errors.New("address overlaps with blackhole address")
	ErrAddressSpaceFull    = errors.New("reserved range exhausted")
	ErrInvalidAddressRange = errors.New("invalid address range")
)

// AddressRange represents a continuous range of addresses
type AddressRange struct {
	Start common.Address
	End   common.Address
}

// Contains returns true iff [addr] is contained within the (inclusive)
// range of addresses defined by [a].
func (a *AddressRange) Contains(addr common.Address) bool {
	addrBytes := addr.Bytes()
	return bytes.Compare(addrBytes, a.Start[:]) >= 0 && bytes.Compare(addrBytes, a.End[:]) <= 0
}

// size returns the number of addresses in the range.
func (a *AddressRange) size() *big.Int {
	n := new(big.Int).SetBytes(a.End[:])
	n.Sub(n, new(big.Int).SetBytes(a.Start[:]))
	return n.Add(n, big.NewInt(1))
}

// BlackholeAddr is the address where assets are burned
var BlackholeAddr = common.Address{
	1, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SettlementRange holds the vault, liquidity manager, routers and the
// tokens they issue (LP-91xx).
var SettlementRange = AddressRange{
	Start: common.HexToAddress("0x0000000000000000000000000000000000009100"),
	End:   common.HexToAddress("0x00000000000000000000000000000000000091ff"),
}

// Module is a named component bound to an address.
type Module struct {
	Name    string
	Address common.Address
}

// Registry assigns component addresses within one reserved range.
// Iteration is ordered by address.
type Registry struct {
	reserved AddressRange
	modules  []Module

	mu sync.RWMutex
}

// NewRegistry returns an empty registry over reserved.
func NewRegistry(reserved AddressRange) (*Registry, error) {
	if bytes.Compare(reserved.Start[:], reserved.End[:]) > 0 {
		return nil, ErrInvalidAddressRange
	}
	return &Registry{reserved: reserved}, nil
}

// Range returns the reserved range the registry assigns from.
func (r *Registry) Range() AddressRange {
	return r.reserved
}

// Register binds name to address.
func (r *Registry) Register(name string, address common.Address) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.validate(name, address); err != nil {
		return Module{}, err
	}
	m := Module{Name: name, Address: address}
	r.insert(m)
	return m, nil
}

// Allocate binds name to a free address derived from the name. Collisions
// probe forward through the range.
func (r *Registry) Allocate(name string) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return Module{}, ErrInvalidName
	}
	if _, ok := r.byName(name); ok {
		return Module{}, fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	size := r.reserved.size()
	if size.Cmp(big.NewInt(int64(len(r.modules)))) <= 0 {
		return Module{}, ErrAddressSpaceFull
	}

	h := blake3.New()
	h.Write([]byte(name))
	var digest [32]byte
	h.Digest().Read(digest[:])

	start := new(big.Int).SetBytes(r.reserved.Start[:])
	offset := new(big.Int).SetBytes(digest[:])
	offset.Mod(offset, size)
	// at most len(modules) slots are taken, so one of the next len+1 is free
	for probes := 0; probes <= len(r.modules); probes++ {
		address := common.BigToAddress(new(big.Int).Add(start, offset))
		if err := r.validate(name, address); err == nil {
			m := Module{Name: name, Address: address}
			r.insert(m)
			return m, nil
		}
		offset.Add(offset, big.NewInt(1))
		offset.Mod(offset, size)
	}
	return Module{}, ErrAddressSpaceFull
}

// ByName returns the module registered under name.
func (r *Registry) ByName(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName(name)
}

// ByAddress returns the module registered at address.
func (r *Registry) ByAddress(address common.Address) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.modules {
		if m.Address == address {
			return m, true
		}
	}
	return Module{}, false
}

// Modules returns every registered module ordered by address.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Module(nil), r.modules...)
}

func (r *Registry) validate(name string, address common.Address) error {
	if name == "" {
		return ErrInvalidName
	}
	if address == BlackholeAddr {
		return fmt.Errorf("%w: %s", ErrBlackholeAddress, address)
	}
	if !r.reserved.Contains(address) {
		return fmt.Errorf("%w: %s", ErrAddressNotInRange, address)
	}
	for _, m := range r.modules {
		if m.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateName, name)
		}
		if m.Address == address {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, address)
		}
	}
	return nil
}

func (r *Registry) byName(name string) (Module, bool) {
	for _, m := range r.modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// insert keeps modules sorted by address for deterministic iteration.
func (r *Registry) insert(m Module) {
	r.modules = append(r.modules, m)
	sort.Slice(r.modules, func(i, j int) bool {
		return bytes.Compare(r.modules[i].Address[:], r.modules[j].Address[:]) < 0
	})
}
