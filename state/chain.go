// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import "sync"

// Chain exposes the block context a transition executes in.
type Chain interface {
	BlockNumber() uint64
	Timestamp() uint64
}

// Clock is a Chain whose block number and timestamp are set explicitly.
// Simulations and tests drive it forward with Advance.
type Clock struct {
	mu        sync.RWMutex
	number    uint64
	timestamp uint64
}

// NewClock returns a clock positioned at the given block and unix time.
func NewClock(number, timestamp uint64) *Clock {
	return &Clock{number: number, timestamp: timestamp}
}

func (c *Clock) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.number
}

func (c *Clock) Timestamp() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timestamp
}

// Advance moves the clock forward by the given number of blocks and seconds.
func (c *Clock) Advance(blocks, seconds uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.number += blocks
	c.timestamp += seconds
}

// Set positions the clock at an absolute block and time.
func (c *Clock) Set(number, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.number = number
	c.timestamp = timestamp
}
