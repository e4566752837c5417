// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package router

import (
	"fmt"
	"math/big"
)

// Config holds the fee and delay parameters of a router.
type Config struct {
	// MinExecutionFee is the smallest fee, in native units, a request may
	// carry.
	MinExecutionFee *big.Int `json:"minExecutionFee"`

	// MinBlockDelayKeeper is the number of blocks a keeper waits after
	// creation before it may execute or cancel.
	MinBlockDelayKeeper uint64 `json:"minBlockDelayKeeper"`

	// MinTimeDelayPublic is the number of seconds an owner waits before
	// executing or cancelling their own request.
	MinTimeDelayPublic uint64 `json:"minTimeDelayPublic"`

	// MaxTimeDelay is the age in seconds after which a request can only be
	// cancelled.
	MaxTimeDelay uint64 `json:"maxTimeDelay"`
}

// DefaultConfig returns the parameters used when none are configured.
func DefaultConfig() Config {
	return Config{
		MinExecutionFee:     big.NewInt(4000),
		MinBlockDelayKeeper: 0,
		MinTimeDelayPublic:  180,
		MaxTimeDelay:        30 * 60,
	}
}

// Verify checks the configuration is usable.
func (c Config) Verify() error {
	if c.MinExecutionFee == nil || c.MinExecutionFee.Sign() < 0 {
		return fmt.Errorf("%w: min execution fee must be non-negative", ErrInvalidConfig)
	}
	if c.MaxTimeDelay == 0 {
		return fmt.Errorf("%w: max time delay must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c Config) clone() Config {
	if c.MinExecutionFee != nil {
		c.MinExecutionFee = new(big.Int).Set(c.MinExecutionFee)
	}
	return c
}
