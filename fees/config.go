// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package fees

import "fmt"

const (
	// BasisPointsDivisor is the denominator of every basis-point value.
	BasisPointsDivisor = 10000

	// MaxFeeBasisPoints caps the configurable base and tax rates (5%).
	MaxFeeBasisPoints = 500
)

// Config holds the global fee rates applied by the engine.
type Config struct {
	// IsActive enables the dynamic pool-imbalance curve. When false every fee
	// function returns its base rate times FeeMultiplierIfInactive.
	IsActive                bool   `json:"isActive"`
	FeeMultiplierIfInactive uint64 `json:"feeMultiplierIfInactive"`

	TaxBasisPoints           uint64 `json:"taxBasisPoints"`
	StableTaxBasisPoints     uint64 `json:"stableTaxBasisPoints"`
	MintBurnFeeBasisPoints   uint64 `json:"mintBurnFeeBasisPoints"`
	SwapFeeBasisPoints       uint64 `json:"swapFeeBasisPoints"`
	StableSwapFeeBasisPoints uint64 `json:"stableSwapFeeBasisPoints"`

	// MarginFeeBasisPoints is the position fee for assets without a tier schedule.
	MarginFeeBasisPoints uint64 `json:"marginFeeBasisPoints"`
}

// DefaultConfig returns the rates used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		IsActive:                 true,
		FeeMultiplierIfInactive:  1,
		TaxBasisPoints:           50,
		StableTaxBasisPoints:     20,
		MintBurnFeeBasisPoints:   30,
		SwapFeeBasisPoints:       30,
		StableSwapFeeBasisPoints: 4,
		MarginFeeBasisPoints:     10,
	}
}

// Verify checks every rate is within bounds.
func (c Config) Verify() error {
	if c.FeeMultiplierIfInactive == 0 {
		return fmt.Errorf("%w: fee multiplier must be at least 1", ErrInvalidFeeConfig)
	}
	rates := []struct {
		name  string
		value uint64
	}{
		{"taxBasisPoints", c.TaxBasisPoints},
		{"stableTaxBasisPoints", c.StableTaxBasisPoints},
		{"mintBurnFeeBasisPoints", c.MintBurnFeeBasisPoints},
		{"swapFeeBasisPoints", c.SwapFeeBasisPoints},
		{"stableSwapFeeBasisPoints", c.StableSwapFeeBasisPoints},
		{"marginFeeBasisPoints", c.MarginFeeBasisPoints},
	}
	for _, r := range rates {
		if r.value > MaxFeeBasisPoints {
			return fmt.Errorf("%w: %s %d exceeds %d", ErrInvalidFeeConfig, r.name, r.value, MaxFeeBasisPoints)
		}
	}
	return nil
}
