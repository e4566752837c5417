// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/geth/common"

	"github.com/luxfi/perps/fees"
	"github.com/luxfi/perps/keeper"
	"github.com/luxfi/perps/router"
	"github.com/luxfi/perps/vault"
)

// ConfigKey is the key used in json config files to specify the settlement
// configuration.
const ConfigKey = "settlementConfig"

var ErrInvalidConfig = errors.New("invalid settlement config")

// Component names in the module registry.
const (
	VaultModule                 = "vault"
	UsdfModule                  = "usdf"
	PlpModule                   = "plp"
	LiquidityManagerModule      = "liquidityManager"
	SwapRouterModule            = "swapRouter"
	AddLiquidityRouterModule    = "addLiquidityRouter"
	RemoveLiquidityRouterModule = "removeLiquidityRouter"
)

// Addresses pins component addresses. Zero entries are allocated from the
// settlement range.
type Addresses struct {
	Vault                 common.Address `json:"vault"`
	Usdf                  common.Address `json:"usdf"`
	Plp                   common.Address `json:"plp"`
	LiquidityManager      common.Address `json:"liquidityManager"`
	SwapRouter            common.Address `json:"swapRouter"`
	AddLiquidityRouter    common.Address `json:"addLiquidityRouter"`
	RemoveLiquidityRouter common.Address `json:"removeLiquidityRouter"`
}

// TokenConfig whitelists a pool asset.
type TokenConfig struct {
	Address common.Address `json:"address"`
	vault.TokenConfig

	// Price seeds the oracle at 1e30 precision. Nil leaves the asset unpriced.
	Price             *big.Int `json:"price,omitempty"`
	SpreadBasisPoints uint64   `json:"spreadBasisPoints"`

	// FeeTiers is the position fee schedule of the asset.
	FeeTiers []fees.FeeTier `json:"feeTiers,omitempty"`
}

// OracleConfig holds price feed parameters.
type OracleConfig struct {
	// MaxPriceAge is the staleness bound in seconds. Zero disables it.
	MaxPriceAge uint64 `json:"maxPriceAge"`
}

// VaultConfig holds pool parameters.
type VaultConfig struct {
	MaxLeverage   uint64 `json:"maxLeverage"`
	InManagerMode bool   `json:"inManagerMode"`
}

// LiquidityConfig holds liquidity manager parameters.
type LiquidityConfig struct {
	CooldownDuration uint64 `json:"cooldownDuration"`
}

// RoutersConfig holds the parameters of each router.
type RoutersConfig struct {
	Swap            router.Config `json:"swap"`
	AddLiquidity    router.Config `json:"addLiquidity"`
	RemoveLiquidity router.Config `json:"removeLiquidity"`
}

// Config describes a complete settlement system.
type Config struct {
	// Admin administers the routers.
	Admin common.Address `json:"admin"`

	// WrappedNative is the token that holds native coin one to one.
	WrappedNative common.Address `json:"wrappedNative"`

	Addresses Addresses       `json:"addresses"`
	Fees      fees.Config     `json:"fees"`
	Tokens    []TokenConfig   `json:"tokens"`
	Oracle    OracleConfig    `json:"oracle"`
	Vault     VaultConfig     `json:"vault"`
	Liquidity LiquidityConfig `json:"liquidity"`
	Routers   RoutersConfig   `json:"routers"`

	// Keepers hold the keeper role on every router.
	Keepers []common.Address `json:"keepers"`

	// Keeper runs an in-process keeper service when set. Its account is
	// granted the keeper role.
	Keeper *keeper.Config `json:"keeper,omitempty"`
}

// DefaultConfig returns a config with default rates and delays and the
// canonical component addresses. Admin, wrapped native and tokens must be
// filled in.
func DefaultConfig() Config {
	return Config{
		Addresses: Addresses{
			Vault:                 common.HexToAddress("0x0000000000000000000000000000000000009101"),
			Usdf:                  common.HexToAddress("0x0000000000000000000000000000000000009102"),
			Plp:                   common.HexToAddress("0x0000000000000000000000000000000000009103"),
			LiquidityManager:      common.HexToAddress("0x0000000000000000000000000000000000009104"),
			SwapRouter:            common.HexToAddress("0x0000000000000000000000000000000000009106"),
			AddLiquidityRouter:    common.HexToAddress("0x0000000000000000000000000000000000009107"),
			RemoveLiquidityRouter: common.HexToAddress("0x0000000000000000000000000000000000009108"),
		},
		Fees: fees.DefaultConfig(),
		Vault: VaultConfig{
			MaxLeverage:   vault.DefaultMaxLeverage,
			InManagerMode: true,
		},
		Liquidity: LiquidityConfig{CooldownDuration: 15 * 60},
		Routers: RoutersConfig{
			Swap:            router.DefaultConfig(),
			AddLiquidity:    router.DefaultConfig(),
			RemoveLiquidity: router.DefaultConfig(),
		},
	}
}

// LoadConfig decodes a JSON config over DefaultConfig and verifies it.
// Unknown fields are rejected.
func LoadConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Verify checks the config describes a buildable system.
func (c *Config) Verify() error {
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("%w: admin is required", ErrInvalidConfig)
	}
	if c.WrappedNative == (common.Address{}) {
		return fmt.Errorf("%w: wrapped native token is required", ErrInvalidConfig)
	}
	if err := c.Fees.Verify(); err != nil {
		return err
	}

	probe, err := fees.NewEngine(c.Fees)
	if err != nil {
		return err
	}
	seen := make(map[common.Address]bool, len(c.Tokens))
	for _, token := range c.Tokens {
		switch {
		case token.Address == (common.Address{}):
			return fmt.Errorf("%w: token address is required", ErrInvalidConfig)
		case seen[token.Address]:
			return fmt.Errorf("%w: duplicate token %s", ErrInvalidConfig, token.Address)
		case token.Weight == 0:
			return fmt.Errorf("%w: token %s has no weight", ErrInvalidConfig, token.Address)
		case token.Price != nil && token.Price.Sign() <= 0:
			return fmt.Errorf("%w: token %s has a non-positive price", ErrInvalidConfig, token.Address)
		case token.SpreadBasisPoints >= fees.BasisPointsDivisor:
			return fmt.Errorf("%w: token %s spread too large", ErrInvalidConfig, token.Address)
		}
		seen[token.Address] = true

		thresholds, positionFees, profitFees := splitTiers(token.FeeTiers)
		if err := probe.SetTokenFeeFactors(token.Address, thresholds, positionFees, profitFees); err != nil {
			return fmt.Errorf("token %s: %w", token.Address, err)
		}
	}

	for name, rc := range map[string]router.Config{
		router.SwapKind:            c.Routers.Swap,
		router.AddLiquidityKind:    c.Routers.AddLiquidity,
		router.RemoveLiquidityKind: c.Routers.RemoveLiquidity,
	} {
		if err := rc.Verify(); err != nil {
			return fmt.Errorf("%s router: %w", name, err)
		}
	}

	if c.Keeper != nil {
		if err := c.Keeper.Verify(); err != nil {
			return err
		}
	}
	return nil
}

func splitTiers(tiers []fees.FeeTier) (thresholds, positionFees, profitFees []uint64) {
	for _, tier := range tiers {
		thresholds = append(thresholds, tier.RelativePnlThreshold)
		positionFees = append(positionFees, tier.PositionFeeBps)
		profitFees = append(profitFees, tier.ProfitFeeBps)
	}
	return thresholds, positionFees, profitFees
}
