// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package core assembles the settlement system: ledger, oracle, fee
// engine, vault, liquidity manager, the three request routers and an
// optional keeper, all sharing one transition journal.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/fees"
	"github.com/luxfi/perps/keeper"
	"github.com/luxfi/perps/ledger"
	"github.com/luxfi/perps/modules"
	"github.com/luxfi/perps/oracle"
	"github.com/luxfi/perps/router"
	"github.com/luxfi/perps/state"
	"github.com/luxfi/perps/vault"
)

var ErrKeeperDisabled = errors.New("keeper service not configured")

// System is a wired settlement system.
type System struct {
	Config   Config
	Registry *modules.Registry
	Journal  *state.Journal
	Ledger   *ledger.Ledger
	Oracle   *oracle.Feed
	Fees     *fees.Engine
	Vault    *vault.Vault

	Liquidity *vault.LiquidityManager

	SwapRouter            *router.Router[*router.SwapRequest]
	AddLiquidityRouter    *router.Router[*router.AddLiquidityRequest]
	RemoveLiquidityRouter *router.Router[*router.RemoveLiquidityRequest]

	// Keeper is nil unless the config enables it.
	Keeper *keeper.Service

	log log.Logger
}

// New builds the system described by cfg. Router queues are stored in db;
// a nil db keeps them in memory.
func New(cfg Config, db database.Database, logger log.Logger, chain state.Chain) (*System, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, fmt.Errorf("%w: chain is required", ErrInvalidConfig)
	}
	if db == nil {
		db = memdb.New()
	}
	if logger == nil {
		logger = log.Root()
	}

	registry, err := modules.NewRegistry(modules.SettlementRange)
	if err != nil {
		return nil, err
	}
	addrs, err := resolveAddresses(registry, cfg.Addresses)
	if err != nil {
		return nil, err
	}

	journal := state.NewJournal()
	l := ledger.New(journal, cfg.WrappedNative)
	feed := oracle.NewFeed(chain, cfg.Oracle.MaxPriceAge)
	engine, err := fees.NewEngine(cfg.Fees)
	if err != nil {
		return nil, err
	}

	v := vault.New(vault.Options{
		Address: addrs.Vault,
		Usdf:    addrs.Usdf,
		Ledger:  l,
		Oracle:  feed,
		Fees:    engine,
		Chain:   chain,
		Journal: journal,
		Log:     logger,
	})
	if err := configureTokens(cfg.Tokens, v, feed, engine); err != nil {
		return nil, err
	}
	if cfg.Vault.MaxLeverage != 0 {
		if err := v.SetMaxLeverage(cfg.Vault.MaxLeverage); err != nil {
			return nil, err
		}
	}
	v.SetInManagerMode(cfg.Vault.InManagerMode)
	v.SetManager(addrs.LiquidityManager, true)
	v.SetManager(addrs.SwapRouter, true)

	manager := vault.NewLiquidityManager(v, vault.LiquidityOptions{
		Address:          addrs.LiquidityManager,
		Plp:              addrs.Plp,
		CooldownDuration: cfg.Liquidity.CooldownDuration,
	})

	opts := func(address common.Address, rc router.Config) router.Options {
		return router.Options{
			Address: address,
			Admin:   cfg.Admin,
			Config:  rc,
			DB:      db,
			Ledger:  l,
			Chain:   chain,
			Journal: journal,
			Log:     logger,
		}
	}
	swap, err := router.NewSwapRouter(opts(addrs.SwapRouter, cfg.Routers.Swap), v, feed)
	if err != nil {
		return nil, err
	}
	add, err := router.NewAddLiquidityRouter(opts(addrs.AddLiquidityRouter, cfg.Routers.AddLiquidity), manager, feed)
	if err != nil {
		return nil, err
	}
	remove, err := router.NewRemoveLiquidityRouter(opts(addrs.RemoveLiquidityRouter, cfg.Routers.RemoveLiquidity), manager, feed)
	if err != nil {
		return nil, err
	}

	keepers := append([]common.Address(nil), cfg.Keepers...)
	if cfg.Keeper != nil {
		keepers = append(keepers, cfg.Keeper.Keeper)
	}
	for _, k := range keepers {
		for _, r := range []interface {
			SetKeeper(caller, keeper common.Address, active bool) error
		}{swap, add, remove} {
			if err := r.SetKeeper(cfg.Admin, k, true); err != nil {
				return nil, err
			}
		}
	}

	s := &System{
		Config:                cfg,
		Registry:              registry,
		Journal:               journal,
		Ledger:                l,
		Oracle:                feed,
		Fees:                  engine,
		Vault:                 v,
		Liquidity:             manager,
		SwapRouter:            swap,
		AddLiquidityRouter:    add,
		RemoveLiquidityRouter: remove,
		log:                   logger,
	}

	if cfg.Keeper != nil {
		service, err := keeper.New(*cfg.Keeper, logger)
		if err != nil {
			return nil, err
		}
		for _, d := range s.Drainers() {
			if err := service.Register(d); err != nil {
				return nil, err
			}
		}
		s.Keeper = service
	}

	// construction is not a transition, nothing to undo
	journal.Finalise()

	logger.Info("settlement system ready",
		"vault", addrs.Vault,
		"swapRouter", addrs.SwapRouter,
		"addLiquidityRouter", addrs.AddLiquidityRouter,
		"removeLiquidityRouter", addrs.RemoveLiquidityRouter,
		"tokens", len(cfg.Tokens),
		"keepers", len(keepers),
	)
	return s, nil
}

// Drainers returns the routers in keeper sweep order.
func (s *System) Drainers() []keeper.Drainer {
	return []keeper.Drainer{s.SwapRouter, s.AddLiquidityRouter, s.RemoveLiquidityRouter}
}

// RunKeeper runs the keeper service until ctx is done.
func (s *System) RunKeeper(ctx context.Context) error {
	if s.Keeper == nil {
		return ErrKeeperDisabled
	}
	return s.Keeper.Run(ctx)
}

func resolveAddresses(registry *modules.Registry, pinned Addresses) (Addresses, error) {
	var resolved Addresses
	for _, c := range []struct {
		name   string
		pinned common.Address
		out    *common.Address
	}{
		{VaultModule, pinned.Vault, &resolved.Vault},
		{UsdfModule, pinned.Usdf, &resolved.Usdf},
		{PlpModule, pinned.Plp, &resolved.Plp},
		{LiquidityManagerModule, pinned.LiquidityManager, &resolved.LiquidityManager},
		{SwapRouterModule, pinned.SwapRouter, &resolved.SwapRouter},
		{AddLiquidityRouterModule, pinned.AddLiquidityRouter, &resolved.AddLiquidityRouter},
		{RemoveLiquidityRouterModule, pinned.RemoveLiquidityRouter, &resolved.RemoveLiquidityRouter},
	} {
		if c.pinned == (common.Address{}) {
			continue
		}
		m, err := registry.Register(c.name, c.pinned)
		if err != nil {
			return Addresses{}, err
		}
		*c.out = m.Address
	}

	// allocate after every pinned address is claimed so probing skips them
	for _, c := range []struct {
		name string
		out  *common.Address
	}{
		{VaultModule, &resolved.Vault},
		{UsdfModule, &resolved.Usdf},
		{PlpModule, &resolved.Plp},
		{LiquidityManagerModule, &resolved.LiquidityManager},
		{SwapRouterModule, &resolved.SwapRouter},
		{AddLiquidityRouterModule, &resolved.AddLiquidityRouter},
		{RemoveLiquidityRouterModule, &resolved.RemoveLiquidityRouter},
	} {
		if *c.out != (common.Address{}) {
			continue
		}
		m, err := registry.Allocate(c.name)
		if err != nil {
			return Addresses{}, err
		}
		*c.out = m.Address
	}
	return resolved, nil
}

func configureTokens(tokens []TokenConfig, v *vault.Vault, feed *oracle.Feed, engine *fees.Engine) error {
	for _, token := range tokens {
		if err := v.SetTokenConfig(token.Address, token.TokenConfig); err != nil {
			return fmt.Errorf("token %s: %w", token.Address, err)
		}
		if token.Price != nil {
			if err := feed.SetPrice(token.Address, token.Price); err != nil {
				return fmt.Errorf("token %s: %w", token.Address, err)
			}
		}
		if token.SpreadBasisPoints > 0 {
			if err := feed.SetSpreadBasisPoints(token.Address, token.SpreadBasisPoints); err != nil {
				return fmt.Errorf("token %s: %w", token.Address, err)
			}
		}
		thresholds, positionFees, profitFees := splitTiers(token.FeeTiers)
		if err := engine.SetTokenFeeFactors(token.Address, thresholds, positionFees, profitFees); err != nil {
			return fmt.Errorf("token %s: %w", token.Address, err)
		}
	}
	return nil
}
