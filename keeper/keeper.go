// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package keeper drains router queues on a schedule.
package keeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"

	"github.com/luxfi/perps/router"
)

var (
	ErrInvalidConfig    = errors.New("invalid keeper config")
	ErrDuplicateDrainer = errors.New("drainer already registered")
)

// Drainer is a router queue a keeper can sweep.
type Drainer interface {
	Kind() string
	RequestQueueLengths() (uint64, uint64)
	ExecuteBatch(caller common.Address, endIndex uint64, feeReceiver common.Address) (router.BatchResult, error)
}

// Config holds keeper parameters.
type Config struct {
	// Keeper is the account the service acts as. It must hold the keeper
	// role on every registered router.
	Keeper common.Address `json:"keeper"`

	// FeeReceiver collects execution fees. Defaults to Keeper.
	FeeReceiver common.Address `json:"feeReceiver"`

	// MaxBatchSize bounds the number of queue slots one tick visits per
	// router.
	MaxBatchSize uint64 `json:"maxBatchSize"`

	// Interval is the time between ticks in Run. In JSON it is a duration
	// string such as "2s" or "500ms".
	Interval time.Duration `json:"-"`
}

type jsonConfig struct {
	Keeper       common.Address `json:"keeper"`
	FeeReceiver  common.Address `json:"feeReceiver"`
	MaxBatchSize uint64         `json:"maxBatchSize"`
	Interval     string         `json:"interval"`
}

func (c Config) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonConfig{
		Keeper:       c.Keeper,
		FeeReceiver:  c.FeeReceiver,
		MaxBatchSize: c.MaxBatchSize,
		Interval:     c.Interval.String(),
	})
}

// UnmarshalJSON decodes over c, so omitted fields keep their current
// values.
func (c *Config) UnmarshalJSON(data []byte) error {
	raw := jsonConfig{
		Keeper:       c.Keeper,
		FeeReceiver:  c.FeeReceiver,
		MaxBatchSize: c.MaxBatchSize,
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Keeper = raw.Keeper
	c.FeeReceiver = raw.FeeReceiver
	c.MaxBatchSize = raw.MaxBatchSize
	if raw.Interval != "" {
		interval, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("%w: interval: %w", ErrInvalidConfig, err)
		}
		c.Interval = interval
	}
	return nil
}

// DefaultConfig returns a config for keeper.
func DefaultConfig(keeper common.Address) Config {
	return Config{
		Keeper:       keeper,
		FeeReceiver:  keeper,
		MaxBatchSize: 25,
		Interval:     2 * time.Second,
	}
}

// Verify checks the config is usable.
func (c Config) Verify() error {
	switch {
	case c.Keeper == (common.Address{}):
		return fmt.Errorf("%w: keeper address is required", ErrInvalidConfig)
	case c.MaxBatchSize == 0:
		return fmt.Errorf("%w: max batch size must be positive", ErrInvalidConfig)
	case c.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// Report is the outcome of draining one router.
type Report struct {
	Kind   string
	Result router.BatchResult
	Err    error
}

// Service sweeps every registered router once per tick.
type Service struct {
	log      log.Logger
	config   Config
	drainers []Drainer

	mu sync.Mutex
}

// New creates a keeper service.
func New(config Config, logger log.Logger) (*Service, error) {
	if err := config.Verify(); err != nil {
		return nil, err
	}
	if config.FeeReceiver == (common.Address{}) {
		config.FeeReceiver = config.Keeper
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Service{
		log:    logger,
		config: config,
	}, nil
}

// Config returns the service parameters.
func (s *Service) Config() Config {
	return s.config
}

// Register adds d to the sweep. Kinds must be unique.
func (s *Service) Register(d Drainer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.drainers {
		if existing.Kind() == d.Kind() {
			return fmt.Errorf("%w: %s", ErrDuplicateDrainer, d.Kind())
		}
	}
	s.drainers = append(s.drainers, d)
	return nil
}

// Tick drains each router from its cursor, visiting at most MaxBatchSize
// slots. A failing router does not stop the others.
func (s *Service) Tick() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports := make([]Report, 0, len(s.drainers))
	for _, d := range s.drainers {
		start, length := d.RequestQueueLengths()
		if start >= length {
			continue
		}
		end := min(start+s.config.MaxBatchSize, length)

		result, err := d.ExecuteBatch(s.config.Keeper, end, s.config.FeeReceiver)
		if err != nil {
			s.log.Error("keeper sweep failed", "router", d.Kind(), "err", err)
		} else if result.Settled > 0 || result.Failed > 0 || result.Refunded > 0 {
			s.log.Info("keeper sweep",
				"router", d.Kind(),
				"start", result.Start,
				"end", result.End,
				"settled", result.Settled,
				"failed", result.Failed,
				"refunded", result.Refunded,
				"stalled", result.Stalled,
			)
		}
		reports = append(reports, Report{Kind: d.Kind(), Result: result, Err: err})
	}
	return reports
}

// Run ticks on the configured interval until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.log.Info("keeper started", "keeper", s.config.Keeper, "interval", s.config.Interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("keeper stopped", "keeper", s.config.Keeper)
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}
