package synchronizer

import (
	"errors"
	"fmt"
)

const (
	DefaultBatchSize               = 20
	DefaultLookbackWindow          = 1000
	DefaultFastChainSwitchMaxDelta = 10
	DefaultMaxSyncBlocks           = 1000
	DefaultMaxRetries              = 3
	DefaultRequestsPerSecond       = 50
)

type (
	Config struct {
		// number of blocks requested from a peer at once
		BatchSize int
		// how many blocks below the local tip the common block is searched
		LookbackWindow uint64
		// FastChainSwitchMaxDelta is the maximum distance between the local tip
		// and the peer tip (and between the local tip and the common block)
		// for the fork to be resolved with fast chain switching.
		FastChainSwitchMaxDelta uint64
		// maximum number of blocks applied during one block sync attempt
		MaxSyncBlocks uint64
		// number of peers tried during one Run
		MaxRetries int
		// block requests per second, zero means unlimited
		RequestsPerSecond int
	}

	Option func(*Config)
)

func WithBatchSize(n int) Option {
	return func(c *Config) {
		c.BatchSize = n
	}
}

func WithLookbackWindow(n uint64) Option {
	return func(c *Config) {
		c.LookbackWindow = n
	}
}

func WithFastChainSwitchMaxDelta(n uint64) Option {
	return func(c *Config) {
		c.FastChainSwitchMaxDelta = n
	}
}

func WithMaxSyncBlocks(n uint64) Option {
	return func(c *Config) {
		c.MaxSyncBlocks = n
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

func WithRequestsPerSecond(n int) Option {
	return func(c *Config) {
		c.RequestsPerSecond = n
	}
}

func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		BatchSize:               DefaultBatchSize,
		LookbackWindow:          DefaultLookbackWindow,
		FastChainSwitchMaxDelta: DefaultFastChainSwitchMaxDelta,
		MaxSyncBlocks:           DefaultMaxSyncBlocks,
		MaxRetries:              DefaultMaxRetries,
		RequestsPerSecond:       DefaultRequestsPerSecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid synchronizer configuration: %w", err)
	}
	return c, nil
}

func (c *Config) IsValid() error {
	var errs []error
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", c.BatchSize))
	}
	if c.LookbackWindow == 0 {
		errs = append(errs, errors.New("lookback window must be positive"))
	}
	if c.MaxSyncBlocks == 0 {
		errs = append(errs, errors.New("max sync blocks must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("max retries must be positive, got %d", c.MaxRetries))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests per second must not be negative, got %d", c.RequestsPerSecond))
	}
	return errors.Join(errs...)
}
