package bft

import (
	"errors"
	"fmt"
)

const (
	DefaultMaxHeaderWindow = 103
	DefaultBlocksPerRound  = 103
	DefaultBlockTime       = 10
)

/*
Config holds the chain constants of the validator rotation and the size
of the header window used by the finality rule.
*/
type Config struct {
	// number of {height, generator} entries kept for the finality rule
	MaxHeaderWindow int
	BlocksPerRound  uint64
	// BlockTime is the slot length in seconds.
	BlockTime uint64
	// GenesisTimestamp is the timestamp of the genesis block, slot 0 starts there.
	GenesisTimestamp uint64
}

type Option func(*Config)

func WithMaxHeaderWindow(n int) Option {
	return func(c *Config) {
		c.MaxHeaderWindow = n
	}
}

func WithBlocksPerRound(n uint64) Option {
	return func(c *Config) {
		c.BlocksPerRound = n
	}
}

func WithBlockTime(seconds uint64) Option {
	return func(c *Config) {
		c.BlockTime = seconds
	}
}

func WithGenesisTimestamp(ts uint64) Option {
	return func(c *Config) {
		c.GenesisTimestamp = ts
	}
}

func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		MaxHeaderWindow: DefaultMaxHeaderWindow,
		BlocksPerRound:  DefaultBlocksPerRound,
		BlockTime:       DefaultBlockTime,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.IsValid(); err != nil {
		return nil, fmt.Errorf("invalid BFT configuration: %w", err)
	}
	return c, nil
}

func (c *Config) IsValid() error {
	var errs []error
	if c.MaxHeaderWindow < 1 {
		errs = append(errs, fmt.Errorf("header window size must be positive, got %d", c.MaxHeaderWindow))
	}
	if c.BlocksPerRound == 0 {
		errs = append(errs, errors.New("blocks per round must be positive"))
	}
	if c.BlockTime == 0 {
		errs = append(errs, errors.New("block time must be positive"))
	}
	return errors.Join(errs...)
}

// Slot returns the slot number of the timestamp, timestamps before genesis are in slot 0.
func (c *Config) Slot(timestamp uint64) uint64 {
	if timestamp <= c.GenesisTimestamp {
		return 0
	}
	return (timestamp - c.GenesisTimestamp) / c.BlockTime
}

// Round returns the round of the height, genesis and heights of the first round are in round 0.
func (c *Config) Round(height uint64) uint64 {
	if height == 0 {
		return 0
	}
	return (height - 1) / c.BlocksPerRound
}
