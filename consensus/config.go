package consensus

import (
	"errors"
	"time"

	"github.com/alphabill-org/blockengine/bft"
	"github.com/alphabill-org/blockengine/validation"
)

const DefaultClockSkew = 5 * time.Second

type (
	Config struct {
		// blocks with timestamp further in the future are rejected
		ClockSkew      time.Duration
		Limits         validation.Limits
		CommitVerifier bft.CommitVerifier
		Now            func() time.Time
	}

	Option func(*Config)
)

func WithClockSkew(d time.Duration) Option {
	return func(c *Config) {
		c.ClockSkew = d
	}
}

func WithLimits(l validation.Limits) Option {
	return func(c *Config) {
		c.Limits = l
	}
}

// WithCommitVerifier sets verifier of the aggregate commit signatures, without it only the signer weight is checked.
func WithCommitVerifier(v bft.CommitVerifier) Option {
	return func(c *Config) {
		c.CommitVerifier = v
	}
}

// WithClock sets the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Config) {
		c.Now = now
	}
}

func newConfig(opts ...Option) (*Config, error) {
	c := &Config{
		ClockSkew: DefaultClockSkew,
		Limits:    validation.DefaultLimits(),
		Now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ClockSkew < 0 {
		return nil, errors.New("clock skew must not be negative")
	}
	if c.Now == nil {
		return nil, errors.New("clock is nil")
	}
	return c, nil
}
