// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config defines configuration types for the Surety VM.
package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/surety/utils/units"
)

// MaxIndexesPerOracle bounds the buckets assigned to one oracle.
const MaxIndexesPerOracle = 16

var ErrInvalidConfig = errors.New("invalid config")

// Config contains configuration parameters for the Surety VM. Amounts are
// decimal wei strings so they survive json, toml and env decoding.
type Config struct {
	// Owner may pause and resume the VM. Defaults to FoundingAirline.
	Owner string `json:"owner" mapstructure:"owner"`
	// FoundingAirline starts funded so that it can admit the first airlines.
	FoundingAirline string `json:"foundingAirline" mapstructure:"founding-airline"`

	// Governance

	// ConsensusThreshold is the number of registered airlines from which new
	// registrations need votes.
	ConsensusThreshold int `json:"consensusThreshold" mapstructure:"consensus-threshold"`
	// FundingThreshold is the cumulative stake that makes an airline funded.
	FundingThreshold string `json:"fundingThreshold" mapstructure:"funding-threshold"`

	// Oracles

	MinOracleStake string `json:"minOracleStake" mapstructure:"min-oracle-stake"`
	// MinResponses is the number of matching responses that finalize a request.
	MinResponses int `json:"minResponses" mapstructure:"min-responses"`
	// IndexRange bounds oracle index buckets to [0, IndexRange).
	IndexRange int `json:"indexRange" mapstructure:"index-range"`
	// IndexesPerOracle is the number of distinct buckets assigned per oracle.
	IndexesPerOracle int `json:"indexesPerOracle" mapstructure:"indexes-per-oracle"`

	// Insurance

	MaxInsurance string `json:"maxInsurance" mapstructure:"max-insurance"`
	// PayoutMultiplierBps scales a delayed policy's payout (15000 = 1.5x).
	PayoutMultiplierBps uint64 `json:"payoutMultiplierBps" mapstructure:"payout-multiplier-bps"`
	// PayableStatus is the finalized status code that pays out.
	PayableStatus uint8 `json:"payableStatus" mapstructure:"payable-status"`
}

// Parsed holds validated numeric values of a Config.
type Parsed struct {
	FundingThreshold *big.Int
	MinOracleStake   *big.Int
	MaxInsurance     *big.Int
}

// DefaultConfig returns the default configuration for the Surety VM.
func DefaultConfig() Config {
	return Config{
		ConsensusThreshold: 4,
		FundingThreshold:   units.Ethers(10).String(),

		MinOracleStake:   units.Ethers(1).String(),
		MinResponses:     3,
		IndexRange:       10,
		IndexesPerOracle: 3,

		MaxInsurance:        units.Ethers(1).String(),
		PayoutMultiplierBps: 15_000,
		PayableStatus:       20, // late, airline's fault
	}
}

// Parse validates the config and decodes its amounts.
func (c Config) Parse() (Parsed, error) {
	var p Parsed
	switch {
	case c.ConsensusThreshold < 1:
		return p, fmt.Errorf("%w: consensus threshold must be positive", ErrInvalidConfig)
	case c.MinResponses < 1:
		return p, fmt.Errorf("%w: min responses must be positive", ErrInvalidConfig)
	case c.IndexesPerOracle < 1 || c.IndexesPerOracle > MaxIndexesPerOracle:
		return p, fmt.Errorf("%w: indexes per oracle must be in [1, %d]", ErrInvalidConfig, MaxIndexesPerOracle)
	case c.IndexRange < c.IndexesPerOracle || c.IndexRange > 256:
		return p, fmt.Errorf("%w: index range %d cannot hold %d distinct indexes", ErrInvalidConfig, c.IndexRange, c.IndexesPerOracle)
	case c.PayoutMultiplierBps == 0:
		return p, fmt.Errorf("%w: payout multiplier must be positive", ErrInvalidConfig)
	}

	var err error
	if p.FundingThreshold, err = parsePositive("funding threshold", c.FundingThreshold); err != nil {
		return p, err
	}
	if p.MinOracleStake, err = parsePositive("min oracle stake", c.MinOracleStake); err != nil {
		return p, err
	}
	if p.MaxInsurance, err = parsePositive("max insurance", c.MaxInsurance); err != nil {
		return p, err
	}
	return p, nil
}

func parsePositive(name, s string) (*big.Int, error) {
	v, err := units.ParseWei(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, name, err)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
	}
	return v, nil
}
