// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package treasury holds the pooled funds: airline stakes, oracle stakes and
// insurance premiums come in, passenger payouts go out.
package treasury

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/ids"
)

var (
	ErrInsufficientFunds = errors.New("insufficient treasury funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSource     = errors.New("invalid deposit source")
)

// Source classifies a deposit.
type Source uint8

const (
	AirlineStake Source = iota
	OracleStake
	Premium

	numSources
)

func (s Source) String() string {
	switch s {
	case AirlineStake:
		return "airline_stake"
	case OracleStake:
		return "oracle_stake"
	case Premium:
		return "premium"
	default:
		return "unknown"
	}
}

// Summary is a point-in-time view of the vault.
type Summary struct {
	Balance       *big.Int `json:"balance"`
	AirlineStakes *big.Int `json:"airlineStakes"`
	OracleStakes  *big.Int `json:"oracleStakes"`
	Premiums      *big.Int `json:"premiums"`
	Released      *big.Int `json:"released"`
}

// Vault is the pooled balance. It implements insurance.Payer.
type Vault struct {
	mu        sync.RWMutex
	balance   *big.Int
	deposited [numSources]*big.Int
	released  *big.Int

	// onRelease is told about every successful release.
	onRelease func(to ids.ShortID, amount *big.Int)
}

// New returns an empty vault.
func New() *Vault {
	v := &Vault{
		balance:  new(big.Int),
		released: new(big.Int),
	}
	for i := range v.deposited {
		v.deposited[i] = new(big.Int)
	}
	return v
}

// OnRelease registers f to observe releases. Not safe to call concurrently
// with Release.
func (v *Vault) OnRelease(f func(to ids.ShortID, amount *big.Int)) {
	v.onRelease = f
}

// Deposit adds amount to the pool.
func (v *Vault) Deposit(source Source, amount *big.Int) error {
	if source >= numSources {
		return fmt.Errorf("%w: %d", ErrInvalidSource, source)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance.Add(v.balance, amount)
	v.deposited[source].Add(v.deposited[source], amount)
	return nil
}

// CanCover reports whether the pool holds at least amount.
func (v *Vault) CanCover(amount *big.Int) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.balance.Cmp(amount) >= 0
}

// Release pays amount out of the pool to to.
func (v *Vault) Release(to ids.ShortID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	if v.balance.Cmp(amount) < 0 {
		have := new(big.Int).Set(v.balance)
		v.mu.Unlock()
		return fmt.Errorf("%w: have %s wei, need %s wei", ErrInsufficientFunds, have, amount)
	}
	v.balance.Sub(v.balance, amount)
	v.released.Add(v.released, amount)
	v.mu.Unlock()

	if v.onRelease != nil {
		v.onRelease(to, amount)
	}
	return nil
}

// Balance returns the pooled balance.
func (v *Vault) Balance() *big.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return new(big.Int).Set(v.balance)
}

// Summary returns a copy of the vault's totals.
func (v *Vault) Summary() Summary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Summary{
		Balance:       new(big.Int).Set(v.balance),
		AirlineStakes: new(big.Int).Set(v.deposited[AirlineStake]),
		OracleStakes:  new(big.Int).Set(v.deposited[OracleStake]),
		Premiums:      new(big.Int).Set(v.deposited[Premium]),
		Released:      new(big.Int).Set(v.released),
	}
}

// Restore replaces the vault's totals. Nil fields restore as zero.
func (v *Vault) Restore(s Summary) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance = orZero(s.Balance)
	v.deposited[AirlineStake] = orZero(s.AirlineStakes)
	v.deposited[OracleStake] = orZero(s.OracleStakes)
	v.deposited[Premium] = orZero(s.Premiums)
	v.released = orZero(s.Released)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
