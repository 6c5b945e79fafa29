// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package governance

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/utils/timer/mockable"
)

// Config holds the admission rules.
type Config struct {
	// ConsensusThreshold is the registered-airline count from which
	// candidates need votes.
	ConsensusThreshold int
	// FundingThreshold is the cumulative stake that funds an airline.
	FundingThreshold *big.Int
}

// Engine is the airline registry. Every mutation runs under the write lock,
// so a quorum check always sees the funded set as of the start of the call.
type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	clock *mockable.Clock

	airlines map[ids.ShortID]*Airline

	numRegistered int // Registered or Funded
	numFunded     int
}

// NewEngine creates a registry whose founder starts funded.
func NewEngine(cfg Config, clock *mockable.Clock, founder ids.ShortID) *Engine {
	if clock == nil {
		clock = &mockable.Clock{}
	}
	now := clock.Time()
	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		airlines: make(map[ids.ShortID]*Airline),
	}
	e.airlines[founder] = &Airline{
		Address:      founder,
		State:        Funded,
		Stake:        big.NewInt(0),
		RegisteredAt: now,
		FundedAt:     now,
	}
	e.numRegistered = 1
	e.numFunded = 1
	return e
}

func (e *Engine) isFunded(addr ids.ShortID) bool {
	a, ok := e.airlines[addr]
	return ok && a.State == Funded
}

func (e *Engine) getOrCreate(addr ids.ShortID) *Airline {
	a, ok := e.airlines[addr]
	if !ok {
		a = &Airline{
			Address: addr,
			State:   Unregistered,
			Stake:   big.NewInt(0),
		}
		e.airlines[addr] = a
	}
	return a
}

// RegisterAirline proposes candidate on behalf of caller. Below the consensus
// threshold the candidate is registered directly; otherwise it becomes
// pending and is admitted as soon as it holds a quorum of votes.
func (e *Engine) RegisterAirline(caller, candidate ids.ShortID) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isFunded(caller) {
		return Outcome{}, ErrUnauthorized
	}
	if a, ok := e.airlines[candidate]; ok && a.State != Unregistered {
		return Outcome{}, fmt.Errorf("%w: candidate %s is %s", ErrInvalidState, candidate, a.State)
	}

	a := e.getOrCreate(candidate)
	a.ProposedBy = caller
	if e.numRegistered < e.cfg.ConsensusThreshold {
		e.admit(a)
		return e.outcome(a, true), nil
	}

	a.State = Pending
	return e.outcome(a, e.finalizeIfQuorum(a)), nil
}

// VoteAirline records caller's vote for candidate. A pending candidate is
// admitted once votes*2 >= the number of funded airlines at the time of the
// vote. Votes for a candidate nobody has proposed are kept until the proposal.
func (e *Engine) VoteAirline(caller, candidate ids.ShortID) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isFunded(caller) {
		return Outcome{}, ErrUnauthorized
	}
	if a, ok := e.airlines[candidate]; ok {
		if a.State == Registered || a.State == Funded {
			return Outcome{}, fmt.Errorf("%w: candidate %s is %s", ErrInvalidState, candidate, a.State)
		}
		if a.hasVoted(caller) {
			return e.outcome(a, false), ErrDuplicateVote
		}
	}

	a := e.getOrCreate(candidate)
	a.Voters = append(a.Voters, caller)
	return e.outcome(a, e.finalizeIfQuorum(a)), nil
}

// finalizeIfQuorum must be called with the write lock held. Only proposed
// candidates are admitted.
func (e *Engine) finalizeIfQuorum(a *Airline) bool {
	if a.State != Pending {
		return false
	}
	if a.Votes()*2 < e.numFunded {
		return false
	}
	e.admit(a)
	return true
}

func (e *Engine) admit(a *Airline) {
	a.State = Registered
	a.RegisteredAt = e.clock.Time()
	e.numRegistered++
}

func (e *Engine) outcome(a *Airline, admitted bool) Outcome {
	return Outcome{
		Candidate: a.Address,
		State:     a.State,
		Votes:     a.Votes(),
		Admitted:  admitted,
	}
}

// Fund adds amount to caller's stake. The airline becomes funded once its
// cumulative stake reaches the funding threshold. It returns the airline
// after the call.
func (e *Engine) Fund(caller ids.ShortID, amount *big.Int) (*Airline, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	a, ok := e.airlines[caller]
	if !ok || a.State != Registered {
		state := Unregistered
		if ok {
			state = a.State
		}
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidState, caller, state)
	}

	a.Stake.Add(a.Stake, amount)
	if a.Stake.Cmp(e.cfg.FundingThreshold) >= 0 {
		a.State = Funded
		a.FundedAt = e.clock.Time()
		e.numFunded++
	}
	return a.clone(), nil
}

// IsFunded reports whether addr is a funded airline.
func (e *Engine) IsFunded(addr ids.ShortID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isFunded(addr)
}

// CountFundedOrRegistered returns the number of admitted airlines.
func (e *Engine) CountFundedOrRegistered() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.numRegistered
}

// FundedCount returns the number of funded airlines.
func (e *Engine) FundedCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.numFunded
}

// Votes returns the number of distinct airlines that voted for candidate.
func (e *Engine) Votes(candidate ids.ShortID) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if a, ok := e.airlines[candidate]; ok {
		return a.Votes()
	}
	return 0
}

// Airline returns a copy of the record for addr.
func (e *Engine) Airline(addr ids.ShortID) (*Airline, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.airlines[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, addr)
	}
	return a.clone(), nil
}

// Airlines returns copies of every known airline ordered by address.
func (e *Engine) Airlines() []*Airline {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Airline, 0, len(e.airlines))
	for _, a := range e.airlines {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Restore replaces the registry contents with previously exported records.
func (e *Engine) Restore(airlines []*Airline) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.airlines = make(map[ids.ShortID]*Airline, len(airlines))
	e.numRegistered, e.numFunded = 0, 0
	for _, a := range airlines {
		c := a.clone()
		e.airlines[c.Address] = c
		switch c.State {
		case Funded:
			e.numFunded++
			e.numRegistered++
		case Registered:
			e.numRegistered++
		}
	}
}
