// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package governance admits airlines into the insurance program. The first
// airlines are admitted by any funded airline; later ones need a majority of
// funded airlines to vote for them. An admitted airline participates once its
// stake reaches the funding threshold.
package governance

import (
	"errors"
	"math/big"
	"time"

	"github.com/luxfi/ids"
)

var (
	ErrUnauthorized  = errors.New("caller is not a funded airline")
	ErrInvalidState  = errors.New("airline state forbids this operation")
	ErrDuplicateVote = errors.New("airline already voted for candidate")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrUnknown       = errors.New("unknown airline")
)

// State is the admission state of an airline.
type State uint8

const (
	Unregistered State = iota
	Pending
	Registered
	Funded
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Pending:
		return "pending"
	case Registered:
		return "registered"
	case Funded:
		return "funded"
	default:
		return "invalid"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for c := Unregistered; c <= Funded; c++ {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return ErrInvalidState
}

// Airline is a participant tracked by the registry.
type Airline struct {
	Address ids.ShortID   `json:"address"`
	State   State         `json:"state"`
	Stake   *big.Int      `json:"stake"`
	Voters  []ids.ShortID `json:"voters"`

	// ProposedBy is the funded airline that first proposed the candidate.
	ProposedBy   ids.ShortID `json:"proposedBy"`
	RegisteredAt time.Time   `json:"registeredAt"`
	FundedAt     time.Time   `json:"fundedAt"`
}

// Votes returns the number of distinct voters.
func (a *Airline) Votes() int {
	return len(a.Voters)
}

func (a *Airline) hasVoted(voter ids.ShortID) bool {
	for _, v := range a.Voters {
		if v == voter {
			return true
		}
	}
	return false
}

func (a *Airline) clone() *Airline {
	c := *a
	c.Stake = new(big.Int)
	if a.Stake != nil {
		c.Stake.Set(a.Stake)
	}
	c.Voters = append([]ids.ShortID(nil), a.Voters...)
	return &c
}

// Outcome reports what a registration or vote did to the candidate.
type Outcome struct {
	Candidate ids.ShortID
	State     State
	Votes     int
	// Admitted is true when this call moved the candidate to Registered.
	Admitted bool
}
