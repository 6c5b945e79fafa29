// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package insurance

import (
	"errors"
	"math/big"
	"time"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/vms/suretyvm/oracle"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrLimitExceeded       = errors.New("insurance limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrFlightSettled       = errors.New("flight status already finalized")
	ErrUnknownPolicy       = errors.New("unknown policy")
	ErrInvalidPayoutState  = errors.New("invalid payout state")
)

// Payer moves credited funds out of the system.
type Payer interface {
	Release(to ids.ShortID, amount *big.Int) error
}

// PayoutState is the lifecycle of a policy.
type PayoutState uint8

const (
	Active PayoutState = iota
	Paid
	Void
)

func (s PayoutState) String() string {
	switch s {
	case Active:
		return "active"
	case Paid:
		return "paid"
	case Void:
		return "void"
	default:
		return "unknown"
	}
}

func (s PayoutState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PayoutState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = Active
	case "paid":
		*s = Paid
	case "void":
		*s = Void
	default:
		return ErrInvalidPayoutState
	}
	return nil
}

// Policy is a passenger's cover on one flight.
type Policy struct {
	ID        ids.ID        `json:"id"`
	Seq       uint64        `json:"seq"` // purchase order
	Passenger ids.ShortID   `json:"passenger"`
	Flight    oracle.Flight `json:"flight"`
	Amount    *big.Int      `json:"amount"`
	State     PayoutState   `json:"state"`
	// Payout is the amount credited when the policy was paid.
	Payout *big.Int `json:"payout,omitempty"`

	PurchasedAt time.Time `json:"purchasedAt"`
	SettledAt   time.Time `json:"settledAt"`
}

func (p *Policy) clone() *Policy {
	c := *p
	c.Amount = cloneInt(p.Amount)
	if p.Payout != nil {
		c.Payout = new(big.Int).Set(p.Payout)
	}
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
