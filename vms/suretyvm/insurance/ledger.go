// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package insurance keeps passenger policies and credits payouts when the
// oracle network finalizes a flight's status.
package insurance

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/utils/timer/mockable"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
)

var bpsDenominator = big.NewInt(10_000)

// Config holds the cover rules.
type Config struct {
	// MaxInsurance caps a passenger's active cover on one flight.
	MaxInsurance *big.Int
	// PayoutMultiplierBps scales the premium of a paid policy.
	PayoutMultiplierBps uint64
	// PayableStatus is the finalized status that pays policies out.
	PayableStatus oracle.StatusCode
}

// Ledger holds policies and passenger balances.
type Ledger struct {
	mu    sync.RWMutex
	cfg   Config
	clock *mockable.Clock
	payer Payer

	policies    map[ids.ID]*Policy
	byFlight    map[ids.ID][]ids.ID
	byPassenger map[ids.ShortID][]ids.ID
	balances    map[ids.ShortID]*big.Int
	// settled flights never take new cover.
	settled map[ids.ID]oracle.StatusCode
	seq     uint64
}

// NewLedger creates an empty ledger that releases withdrawals through payer.
func NewLedger(cfg Config, clock *mockable.Clock, payer Payer) *Ledger {
	if clock == nil {
		clock = &mockable.Clock{}
	}
	return &Ledger{
		cfg:         cfg,
		clock:       clock,
		payer:       payer,
		policies:    make(map[ids.ID]*Policy),
		byFlight:    make(map[ids.ID][]ids.ID),
		byPassenger: make(map[ids.ShortID][]ids.ID),
		balances:    make(map[ids.ShortID]*big.Int),
		settled:     make(map[ids.ID]oracle.StatusCode),
	}
}

func policyID(passenger ids.ShortID, flightKey ids.ID, seq uint64) ids.ID {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], seq)

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(passenger[:])
	_, _ = h.Write(flightKey[:])
	_, _ = h.Write(n[:])

	var id ids.ID
	copy(id[:], h.Sum(nil))
	return id
}

// activeCover must be called with the lock held.
func (l *Ledger) activeCover(passenger ids.ShortID, flightKey ids.ID) *big.Int {
	total := new(big.Int)
	for _, id := range l.byFlight[flightKey] {
		p := l.policies[id]
		if p.Passenger == passenger && p.State == Active {
			total.Add(total, p.Amount)
		}
	}
	return total
}

// BuyInsurance opens an active policy for passenger on flight.
func (l *Ledger) BuyInsurance(passenger ids.ShortID, flight oracle.Flight, amount *big.Int) (*Policy, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	key := flight.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	if status, ok := l.settled[key]; ok {
		return nil, fmt.Errorf("%w: %s finalized as %s", ErrFlightSettled, flight.Number, status)
	}
	cover := l.activeCover(passenger, key)
	if cover.Add(cover, amount).Cmp(l.cfg.MaxInsurance) > 0 {
		return nil, fmt.Errorf("%w: cover of %s wei exceeds %s wei", ErrLimitExceeded, cover, l.cfg.MaxInsurance)
	}

	p := &Policy{
		ID:          policyID(passenger, key, l.seq),
		Seq:         l.seq,
		Passenger:   passenger,
		Flight:      flight,
		Amount:      new(big.Int).Set(amount),
		State:       Active,
		PurchasedAt: l.clock.Time(),
	}
	l.seq++
	l.policies[p.ID] = p
	l.byFlight[key] = append(l.byFlight[key], p.ID)
	l.byPassenger[passenger] = append(l.byPassenger[passenger], p.ID)
	return p.clone(), nil
}

// OnStatusFinalized settles every active policy on flight: paid and credited
// when status is payable, void otherwise. It returns the settled policies.
// A flight is settled at most once; later calls return nothing.
func (l *Ledger) OnStatusFinalized(flight oracle.Flight, status oracle.StatusCode) []*Policy {
	key := flight.Key()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.settled[key]; ok {
		return nil
	}
	l.settled[key] = status

	now := l.clock.Time()
	var out []*Policy
	for _, id := range l.byFlight[key] {
		p := l.policies[id]
		if p.State != Active {
			continue
		}
		p.SettledAt = now
		if status != l.cfg.PayableStatus {
			p.State = Void
			out = append(out, p.clone())
			continue
		}

		payout := new(big.Int).SetUint64(l.cfg.PayoutMultiplierBps)
		payout.Mul(payout, p.Amount)
		payout.Quo(payout, bpsDenominator)
		p.State = Paid
		p.Payout = payout
		l.credit(p.Passenger, payout)
		out = append(out, p.clone())
	}
	return out
}

// credit must be called with the lock held.
func (l *Ledger) credit(passenger ids.ShortID, amount *big.Int) {
	b, ok := l.balances[passenger]
	if !ok {
		b = new(big.Int)
		l.balances[passenger] = b
	}
	b.Add(b, amount)
}

// Withdraw pays passenger's whole balance out through the payer. The balance
// is only cleared if the payer succeeds.
func (l *Ledger) Withdraw(passenger ids.ShortID) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.balances[passenger]
	if !ok || b.Sign() <= 0 {
		return nil, ErrInsufficientBalance
	}
	amount := new(big.Int).Set(b)
	if err := l.payer.Release(passenger, amount); err != nil {
		return nil, fmt.Errorf("releasing %s wei to %s: %w", amount, passenger, err)
	}
	delete(l.balances, passenger)
	return amount, nil
}

// Balance returns passenger's withdrawable balance.
func (l *Ledger) Balance(passenger ids.ShortID) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneInt(l.balances[passenger])
}

// Balances returns a copy of every non-zero balance.
func (l *Ledger) Balances() map[ids.ShortID]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[ids.ShortID]*big.Int, len(l.balances))
	for addr, b := range l.balances {
		out[addr] = new(big.Int).Set(b)
	}
	return out
}

// Policy returns a copy of the policy stored under id.
func (l *Ledger) Policy(id ids.ID) (*Policy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.policies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, id)
	}
	return p.clone(), nil
}

// PoliciesFor returns passenger's policies in purchase order.
func (l *Ledger) PoliciesFor(passenger ids.ShortID) []*Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	policyIDs := l.byPassenger[passenger]
	out := make([]*Policy, 0, len(policyIDs))
	for _, id := range policyIDs {
		out = append(out, l.policies[id].clone())
	}
	return out
}

// Policies returns every policy in purchase order.
func (l *Ledger) Policies() []*Policy {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Policy, 0, len(l.policies))
	for _, p := range l.policies {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Restore replaces the ledger contents. settled lists the finalized flights
// by request key.
func (l *Ledger) Restore(policies []*Policy, balances map[ids.ShortID]*big.Int, settled map[ids.ID]oracle.StatusCode) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ordered := make([]*Policy, len(policies))
	copy(ordered, policies)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Seq < ordered[j].Seq
	})

	l.policies = make(map[ids.ID]*Policy, len(ordered))
	l.byFlight = make(map[ids.ID][]ids.ID)
	l.byPassenger = make(map[ids.ShortID][]ids.ID)
	l.seq = 0
	for _, p := range ordered {
		c := p.clone()
		key := c.Flight.Key()
		l.policies[c.ID] = c
		l.byFlight[key] = append(l.byFlight[key], c.ID)
		l.byPassenger[c.Passenger] = append(l.byPassenger[c.Passenger], c.ID)
		l.seq = max(l.seq, c.Seq+1)
	}

	l.balances = make(map[ids.ShortID]*big.Int, len(balances))
	for addr, b := range balances {
		if b.Sign() > 0 {
			l.balances[addr] = new(big.Int).Set(b)
		}
	}
	l.settled = make(map[ids.ID]oracle.StatusCode, len(settled))
	for key, status := range settled {
		l.settled[key] = status
	}
}
