// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package suretyvm wires airline governance, the oracle network, the
// insurance ledger and the treasury into one flight-delay insurance service.
package suretyvm

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/surety/utils/timer/mockable"
	"github.com/luxfi/surety/vms/suretyvm/config"
	"github.com/luxfi/surety/vms/suretyvm/governance"
	"github.com/luxfi/surety/vms/suretyvm/insurance"
	"github.com/luxfi/surety/vms/suretyvm/metrics"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
	"github.com/luxfi/surety/vms/suretyvm/state"
	"github.com/luxfi/surety/vms/suretyvm/treasury"
)

// subscriberBuffer is the event backlog kept per subscriber before events
// are dropped.
const subscriberBuffer = 1024

var (
	ErrNotOperational = errors.New("contract is not operational")
	ErrNotOwner       = errors.New("caller is not the contract owner")
)

// IsNoOp reports whether err only signals that the call changed nothing:
// a repeated vote, a repeated oracle response or a late response to a
// finalized request.
func IsNoOp(err error) bool {
	return errors.Is(err, governance.ErrDuplicateVote) ||
		errors.Is(err, oracle.ErrDuplicateResponse) ||
		errors.Is(err, oracle.ErrAlreadyFinalized)
}

// Params configures a Surety instance. Only Config is required.
type Params struct {
	Config config.Config
	// DB persists records. Defaults to an in-memory database.
	DB         database.Database
	Registerer prometheus.Registerer
	Log        log.Logger
	Clock      *mockable.Clock
}

// Surety is one insurance service instance.
type Surety struct {
	log   log.Logger
	clock *mockable.Clock

	owner       ids.ShortID
	operational atomic.Bool

	governance *governance.Engine
	oracles    *oracle.Engine
	ledger     *insurance.Ledger
	treasury   *treasury.Vault
	state      *state.State
	metrics    *metrics.Metrics

	subsLock sync.Mutex
	subs     map[uint64]chan oracle.Event
	nextSub  uint64
	closed   bool
}

// New builds a Surety instance. Persisted records in p.DB are restored;
// an empty database starts from genesis with the founding airline funded.
func New(p Params) (*Surety, error) {
	parsed, err := p.Config.Parse()
	if err != nil {
		return nil, err
	}
	founder, err := ids.ShortFromString(p.Config.FoundingAirline)
	if err != nil {
		return nil, fmt.Errorf("%w: founding airline: %w", config.ErrInvalidConfig, err)
	}
	owner := founder
	if p.Config.Owner != "" {
		if owner, err = ids.ShortFromString(p.Config.Owner); err != nil {
			return nil, fmt.Errorf("%w: owner: %w", config.ErrInvalidConfig, err)
		}
	}

	if p.DB == nil {
		p.DB = memdb.New()
	}
	if p.Registerer == nil {
		p.Registerer = prometheus.NewRegistry()
	}
	if p.Log == nil {
		p.Log = log.NewNoOpLogger()
	}
	if p.Clock == nil {
		p.Clock = &mockable.Clock{}
	}

	m, err := metrics.New(p.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	vault := treasury.New()
	s := &Surety{
		log:   p.Log,
		clock: p.Clock,
		owner: owner,
		governance: governance.NewEngine(governance.Config{
			ConsensusThreshold: p.Config.ConsensusThreshold,
			FundingThreshold:   parsed.FundingThreshold,
		}, p.Clock, founder),
		oracles: oracle.NewEngine(oracle.Config{
			MinStake:         parsed.MinOracleStake,
			MinResponses:     p.Config.MinResponses,
			IndexRange:       p.Config.IndexRange,
			IndexesPerOracle: p.Config.IndexesPerOracle,
		}, p.Clock),
		ledger: insurance.NewLedger(insurance.Config{
			MaxInsurance:        parsed.MaxInsurance,
			PayoutMultiplierBps: p.Config.PayoutMultiplierBps,
			PayableStatus:       oracle.StatusCode(p.Config.PayableStatus),
		}, p.Clock, vault),
		treasury: vault,
		state:    state.New(p.DB),
		metrics:  m,
		subs:     make(map[uint64]chan oracle.Event),
	}
	s.operational.Store(true)
	s.oracles.AddListener(s.onEvent)
	s.oracles.OnFinalized(s.onFinalized)

	snap, err := s.state.Load()
	switch {
	case errors.Is(err, state.ErrNoState):
		if err := s.state.Update(func(tx *state.Tx) error {
			a, err := s.governance.Airline(founder)
			if err != nil {
				return err
			}
			if err := tx.PutAirline(a); err != nil {
				return err
			}
			return tx.PutMeta(s.meta())
		}); err != nil {
			return nil, fmt.Errorf("failed to write genesis: %w", err)
		}
		s.log.Info("initialized surety state",
			log.Stringer("founder", founder),
			log.Stringer("owner", owner),
		)
	case err != nil:
		return nil, fmt.Errorf("failed to load state: %w", err)
	default:
		s.restore(snap)
	}
	s.metrics.SetTreasury(s.treasury.Balance())
	return s, nil
}

func (s *Surety) restore(snap *state.Snapshot) {
	s.owner = snap.Meta.Owner
	s.operational.Store(snap.Meta.Operational)
	s.governance.Restore(snap.Airlines)
	s.oracles.Restore(snap.Oracles, snap.Requests, snap.Meta.OracleNonce)

	settled := make(map[ids.ID]oracle.StatusCode)
	for _, r := range snap.Requests {
		if r.Finalized {
			settled[r.Key] = r.Status
		}
	}
	s.ledger.Restore(snap.Policies, snap.Balances, settled)
	s.treasury.Restore(snap.Treasury)

	s.log.Info("restored surety state",
		log.Int("airlines", len(snap.Airlines)),
		log.Int("oracles", len(snap.Oracles)),
		log.Int("requests", len(snap.Requests)),
		log.Int("policies", len(snap.Policies)),
		log.Bool("operational", snap.Meta.Operational),
	)
}

func (s *Surety) meta() state.Meta {
	return state.Meta{
		Owner:       s.owner,
		Operational: s.operational.Load(),
		OracleNonce: s.oracles.Nonce(),
	}
}

// persist commits f. The engines have already applied the mutation, so a
// failed write is logged rather than returned.
func (s *Surety) persist(op string, f func(tx *state.Tx) error) {
	if err := s.state.Update(f); err != nil {
		s.log.Error("failed to persist state",
			log.String("op", op),
			log.Err(err),
		)
	}
}

func (s *Surety) putAirlines(tx *state.Tx, addrs ...ids.ShortID) error {
	for _, addr := range addrs {
		a, err := s.governance.Airline(addr)
		if err != nil {
			return err
		}
		if err := tx.PutAirline(a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Surety) putRequest(tx *state.Tx, key ids.ID) error {
	r, err := s.oracles.Request(key)
	if err != nil {
		return err
	}
	return tx.PutRequest(r)
}

func (s *Surety) deposit(source treasury.Source, amount *big.Int) {
	if err := s.treasury.Deposit(source, amount); err != nil {
		s.log.Error("failed to deposit into treasury",
			log.Stringer("source", source),
			log.Stringer("amount", amount),
			log.Err(err),
		)
		return
	}
	s.metrics.SetTreasury(s.treasury.Balance())
}

func (s *Surety) requireOperational() error {
	if !s.operational.Load() {
		return ErrNotOperational
	}
	return nil
}

// IsOperational reports whether mutations are accepted.
func (s *Surety) IsOperational() bool {
	return s.operational.Load()
}

// SetOperational pauses or resumes the service. Only the owner may call it.
func (s *Surety) SetOperational(caller ids.ShortID, operational bool) error {
	if caller != s.owner {
		return ErrNotOwner
	}
	if s.operational.Swap(operational) == operational {
		return nil
	}
	s.persist("setOperational", func(tx *state.Tx) error {
		return tx.PutMeta(s.meta())
	})
	s.log.Info("operational status changed", log.Bool("operational", operational))
	return nil
}

// Owner returns the address allowed to pause the service.
func (s *Surety) Owner() ids.ShortID {
	return s.owner
}

// RegisterAirline proposes candidate on behalf of the funded airline caller.
func (s *Surety) RegisterAirline(caller, candidate ids.ShortID) (governance.Outcome, error) {
	if err := s.requireOperational(); err != nil {
		return governance.Outcome{}, err
	}
	outcome, err := s.governance.RegisterAirline(caller, candidate)
	if err != nil {
		return outcome, err
	}
	if outcome.Admitted {
		s.metrics.AirlinesRegistered.Inc()
	}
	s.persist("registerAirline", func(tx *state.Tx) error {
		return s.putAirlines(tx, candidate)
	})
	s.log.Info("airline proposed",
		log.Stringer("caller", caller),
		log.Stringer("candidate", candidate),
		log.Stringer("state", outcome.State),
		log.Int("votes", outcome.Votes),
	)
	return outcome, nil
}

// VoteAirline records caller's vote for candidate.
func (s *Surety) VoteAirline(caller, candidate ids.ShortID) (governance.Outcome, error) {
	if err := s.requireOperational(); err != nil {
		return governance.Outcome{}, err
	}
	outcome, err := s.governance.VoteAirline(caller, candidate)
	if err != nil {
		if IsNoOp(err) {
			s.log.Debug("ignored airline vote",
				log.Stringer("caller", caller),
				log.Stringer("candidate", candidate),
				log.Err(err),
			)
		}
		return outcome, err
	}
	s.metrics.VotesCast.Inc()
	if outcome.Admitted {
		s.metrics.AirlinesRegistered.Inc()
	}
	s.persist("voteAirline", func(tx *state.Tx) error {
		return s.putAirlines(tx, candidate)
	})
	s.log.Info("airline vote recorded",
		log.Stringer("caller", caller),
		log.Stringer("candidate", candidate),
		log.Int("votes", outcome.Votes),
		log.Bool("admitted", outcome.Admitted),
	)
	return outcome, nil
}

// Fund stakes amount for the registered airline caller. The stake is pooled
// in the treasury.
func (s *Surety) Fund(caller ids.ShortID, amount *big.Int) (*governance.Airline, error) {
	if err := s.requireOperational(); err != nil {
		return nil, err
	}
	a, err := s.governance.Fund(caller, amount)
	if err != nil {
		return nil, err
	}
	s.deposit(treasury.AirlineStake, amount)
	if a.State == governance.Funded {
		s.metrics.AirlinesFunded.Inc()
	}
	s.persist("fund", func(tx *state.Tx) error {
		if err := s.putAirlines(tx, caller); err != nil {
			return err
		}
		return tx.PutTreasury(s.treasury.Summary())
	})
	s.log.Info("airline funded",
		log.Stringer("airline", caller),
		log.Stringer("amount", amount),
		log.Stringer("stake", a.Stake),
		log.Stringer("state", a.State),
	)
	return a, nil
}

// Airline returns the record for addr.
func (s *Surety) Airline(addr ids.ShortID) (*governance.Airline, error) {
	return s.governance.Airline(addr)
}

// Airlines returns every known airline.
func (s *Surety) Airlines() []*governance.Airline {
	return s.governance.Airlines()
}

// IsFundedAirline reports whether addr is a funded airline.
func (s *Surety) IsFundedAirline(addr ids.ShortID) bool {
	return s.governance.IsFunded(addr)
}

// RegisterOracle admits caller as an oracle. The stake is pooled in the
// treasury.
func (s *Surety) RegisterOracle(caller ids.ShortID, stake *big.Int) (*oracle.Oracle, error) {
	if err := s.requireOperational(); err != nil {
		return nil, err
	}
	o, err := s.oracles.RegisterOracle(caller, stake)
	if err != nil {
		return nil, err
	}
	s.deposit(treasury.OracleStake, stake)
	s.metrics.OraclesRegistered.Inc()
	s.persist("registerOracle", func(tx *state.Tx) error {
		if err := tx.PutOracle(o); err != nil {
			return err
		}
		if err := tx.PutTreasury(s.treasury.Summary()); err != nil {
			return err
		}
		return tx.PutMeta(s.meta())
	})
	s.log.Info("oracle registered",
		log.Stringer("oracle", caller),
		log.Reflect("indexes", o.Indexes),
	)
	return o, nil
}

// Oracle returns the oracle registered at addr.
func (s *Surety) Oracle(addr ids.ShortID) (*oracle.Oracle, error) {
	return s.oracles.Oracle(addr)
}

// Oracles returns every registered oracle.
func (s *Surety) Oracles() []*oracle.Oracle {
	return s.oracles.Oracles()
}

// FetchFlightStatus asks the oracles for the status of flight.
func (s *Surety) FetchFlightStatus(flight oracle.Flight) (*oracle.Request, error) {
	if err := s.requireOperational(); err != nil {
		return nil, err
	}
	r, err := s.oracles.RequestStatus(flight)
	if err != nil {
		return r, err
	}
	s.persist("fetchFlightStatus", func(tx *state.Tx) error {
		if err := s.putRequest(tx, r.Key); err != nil {
			return err
		}
		return tx.PutMeta(s.meta())
	})
	return r, nil
}

// SubmitOracleResponse records an oracle's report on flight.
func (s *Surety) SubmitOracleResponse(addr ids.ShortID, index uint8, flight oracle.Flight, status oracle.StatusCode) (oracle.Result, error) {
	if err := s.requireOperational(); err != nil {
		return oracle.Result{}, err
	}
	res, err := s.oracles.SubmitResponse(addr, index, flight, status)
	if err != nil {
		if IsNoOp(err) {
			s.log.Debug("ignored oracle response",
				log.Stringer("oracle", addr),
				log.Stringer("key", res.Key),
				log.Err(err),
			)
		}
		return res, err
	}
	s.persist("submitOracleResponse", func(tx *state.Tx) error {
		return s.putRequest(tx, res.Key)
	})
	return res, nil
}

// Request returns the status request stored under key.
func (s *Surety) Request(key ids.ID) (*oracle.Request, error) {
	return s.oracles.Request(key)
}

// RequestFor returns the status request opened for flight.
func (s *Surety) RequestFor(flight oracle.Flight) (*oracle.Request, error) {
	return s.oracles.RequestFor(flight)
}

// BuyInsurance covers passenger on flight for amount. The premium is pooled
// in the treasury. A flight whose status request has finalized takes no new
// cover, even before its policies are settled.
func (s *Surety) BuyInsurance(passenger ids.ShortID, flight oracle.Flight, amount *big.Int) (*insurance.Policy, error) {
	if err := s.requireOperational(); err != nil {
		return nil, err
	}
	if r, err := s.oracles.RequestFor(flight); err == nil && r.Finalized {
		return nil, fmt.Errorf("%w: %s finalized as %s", insurance.ErrFlightSettled, flight.Number, r.Status)
	}
	p, err := s.ledger.BuyInsurance(passenger, flight, amount)
	if err != nil {
		return nil, err
	}
	s.deposit(treasury.Premium, amount)
	s.metrics.PoliciesBought.Inc()
	s.persist("buyInsurance", func(tx *state.Tx) error {
		if err := tx.PutPolicy(p); err != nil {
			return err
		}
		return tx.PutTreasury(s.treasury.Summary())
	})
	s.log.Info("insurance bought",
		log.Stringer("passenger", passenger),
		log.String("flight", flight.Number),
		log.Stringer("amount", amount),
		log.Stringer("policy", p.ID),
	)
	return p, nil
}

// Withdraw pays out passenger's credited balance.
func (s *Surety) Withdraw(passenger ids.ShortID) (*big.Int, error) {
	if err := s.requireOperational(); err != nil {
		return nil, err
	}
	amount, err := s.ledger.Withdraw(passenger)
	if err != nil {
		return nil, err
	}
	s.metrics.Withdrawals.Inc()
	s.metrics.SetTreasury(s.treasury.Balance())
	s.persist("withdraw", func(tx *state.Tx) error {
		if err := tx.PutBalance(passenger, s.ledger.Balance(passenger)); err != nil {
			return err
		}
		return tx.PutTreasury(s.treasury.Summary())
	})
	s.log.Info("passenger withdrew",
		log.Stringer("passenger", passenger),
		log.Stringer("amount", amount),
	)
	return amount, nil
}

// Balance returns passenger's withdrawable balance.
func (s *Surety) Balance(passenger ids.ShortID) *big.Int {
	return s.ledger.Balance(passenger)
}

// Policy returns the policy stored under id.
func (s *Surety) Policy(id ids.ID) (*insurance.Policy, error) {
	return s.ledger.Policy(id)
}

// PoliciesFor returns passenger's policies in purchase order.
func (s *Surety) PoliciesFor(passenger ids.ShortID) []*insurance.Policy {
	return s.ledger.PoliciesFor(passenger)
}

// Treasury returns the pooled fund totals.
func (s *Surety) Treasury() treasury.Summary {
	return s.treasury.Summary()
}

// onFinalized settles the flight's policies. It runs once per request, on
// the goroutine of the response that finalized it.
func (s *Surety) onFinalized(r *oracle.Request) {
	settled := s.ledger.OnStatusFinalized(r.Flight, r.Status)

	passengers := make(map[ids.ShortID]struct{})
	for _, p := range settled {
		outcome := p.State.String()
		s.metrics.PoliciesSettled.WithLabelValues(outcome).Inc()
		passengers[p.Passenger] = struct{}{}
	}
	s.persist("settle", func(tx *state.Tx) error {
		for _, p := range settled {
			current, err := s.ledger.Policy(p.ID)
			if err != nil {
				return err
			}
			if err := tx.PutPolicy(current); err != nil {
				return err
			}
		}
		for addr := range passengers {
			if err := tx.PutBalance(addr, s.ledger.Balance(addr)); err != nil {
				return err
			}
		}
		return nil
	})
	s.log.Info("flight status finalized",
		log.Stringer("key", r.Key),
		log.String("flight", r.Flight.Number),
		log.Stringer("status", r.Status),
		log.Int("settledPolicies", len(settled)),
	)
}

func (s *Surety) onEvent(ev oracle.Event) {
	switch ev.Type {
	case oracle.EventOracleRequest:
		s.metrics.RequestsOpened.Inc()
		s.log.Info("oracle request",
			log.Stringer("key", ev.Key),
			log.Int("index", int(ev.Index)),
			log.String("flight", ev.Flight.Number),
		)
	case oracle.EventOracleReport:
		s.metrics.ResponsesRecorded.Inc()
		s.log.Debug("oracle report",
			log.Stringer("key", ev.Key),
			log.Stringer("oracle", ev.Oracle),
			log.Stringer("status", ev.Status),
		)
	case oracle.EventFlightStatusInfo:
		s.metrics.RequestsFinalized.WithLabelValues(ev.Status.String()).Inc()
	}

	s.subsLock.Lock()
	defer s.subsLock.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn("dropped event for slow subscriber",
				log.Uint64("subscriber", id),
				log.Stringer("type", ev.Type),
				log.Stringer("key", ev.Key),
			)
		}
	}
}

// Subscribe returns a channel of oracle events and a function that cancels
// the subscription. Events are dropped for a subscriber whose backlog is
// full.
func (s *Surety) Subscribe() (<-chan oracle.Event, func()) {
	s.subsLock.Lock()
	defer s.subsLock.Unlock()

	ch := make(chan oracle.Event, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsLock.Lock()
			defer s.subsLock.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Close ends every subscription and releases the state manager.
func (s *Surety) Close() error {
	s.subsLock.Lock()
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subsLock.Unlock()
	return s.state.Close()
}
