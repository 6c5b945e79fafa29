// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/utils/timer/mockable"
)

// nonceWrap bounds the index-draw nonce, as the draw salt only needs to vary.
const nonceWrap = 250

// Config holds the oracle network rules.
type Config struct {
	MinStake *big.Int
	// MinResponses matching responses finalize a request.
	MinResponses int
	// IndexRange bounds index buckets to [0, IndexRange).
	IndexRange int
	// IndexesPerOracle distinct buckets are assigned to every oracle.
	IndexesPerOracle int
}

// Engine is the oracle consensus engine. Response submission is serialized by
// the engine lock, so a request is finalized by exactly one call.
type Engine struct {
	mu    sync.RWMutex
	cfg   Config
	clock *mockable.Clock

	oracles  map[ids.ShortID]*Oracle
	requests map[ids.ID]*Request
	nonce    uint64

	listeners []Listener
	hooks     []FinalizeHook
}

// NewEngine creates an empty oracle network.
func NewEngine(cfg Config, clock *mockable.Clock) *Engine {
	if clock == nil {
		clock = &mockable.Clock{}
	}
	return &Engine{
		cfg:      cfg,
		clock:    clock,
		oracles:  make(map[ids.ShortID]*Oracle),
		requests: make(map[ids.ID]*Request),
	}
}

// AddListener registers l for every future event. Not safe to call
// concurrently with mutations.
func (e *Engine) AddListener(l Listener) {
	e.listeners = append(e.listeners, l)
}

// OnFinalized registers h to run after each finalization. Not safe to call
// concurrently with mutations.
func (e *Engine) OnFinalized(h FinalizeHook) {
	e.hooks = append(e.hooks, h)
}

func (e *Engine) emit(events ...Event) {
	for _, ev := range events {
		for _, l := range e.listeners {
			l(ev)
		}
	}
}

// drawIndex must be called with the write lock held.
func (e *Engine) drawIndex(account ids.ShortID) uint8 {
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], e.nonce)
	e.nonce++
	if e.nonce > nonceWrap {
		e.nonce = 0
	}

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(nonce[:])
	_, _ = h.Write(account[:])
	digest := new(big.Int).SetBytes(h.Sum(nil))
	return uint8(digest.Mod(digest, big.NewInt(int64(e.cfg.IndexRange))).Uint64())
}

// drawIndexes must be called with the write lock held. It gives up after
// one full nonce cycle and leaves the nonce unchanged.
func (e *Engine) drawIndexes(account ids.ShortID) ([]uint8, error) {
	nonce := e.nonce
	indexes := make([]uint8, 0, e.cfg.IndexesPerOracle)
	for attempt := 0; len(indexes) < e.cfg.IndexesPerOracle; attempt++ {
		if attempt > nonceWrap {
			e.nonce = nonce
			return nil, fmt.Errorf("%w: %d distinct indexes for %s", ErrIndexDraw, e.cfg.IndexesPerOracle, account)
		}
		i := e.drawIndex(account)
		if !contains(indexes, i) {
			indexes = append(indexes, i)
		}
	}
	return indexes, nil
}

func contains(s []uint8, v uint8) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// RegisterOracle admits caller as an oracle and assigns its index buckets.
func (e *Engine) RegisterOracle(caller ids.ShortID, stake *big.Int) (*Oracle, error) {
	if stake == nil || stake.Cmp(e.cfg.MinStake) < 0 {
		return nil, fmt.Errorf("%w: need at least %s wei", ErrInsufficientStake, e.cfg.MinStake)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.oracles[caller]; ok {
		return nil, fmt.Errorf("%w: %s", ErrOracleExists, caller)
	}
	indexes, err := e.drawIndexes(caller)
	if err != nil {
		return nil, err
	}
	o := &Oracle{
		Address:      caller,
		Indexes:      indexes,
		Stake:        new(big.Int).Set(stake),
		RegisteredAt: e.clock.Time(),
	}
	e.oracles[caller] = o
	return o.clone(), nil
}

// RequestStatus opens a status request for flight and asks the oracles of
// its index for a report. Requesting an open flight again returns the open
// request without a new event; a finalized flight returns the request with
// ErrAlreadyFinalized.
func (e *Engine) RequestStatus(flight Flight) (*Request, error) {
	if flight.Number == "" {
		return nil, ErrInvalidFlight
	}
	key := flight.Key()

	e.mu.Lock()
	if r, ok := e.requests[key]; ok {
		c := r.clone()
		e.mu.Unlock()
		if c.Finalized {
			return c, ErrAlreadyFinalized
		}
		return c, nil
	}

	r := &Request{
		Key:       key,
		Flight:    flight,
		Index:     e.drawIndex(flight.Airline),
		Responses: make(map[StatusCode][]ids.ShortID),
		OpenedAt:  e.clock.Time(),
	}
	e.requests[key] = r
	c := r.clone()
	e.mu.Unlock()

	e.emit(Event{
		Type:   EventOracleRequest,
		Key:    key,
		Index:  c.Index,
		Flight: flight,
	})
	return c, nil
}

// SubmitResponse records oracle's report of status for flight under index.
// The first status code to collect MinResponses reports finalizes the
// request; later reports are rejected with ErrAlreadyFinalized and leave the
// outcome unchanged.
func (e *Engine) SubmitResponse(oracle ids.ShortID, index uint8, flight Flight, status StatusCode) (Result, error) {
	if !status.Valid() {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	key := flight.Key()

	e.mu.Lock()
	res, finalized, err := e.submit(oracle, index, key, status)
	e.mu.Unlock()
	if err != nil {
		return res, err
	}

	events := []Event{{
		Type:   EventOracleReport,
		Key:    key,
		Index:  index,
		Flight: flight,
		Oracle: oracle,
		Status: status,
	}}
	if finalized != nil {
		events = append(events, Event{
			Type:   EventFlightStatusInfo,
			Key:    key,
			Index:  index,
			Flight: flight,
			Status: finalized.Status,
		})
	}
	// Settlement completes before the final status is published.
	if finalized != nil {
		for _, h := range e.hooks {
			h(finalized)
		}
	}
	e.emit(events...)
	return res, nil
}

// submit must be called with the write lock held. It returns a copy of the
// request if this call finalized it.
func (e *Engine) submit(oracle ids.ShortID, index uint8, key ids.ID, status StatusCode) (Result, *Request, error) {
	res := Result{Key: key, Status: status}

	o, ok := e.oracles[oracle]
	if !ok {
		return res, nil, fmt.Errorf("%w: %s", ErrUnauthorized, oracle)
	}
	if !o.HasIndex(index) {
		return res, nil, fmt.Errorf("%w: oracle %s does not hold index %d", ErrIndexMismatch, oracle, index)
	}
	r, ok := e.requests[key]
	if !ok {
		return res, nil, fmt.Errorf("%w: %s", ErrUnknownRequest, key)
	}
	if r.Index != index {
		return res, nil, fmt.Errorf("%w: request %s wants index %d, got %d", ErrIndexMismatch, key, r.Index, index)
	}
	res.Count = r.ResponseCount(status)
	if r.Finalized {
		res.Finalized, res.FinalStatus = true, r.Status
		return res, nil, ErrAlreadyFinalized
	}
	if r.responded(oracle) {
		return res, nil, ErrDuplicateResponse
	}

	r.Responses[status] = append(r.Responses[status], oracle)
	res.Count = r.ResponseCount(status)
	if res.Count < e.cfg.MinResponses {
		return res, nil, nil
	}

	r.Finalized = true
	r.Status = status
	r.FinalizedAt = e.clock.Time()
	res.Finalized, res.FinalStatus = true, status
	return res, r.clone(), nil
}

// Oracle returns a copy of the oracle registered at addr.
func (e *Engine) Oracle(addr ids.ShortID) (*Oracle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.oracles[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, addr)
	}
	return o.clone(), nil
}

// Indexes returns the buckets assigned to addr.
func (e *Engine) Indexes(addr ids.ShortID) ([]uint8, error) {
	o, err := e.Oracle(addr)
	if err != nil {
		return nil, err
	}
	return o.Indexes, nil
}

// Oracles returns every registered oracle ordered by address.
func (e *Engine) Oracles() []*Oracle {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Oracle, 0, len(e.oracles))
	for _, o := range e.oracles {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Request returns a copy of the request stored under key.
func (e *Engine) Request(key ids.ID) (*Request, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.requests[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRequest, key)
	}
	return r.clone(), nil
}

// RequestFor returns a copy of the request opened for flight.
func (e *Engine) RequestFor(flight Flight) (*Request, error) {
	return e.Request(flight.Key())
}

// Requests returns every request ordered by key.
func (e *Engine) Requests() []*Request {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Request, 0, len(e.requests))
	for _, r := range e.requests {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key[:], out[j].Key[:]) < 0
	})
	return out
}

// Nonce returns the current index-draw nonce.
func (e *Engine) Nonce() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nonce
}

// Restore replaces the engine contents with previously exported records.
func (e *Engine) Restore(oracles []*Oracle, requests []*Request, nonce uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.oracles = make(map[ids.ShortID]*Oracle, len(oracles))
	for _, o := range oracles {
		e.oracles[o.Address] = o.clone()
	}
	e.requests = make(map[ids.ID]*Request, len(requests))
	for _, r := range requests {
		c := r.clone()
		e.requests[c.Key] = c
	}
	e.nonce = nonce % (nonceWrap + 1)
}
