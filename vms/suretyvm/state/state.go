// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state persists Surety VM records.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/database/versiondb"
	"github.com/luxfi/ids"

	"github.com/luxfi/surety/vms/suretyvm/governance"
	"github.com/luxfi/surety/vms/suretyvm/insurance"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
	"github.com/luxfi/surety/vms/suretyvm/treasury"
)

var (
	ErrNoState        = errors.New("no persisted state")
	ErrStateCorrupted = errors.New("state corrupted")

	// Database prefixes
	prefixAirline = []byte("airline:")
	prefixOracle  = []byte("oracle:")
	prefixRequest = []byte("request:")
	prefixPolicy  = []byte("policy:")
	prefixBalance = []byte("balance:")
	keyTreasury   = []byte("treasury")
	keyMeta       = []byte("meta")
)

// Meta holds the scalar VM fields.
type Meta struct {
	Owner       ids.ShortID `json:"owner"`
	Operational bool        `json:"operational"`
	OracleNonce uint64      `json:"oracleNonce"`
}

// Snapshot is every persisted record.
type Snapshot struct {
	Meta     Meta
	Airlines []*governance.Airline
	Oracles  []*oracle.Oracle
	Requests []*oracle.Request
	Policies []*insurance.Policy
	Balances map[ids.ShortID]*big.Int
	Treasury treasury.Summary
}

// State writes records through a versiondb so that each update is committed
// to the underlying database as one batch.
type State struct {
	mu sync.Mutex
	db *versiondb.Database

	airlineDB database.Database
	oracleDB  database.Database
	requestDB database.Database
	policyDB  database.Database
	balanceDB database.Database
}

// New creates a state manager over db.
func New(db database.Database) *State {
	vdb := versiondb.New(db)
	return &State{
		db:        vdb,
		airlineDB: prefixdb.New(prefixAirline, vdb),
		oracleDB:  prefixdb.New(prefixOracle, vdb),
		requestDB: prefixdb.New(prefixRequest, vdb),
		policyDB:  prefixdb.New(prefixPolicy, vdb),
		balanceDB: prefixdb.New(prefixBalance, vdb),
	}
}

// Tx stages writes for one update.
type Tx struct {
	s *State
}

func put(db database.Database, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Put(key, data)
}

func (tx *Tx) PutAirline(a *governance.Airline) error {
	return put(tx.s.airlineDB, a.Address[:], a)
}

func (tx *Tx) PutOracle(o *oracle.Oracle) error {
	return put(tx.s.oracleDB, o.Address[:], o)
}

func (tx *Tx) PutRequest(r *oracle.Request) error {
	return put(tx.s.requestDB, r.Key[:], r)
}

func (tx *Tx) PutPolicy(p *insurance.Policy) error {
	return put(tx.s.policyDB, p.ID[:], p)
}

// PutBalance stores a passenger balance. A zero balance is deleted.
func (tx *Tx) PutBalance(addr ids.ShortID, balance *big.Int) error {
	if balance == nil || balance.Sign() == 0 {
		return tx.s.balanceDB.Delete(addr[:])
	}
	return tx.s.balanceDB.Put(addr[:], []byte(balance.String()))
}

func (tx *Tx) PutTreasury(s treasury.Summary) error {
	return put(tx.s.db, keyTreasury, s)
}

func (tx *Tx) PutMeta(m Meta) error {
	return put(tx.s.db, keyMeta, m)
}

// Update runs f and commits its writes. If f fails nothing is written.
func (s *State) Update(f func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := f(&Tx{s: s}); err != nil {
		s.db.Abort()
		return err
	}
	if err := s.db.Commit(); err != nil {
		s.db.Abort()
		return fmt.Errorf("failed to commit state: %w", err)
	}
	return nil
}

// Load reads every record. It returns ErrNoState if nothing was ever
// committed.
func (s *State) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Balances: make(map[ids.ShortID]*big.Int),
	}
	if err := get(s.db, keyMeta, &snap.Meta); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNoState
		}
		return nil, err
	}
	if err := get(s.db, keyTreasury, &snap.Treasury); err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	var err error
	if snap.Airlines, err = loadAll[governance.Airline](s.airlineDB); err != nil {
		return nil, fmt.Errorf("failed to load airlines: %w", err)
	}
	if snap.Oracles, err = loadAll[oracle.Oracle](s.oracleDB); err != nil {
		return nil, fmt.Errorf("failed to load oracles: %w", err)
	}
	if snap.Requests, err = loadAll[oracle.Request](s.requestDB); err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}
	if snap.Policies, err = loadAll[insurance.Policy](s.policyDB); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	iter := s.balanceDB.NewIterator()
	defer iter.Release()
	for iter.Next() {
		addr, err := ids.ToShortID(iter.Key())
		if err != nil {
			return nil, fmt.Errorf("%w: balance key: %w", ErrStateCorrupted, err)
		}
		b, ok := new(big.Int).SetString(string(iter.Value()), 10)
		if !ok {
			return nil, fmt.Errorf("%w: balance of %s", ErrStateCorrupted, addr)
		}
		snap.Balances[addr] = b
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return snap, nil
}

func get(db database.Database, key []byte, v any) error {
	data, err := db.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStateCorrupted, key, err)
	}
	return nil
}

func loadAll[T any](db database.Database) ([]*T, error) {
	iter := db.NewIterator()
	defer iter.Release()

	var out []*T
	for iter.Next() {
		v := new(T)
		if err := json.Unmarshal(iter.Value(), v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStateCorrupted, err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

// Close closes the state manager. The underlying database is left open.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.Abort()
	return nil
}
