// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package relay runs simulated oracles that answer flight status requests.
package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/surety/utils/units"
	"github.com/luxfi/surety/vms/suretyvm"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
)

var ErrNoOracles = errors.New("no oracles registered")

// Backend is the contract the relay reports to.
type Backend interface {
	RegisterOracle(caller ids.ShortID, stake *big.Int) (*oracle.Oracle, error)
	Oracle(addr ids.ShortID) (*oracle.Oracle, error)
	SubmitOracleResponse(addr ids.ShortID, index uint8, flight oracle.Flight, status oracle.StatusCode) (oracle.Result, error)
}

// StatusFunc picks the status the oracles report for a request.
type StatusFunc func(oracle.Event) oracle.StatusCode

// RandomStatus reports a uniformly random status code.
func RandomStatus(oracle.Event) oracle.StatusCode {
	return oracle.StatusCodes[rand.IntN(len(oracle.StatusCodes))]
}

// Config configures the simulated oracles.
type Config struct {
	// Oracles is the number of simulated oracles to register.
	Oracles int `json:"oracles"`
	// Stake is paid by every simulated oracle at registration.
	Stake *big.Int `json:"stake"`
	// Seed derives the oracle addresses.
	Seed string `json:"seed"`
	// Workers bounds the number of concurrent submissions.
	Workers int `json:"workers"`
	// MaxAttempts bounds the sends of one response.
	MaxAttempts int           `json:"maxAttempts"`
	RetryDelay  time.Duration `json:"retryDelay"`
	Status      StatusFunc    `json:"-"`
}

func DefaultConfig() Config {
	return Config{
		Oracles:     20,
		Stake:       units.MilliEthers(1_200),
		Seed:        "surety-relay",
		Workers:     8,
		MaxAttempts: 3,
		RetryDelay:  250 * time.Millisecond,
		Status:      RandomStatus,
	}
}

// Relay answers every status request on behalf of the simulated oracles
// holding the request index.
type Relay struct {
	backend Backend
	cfg     Config
	log     log.Logger

	mu      sync.RWMutex
	oracles []*oracle.Oracle
}

func New(backend Backend, cfg Config, logger log.Logger) *Relay {
	if cfg.Status == nil {
		cfg.Status = RandomStatus
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Relay{
		backend: backend,
		cfg:     cfg,
		log:     logger,
	}
}

// Address returns the address of the i-th simulated oracle.
func (r *Relay) Address(i int) ids.ShortID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(r.cfg.Seed))
	_, _ = h.Write(buf[:])
	var addr ids.ShortID
	copy(addr[:], h.Sum(nil))
	return addr
}

// Register registers the simulated oracles. Oracles registered by an earlier
// run are reused with their stored indexes.
func (r *Relay) Register() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.oracles = r.oracles[:0]
	for i := 0; i < r.cfg.Oracles; i++ {
		addr := r.Address(i)
		o, err := r.backend.RegisterOracle(addr, r.cfg.Stake)
		if errors.Is(err, oracle.ErrOracleExists) {
			o, err = r.backend.Oracle(addr)
		}
		if err != nil {
			return fmt.Errorf("failed to register oracle %s: %w", addr, err)
		}
		r.oracles = append(r.oracles, o)
	}
	r.log.Info("registered simulated oracles",
		log.Int("oracles", len(r.oracles)),
	)
	return nil
}

// Oracles returns the simulated oracles registered by this relay.
func (r *Relay) Oracles() []*oracle.Oracle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]*oracle.Oracle(nil), r.oracles...)
}

// Eligible returns the simulated oracles holding index.
func (r *Relay) Eligible(index uint8) []*oracle.Oracle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []*oracle.Oracle
	for _, o := range r.oracles {
		if o.HasIndex(index) {
			eligible = append(eligible, o)
		}
	}
	return eligible
}

// Run answers the status requests read from events until ctx is done or
// events is closed. In-flight submissions are drained before Run returns.
func (r *Relay) Run(ctx context.Context, events <-chan oracle.Event) error {
	if len(r.Oracles()) == 0 {
		return ErrNoOracles
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	defer func() {
		_ = g.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != oracle.EventOracleRequest {
				continue
			}
			r.dispatch(ctx, &g, ev)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, g *errgroup.Group, ev oracle.Event) {
	status := r.cfg.Status(ev)
	eligible := r.Eligible(ev.Index)
	r.log.Debug("relaying status request",
		log.Stringer("key", ev.Key),
		log.String("flight", ev.Flight.Number),
		log.Int("index", int(ev.Index)),
		log.Int("oracles", len(eligible)),
		log.Stringer("status", status),
	)
	for _, o := range eligible {
		addr := o.Address
		g.Go(func() error {
			r.submit(ctx, addr, ev, status)
			return nil
		})
	}
}

func (r *Relay) submit(ctx context.Context, addr ids.ShortID, ev oracle.Event, status oracle.StatusCode) {
	for attempt := 1; ; attempt++ {
		_, err := r.backend.SubmitOracleResponse(addr, ev.Index, ev.Flight, status)
		switch {
		case err == nil:
			return
		case suretyvm.IsNoOp(err):
			r.log.Debug("ignored oracle response",
				log.Stringer("oracle", addr),
				log.Stringer("key", ev.Key),
				log.Err(err),
			)
			return
		case attempt >= r.cfg.MaxAttempts:
			r.log.Warn("failed to submit oracle response",
				log.Stringer("oracle", addr),
				log.Stringer("key", ev.Key),
				log.Int("attempts", attempt),
				log.Err(err),
			)
			return
		}

		timer := time.NewTimer(r.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
