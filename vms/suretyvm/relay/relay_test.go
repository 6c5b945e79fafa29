// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/surety/utils/units"
	"github.com/luxfi/surety/vms/suretyvm"
	"github.com/luxfi/surety/vms/suretyvm/config"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUnavailable = errors.New("unavailable")

type testBackend struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (*testBackend) RegisterOracle(caller ids.ShortID, _ *big.Int) (*oracle.Oracle, error) {
	return &oracle.Oracle{Address: caller, Indexes: []uint8{0, 1, 2}}, nil
}

func (*testBackend) Oracle(ids.ShortID) (*oracle.Oracle, error) {
	return nil, oracle.ErrUnauthorized
}

func (b *testBackend) SubmitOracleResponse(ids.ShortID, uint8, oracle.Flight, oracle.StatusCode) (oracle.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if b.failures != 0 {
		b.failures--
		return oracle.Result{}, b.err
	}
	return oracle.Result{}, nil
}

func (b *testBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.calls
}

func testConfig(oracles int) Config {
	cfg := DefaultConfig()
	cfg.Oracles = oracles
	cfg.RetryDelay = time.Millisecond
	cfg.Status = func(oracle.Event) oracle.StatusCode {
		return oracle.StatusLateAirline
	}
	return cfg
}

// relayOnce delivers ev to a relay over b and waits for every submission.
func relayOnce(t *testing.T, b *testBackend, cfg Config, ev oracle.Event) {
	t.Helper()
	require := require.New(t)

	r := New(b, cfg, log.NewNoOpLogger())
	require.NoError(r.Register())

	events := make(chan oracle.Event, 1)
	events <- ev
	close(events)
	require.NoError(r.Run(context.Background(), events))
}

func TestRelayFinalizesRequests(t *testing.T) {
	require := require.New(t)

	founder := ids.GenerateTestShortID()
	cfg := config.DefaultConfig()
	cfg.FoundingAirline = founder.String()
	s, err := suretyvm.New(suretyvm.Params{
		Config: cfg,
		DB:     memdb.New(),
	})
	require.NoError(err)
	defer func() {
		require.NoError(s.Close())
	}()

	r := New(s, testConfig(60), log.NewNoOpLogger())
	require.NoError(r.Register())
	require.Len(r.Oracles(), 60)

	events, cancel := s.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, events)
	}()

	passenger := ids.GenerateTestShortID()
	flight := oracle.Flight{Airline: founder, Number: "ND1309", Timestamp: 1_700_000_000}
	_, err = s.BuyInsurance(passenger, flight, units.Ethers(1))
	require.NoError(err)

	req, err := s.FetchFlightStatus(flight)
	require.NoError(err)
	require.GreaterOrEqual(len(r.Eligible(req.Index)), cfg.MinResponses)

	require.Eventually(func() bool {
		return s.Balance(passenger).Sign() > 0
	}, 5*time.Second, 5*time.Millisecond)

	req, err = s.RequestFor(flight)
	require.NoError(err)
	require.True(req.Finalized)
	require.Equal(oracle.StatusLateAirline, req.Status)
	require.Zero(s.Balance(passenger).Cmp(units.MilliEthers(1_500)))

	stop()
	require.NoError(<-done)
}

func TestRegisterReusesOracles(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.FoundingAirline = ids.GenerateTestShortID().String()
	s, err := suretyvm.New(suretyvm.Params{Config: cfg})
	require.NoError(err)
	defer func() {
		require.NoError(s.Close())
	}()

	first := New(s, testConfig(5), log.NewNoOpLogger())
	require.NoError(first.Register())
	stakes := s.Treasury().OracleStakes
	require.Zero(stakes.Cmp(units.MilliEthers(6_000)))

	second := New(s, testConfig(5), log.NewNoOpLogger())
	require.NoError(second.Register())
	require.Equal(first.Oracles(), second.Oracles())
	require.Zero(s.Treasury().OracleStakes.Cmp(stakes))
}

func TestRegisterRejectsLowStake(t *testing.T) {
	require := require.New(t)

	cfg := config.DefaultConfig()
	cfg.FoundingAirline = ids.GenerateTestShortID().String()
	s, err := suretyvm.New(suretyvm.Params{Config: cfg})
	require.NoError(err)
	defer func() {
		require.NoError(s.Close())
	}()

	rc := testConfig(1)
	rc.Stake = units.MilliEthers(500)
	err = New(s, rc, log.NewNoOpLogger()).Register()
	require.ErrorIs(err, oracle.ErrInsufficientStake)
}

func TestAddressIsDeterministic(t *testing.T) {
	require := require.New(t)

	a := New(&testBackend{}, testConfig(2), log.NewNoOpLogger())
	b := New(&testBackend{}, testConfig(2), log.NewNoOpLogger())
	require.Equal(a.Address(0), b.Address(0))
	require.NotEqual(a.Address(0), a.Address(1))

	cfg := testConfig(2)
	cfg.Seed = "other"
	c := New(&testBackend{}, cfg, log.NewNoOpLogger())
	require.NotEqual(a.Address(0), c.Address(0))
}

func TestSubmitRetries(t *testing.T) {
	ev := oracle.Event{
		Type:   oracle.EventOracleRequest,
		Index:  1,
		Flight: oracle.Flight{Number: "ND1309"},
	}

	tests := []struct {
		name     string
		failures int
		err      error
		calls    int
	}{
		{
			name:  "success",
			calls: 1,
		},
		{
			name:     "transient failure",
			failures: 2,
			err:      errUnavailable,
			calls:    3,
		},
		{
			name:     "persistent failure",
			failures: 10,
			err:      errUnavailable,
			calls:    3,
		},
		{
			name:     "duplicate response",
			failures: 10,
			err:      oracle.ErrDuplicateResponse,
			calls:    1,
		},
		{
			name:     "already finalized",
			failures: 10,
			err:      oracle.ErrAlreadyFinalized,
			calls:    1,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b := &testBackend{failures: test.failures, err: test.err}
			relayOnce(t, b, testConfig(1), ev)
			require.Equal(t, test.calls, b.Calls())
		})
	}
}

func TestOnlyRequestsAreRelayed(t *testing.T) {
	require := require.New(t)

	b := &testBackend{}
	relayOnce(t, b, testConfig(4), oracle.Event{
		Type:  oracle.EventOracleReport,
		Index: 1,
	})
	require.Zero(b.Calls())

	// Every oracle holds index 1.
	relayOnce(t, b, testConfig(4), oracle.Event{
		Type:  oracle.EventOracleRequest,
		Index: 1,
	})
	require.Equal(4, b.Calls())
}

func TestRunWithoutOracles(t *testing.T) {
	require := require.New(t)

	r := New(&testBackend{}, testConfig(0), log.NewNoOpLogger())
	require.NoError(r.Register())
	require.ErrorIs(r.Run(context.Background(), make(chan oracle.Event)), ErrNoOracles)
}

func TestRunStopsRetryingOnCancel(t *testing.T) {
	require := require.New(t)

	b := &testBackend{failures: 10, err: errUnavailable}
	cfg := testConfig(1)
	cfg.RetryDelay = time.Hour
	cfg.MaxAttempts = 5
	r := New(b, cfg, log.NewNoOpLogger())
	require.NoError(r.Register())

	events := make(chan oracle.Event, 1)
	events <- oracle.Event{Type: oracle.EventOracleRequest, Index: 0}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, events)
	}()

	require.Eventually(func() bool {
		return b.Calls() == 1
	}, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(<-done)
	require.Equal(1, b.Calls())
}
