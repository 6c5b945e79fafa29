// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package insurance

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/utils/timer/mockable"
	"github.com/luxfi/surety/utils/units"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
)

var errPayerDown = errors.New("payer down")

type testPayer struct {
	mu       sync.Mutex
	fail     bool
	released map[ids.ShortID]*big.Int
}

func (p *testPayer) Release(to ids.ShortID, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errPayerDown
	}
	if p.released == nil {
		p.released = make(map[ids.ShortID]*big.Int)
	}
	b, ok := p.released[to]
	if !ok {
		b = new(big.Int)
		p.released[to] = b
	}
	b.Add(b, amount)
	return nil
}

func newTestLedger() (*Ledger, *testPayer) {
	clock := &mockable.Clock{}
	clock.Set(time.Unix(1_700_000_000, 0))
	payer := &testPayer{}
	return NewLedger(Config{
		MaxInsurance:        units.Ethers(1),
		PayoutMultiplierBps: 15_000,
		PayableStatus:       oracle.StatusLateAirline,
	}, clock, payer), payer
}

func testFlight() oracle.Flight {
	return oracle.Flight{
		Airline:   ids.GenerateTestShortID(),
		Number:    "ND1309",
		Timestamp: 1_700_000_000,
	}
}

func TestBuyInsurance(t *testing.T) {
	require := require.New(t)

	l, _ := newTestLedger()
	passenger := ids.GenerateTestShortID()
	flight := testFlight()

	p, err := l.BuyInsurance(passenger, flight, units.MilliEthers(400))
	require.NoError(err)
	require.Equal(Active, p.State)
	require.Equal(passenger, p.Passenger)
	require.Equal(flight, p.Flight)

	got, err := l.Policy(p.ID)
	require.NoError(err)
	require.Equal(p, got)

	// A second purchase on the same flight gets its own id.
	q, err := l.BuyInsurance(passenger, flight, units.MilliEthers(400))
	require.NoError(err)
	require.NotEqual(p.ID, q.ID)
	require.Len(l.PoliciesFor(passenger), 2)
}

func TestBuyInsuranceInvalidAmount(t *testing.T) {
	require := require.New(t)

	l, _ := newTestLedger()
	passenger := ids.GenerateTestShortID()

	_, err := l.BuyInsurance(passenger, testFlight(), big.NewInt(0))
	require.ErrorIs(err, ErrInvalidAmount)
	_, err = l.BuyInsurance(passenger, testFlight(), big.NewInt(-1))
	require.ErrorIs(err, ErrInvalidAmount)
	_, err = l.BuyInsurance(passenger, testFlight(), nil)
	require.ErrorIs(err, ErrInvalidAmount)
	require.Empty(l.PoliciesFor(passenger))
}

func TestBuyInsuranceCapIsCumulative(t *testing.T) {
	require := require.New(t)

	l, _ := newTestLedger()
	passenger := ids.GenerateTestShortID()
	flight := testFlight()

	_, err := l.BuyInsurance(passenger, flight, units.Ethers(2))
	require.ErrorIs(err, ErrLimitExceeded)

	_, err = l.BuyInsurance(passenger, flight, units.MilliEthers(600))
	require.NoError(err)
	_, err = l.BuyInsurance(passenger, flight, units.MilliEthers(401))
	require.ErrorIs(err, ErrLimitExceeded)
	_, err = l.BuyInsurance(passenger, flight, units.MilliEthers(400))
	require.NoError(err)

	// The cap is per passenger and flight.
	_, err = l.BuyInsurance(ids.GenerateTestShortID(), flight, units.Ethers(1))
	require.NoError(err)
	_, err = l.BuyInsurance(passenger, testFlight(), units.Ethers(1))
	require.NoError(err)
}

func TestDelayedFlightPaysOnce(t *testing.T) {
	require := require.New(t)

	l, _ := newTestLedger()
	passenger := ids.GenerateTestShortID()
	flight := testFlight()

	p, err := l.BuyInsurance(passenger, flight, units.Ethers(1))
	require.NoError(err)

	settled := l.OnStatusFinalized(flight, oracle.StatusLateAirline)
	require.Len(settled, 1)
	require.Equal(Paid, settled[0].State)
	require.Zero(settled[0].Payout.Cmp(units.MilliEthers(1_500)))
	require.Zero(l.Balance(passenger).Cmp(units.MilliEthers(1_500)))

	got, err := l.Policy(p.ID)
	require.NoError(err)
	require.Equal(Paid, got.State)

	// Settling again credits nothing.
	require.Empty(l.OnStatusFinalized(flight, oracle.StatusLateAirline))
	require.Zero(l.Balance(passenger).Cmp(units.MilliEthers(1_500)))

	_, err = l.BuyInsurance(passenger, flight, units.MilliEthers(100))
	require.ErrorIs(err, ErrFlightSettled)
}

func TestOtherStatusVoids(t *testing.T) {
	for _, status := range oracle.StatusCodes {
		if status == oracle.StatusLateAirline {
			continue
		}
		t.Run(status.String(), func(t *testing.T) {
			require := require.New(t)

			l, _ := newTestLedger()
			passenger := ids.GenerateTestShortID()
			flight := testFlight()
			_, err := l.BuyInsurance(passenger, flight, units.Ethers(1))
			require.NoError(err)

			settled := l.OnStatusFinalized(flight, status)
			require.Len(settled, 1)
			require.Equal(Void, settled[0].State)
			require.Nil(settled[0].Payout)
			require.Zero(l.Balance(passenger).Sign())
		})
	}
}

func TestSettlementOnlyTouchesFlight(t *testing.T) {
	require := require.New(t)

	l, _ := newTestLedger()
	passenger := ids.GenerateTestShortID()
	delayed, other := testFlight(), testFlight()

	_, err := l.BuyInsurance(passenger, delayed, units.MilliEthers(200))
	require.NoError(err)
	q, err := l.BuyInsurance(passenger, other, units.MilliEthers(200))
	require.NoError(err)

	require.Len(l.OnStatusFinalized(delayed, oracle.StatusLateAirline), 1)

	got, err := l.Policy(q.ID)
	require.NoError(err)
	require.Equal(Active, got.State)
	require.Zero(l.Balance(passenger).Cmp(units.MilliEthers(300)))
}

func TestWithdraw(t *testing.T) {
	require := require.New(t)

	l, payer := newTestLedger()
	passenger := ids.GenerateTestShortID()
	flight := testFlight()

	_, err := l.Withdraw(passenger)
	require.ErrorIs(err, ErrInsufficientBalance)

	_, err = l.BuyInsurance(passenger, flight, units.Ethers(1))
	require.NoError(err)
	l.OnStatusFinalized(flight, oracle.StatusLateAirline)

	amount, err := l.Withdraw(passenger)
	require.NoError(err)
	require.Zero(amount.Cmp(units.MilliEthers(1_500)))
	require.Zero(payer.released[passenger].Cmp(units.MilliEthers(1_500)))
	require.Zero(l.Balance(passenger).Sign())

	_, err = l.Withdraw(passenger)
	require.ErrorIs(err, ErrInsufficientBalance)
	require.Zero(payer.released[passenger].Cmp(units.MilliEthers(1_500)))
}

func TestWithdrawKeepsBalanceWhenPayerFails(t *testing.T) {
	require := require.New(t)

	l, payer := newTestLedger()
	passenger := ids.GenerateTestShortID()
	flight := testFlight()
	_, err := l.BuyInsurance(passenger, flight, units.Ethers(1))
	require.NoError(err)
	l.OnStatusFinalized(flight, oracle.StatusLateAirline)

	payer.fail = true
	_, err = l.Withdraw(passenger)
	require.ErrorIs(err, errPayerDown)
	require.Zero(l.Balance(passenger).Cmp(units.MilliEthers(1_500)))

	payer.fail = false
	_, err = l.Withdraw(passenger)
	require.NoError(err)
}

func TestConcurrentWithdrawPaysOnce(t *testing.T) {
	require := require.New(t)

	l, payer := newTestLedger()
	passenger := ids.GenerateTestShortID()
	flight := testFlight()
	_, err := l.BuyInsurance(passenger, flight, units.Ethers(1))
	require.NoError(err)
	l.OnStatusFinalized(flight, oracle.StatusLateAirline)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Withdraw(passenger); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(1, successes)
	require.Zero(payer.released[passenger].Cmp(units.MilliEthers(1_500)))
}

func TestRestore(t *testing.T) {
	require := require.New(t)

	l, _ := newTestLedger()
	passenger := ids.GenerateTestShortID()
	settledFlight, openFlight := testFlight(), testFlight()
	_, err := l.BuyInsurance(passenger, settledFlight, units.Ethers(1))
	require.NoError(err)
	_, err = l.BuyInsurance(passenger, openFlight, units.MilliEthers(500))
	require.NoError(err)
	l.OnStatusFinalized(settledFlight, oracle.StatusLateAirline)

	restored, _ := newTestLedger()
	restored.Restore(l.Policies(), l.Balances(), map[ids.ID]oracle.StatusCode{
		settledFlight.Key(): oracle.StatusLateAirline,
	})
	require.Equal(l.Policies(), restored.Policies())
	require.Equal(l.PoliciesFor(passenger), restored.PoliciesFor(passenger))
	require.Zero(restored.Balance(passenger).Cmp(units.MilliEthers(1_500)))

	_, err = restored.BuyInsurance(passenger, settledFlight, units.MilliEthers(1))
	require.ErrorIs(err, ErrFlightSettled)
	_, err = restored.BuyInsurance(passenger, openFlight, units.MilliEthers(501))
	require.ErrorIs(err, ErrLimitExceeded)

	// New policies continue the purchase sequence.
	p, err := restored.BuyInsurance(passenger, openFlight, units.MilliEthers(500))
	require.NoError(err)
	require.Equal(uint64(2), p.Seq)
}

func TestPayoutStateText(t *testing.T) {
	require := require.New(t)

	for s := Active; s <= Void; s++ {
		b, err := s.MarshalText()
		require.NoError(err)
		var got PayoutState
		require.NoError(got.UnmarshalText(b))
		require.Equal(s, got)
	}
	var bad PayoutState
	require.ErrorIs(bad.UnmarshalText([]byte("bogus")), ErrInvalidPayoutState)
}
