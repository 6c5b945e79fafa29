// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treasury

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/utils/units"
)

func TestDepositAndRelease(t *testing.T) {
	require := require.New(t)

	v := New()
	require.NoError(v.Deposit(AirlineStake, units.Ethers(10)))
	require.NoError(v.Deposit(OracleStake, units.MilliEthers(1_200)))
	require.NoError(v.Deposit(Premium, units.Ethers(1)))
	require.Zero(v.Balance().Cmp(units.MilliEthers(12_200)))

	var (
		releasedTo ids.ShortID
		released   *big.Int
	)
	v.OnRelease(func(to ids.ShortID, amount *big.Int) {
		releasedTo, released = to, amount
	})

	passenger := ids.GenerateTestShortID()
	require.NoError(v.Release(passenger, units.MilliEthers(1_500)))
	require.Equal(passenger, releasedTo)
	require.Zero(released.Cmp(units.MilliEthers(1_500)))

	s := v.Summary()
	require.Zero(s.Balance.Cmp(units.MilliEthers(10_700)))
	require.Zero(s.AirlineStakes.Cmp(units.Ethers(10)))
	require.Zero(s.OracleStakes.Cmp(units.MilliEthers(1_200)))
	require.Zero(s.Premiums.Cmp(units.Ethers(1)))
	require.Zero(s.Released.Cmp(units.MilliEthers(1_500)))
}

func TestReleaseInsufficientFunds(t *testing.T) {
	require := require.New(t)

	v := New()
	require.NoError(v.Deposit(Premium, units.Ethers(1)))
	require.False(v.CanCover(units.Ethers(2)))

	err := v.Release(ids.GenerateTestShortID(), units.Ethers(2))
	require.ErrorIs(err, ErrInsufficientFunds)
	require.Zero(v.Balance().Cmp(units.Ethers(1)))
	require.True(v.CanCover(units.Ethers(1)))
}

func TestInvalidAmounts(t *testing.T) {
	require := require.New(t)

	v := New()
	require.ErrorIs(v.Deposit(Premium, big.NewInt(0)), ErrInvalidAmount)
	require.ErrorIs(v.Deposit(Premium, nil), ErrInvalidAmount)
	require.ErrorIs(v.Deposit(Source(9), big.NewInt(1)), ErrInvalidSource)
	require.ErrorIs(v.Release(ids.GenerateTestShortID(), big.NewInt(-1)), ErrInvalidAmount)
	require.Zero(v.Balance().Sign())
}

func TestConcurrentReleasesNeverOverdraw(t *testing.T) {
	require := require.New(t)

	v := New()
	require.NoError(v.Deposit(Premium, units.Ethers(5)))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := v.Release(ids.GenerateTestShortID(), units.Ethers(1)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(5, ok)
	require.Zero(v.Balance().Sign())
}

func TestRestore(t *testing.T) {
	require := require.New(t)

	v := New()
	require.NoError(v.Deposit(AirlineStake, units.Ethers(10)))
	require.NoError(v.Release(ids.GenerateTestShortID(), units.Ethers(3)))

	restored := New()
	restored.Restore(v.Summary())
	require.Equal(v.Summary(), restored.Summary())

	empty := New()
	empty.Restore(Summary{})
	require.Zero(empty.Balance().Sign())
}
