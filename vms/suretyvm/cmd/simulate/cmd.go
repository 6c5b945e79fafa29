// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/sha3"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/surety/utils/units"
	"github.com/luxfi/surety/vms/suretyvm"
	"github.com/luxfi/surety/vms/suretyvm/config"
	"github.com/luxfi/surety/vms/suretyvm/governance"
	"github.com/luxfi/surety/vms/suretyvm/insurance"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
	"github.com/luxfi/surety/vms/suretyvm/relay"
)

const (
	OraclesKey = "oracles"
	FlightKey  = "flight"
	StatusKey  = "status"
	PremiumKey = "premium"
	TimeoutKey = "timeout"
)

var errUnsettled = errors.New("flight was not settled")

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "simulate",
		Short: "Runs an in-memory airline, oracle and insurance scenario",
		RunE:  simulateFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func AddFlags(flags *pflag.FlagSet) {
	flags.Int(OraclesKey, relay.DefaultConfig().Oracles, "Number of simulated oracles")
	flags.String(FlightKey, "ND1309", "Flight to insure")
	flags.Uint8(StatusKey, uint8(oracle.StatusLateAirline), "Status code the oracles report")
	flags.String(PremiumKey, units.Ethers(1).String(), "Premium in wei paid by the passenger")
	flags.Duration(TimeoutKey, 10*time.Second, "Maximum time to wait for the oracles")
}

type Config struct {
	Oracles int
	Flight  string
	Status  oracle.StatusCode
	Premium string
	Timeout time.Duration
}

func ParseFlags(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	oracles, err := flags.GetInt(OraclesKey)
	if err != nil {
		return nil, err
	}

	flight, err := flags.GetString(FlightKey)
	if err != nil {
		return nil, err
	}

	status, err := flags.GetUint8(StatusKey)
	if err != nil {
		return nil, err
	}
	if !oracle.StatusCode(status).Valid() {
		return nil, fmt.Errorf("%w: %d", oracle.ErrInvalidStatus, status)
	}

	premium, err := flags.GetString(PremiumKey)
	if err != nil {
		return nil, err
	}

	timeout, err := flags.GetDuration(TimeoutKey)
	if err != nil {
		return nil, err
	}

	return &Config{
		Oracles: oracles,
		Flight:  flight,
		Status:  oracle.StatusCode(status),
		Premium: premium,
		Timeout: timeout,
	}, nil
}

func simulateFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	config, err := ParseFlags(flags, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context(), config.Timeout)
	defer cancel()
	return Run(ctx, config, c.OutOrStdout())
}

// address derives a stable address for a named participant.
func address(name string) ids.ShortID {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(name))
	var addr ids.ShortID
	copy(addr[:], h.Sum(nil))
	return addr
}

// Run funds four airlines, votes in a fifth, insures a passenger and lets the
// simulated oracles settle the flight, printing each step to w.
func Run(ctx context.Context, c *Config, w io.Writer) error {
	premium, err := units.ParseWei(c.Premium)
	if err != nil {
		return err
	}

	founder := address("airline-0")
	cfg := config.DefaultConfig()
	cfg.FoundingAirline = founder.String()
	s, err := suretyvm.New(suretyvm.Params{Config: cfg})
	if err != nil {
		return err
	}
	defer s.Close()

	airlines := []ids.ShortID{founder}
	for i := 1; i < cfg.ConsensusThreshold; i++ {
		airline := address(fmt.Sprintf("airline-%d", i))
		if _, err := s.RegisterAirline(founder, airline); err != nil {
			return err
		}
		if _, err := s.Fund(airline, units.Ethers(10)); err != nil {
			return err
		}
		airlines = append(airlines, airline)
	}
	fmt.Fprintf(w, "funded %d airlines\n", len(airlines))

	candidate := address(fmt.Sprintf("airline-%d", len(airlines)))
	outcome, err := s.RegisterAirline(founder, candidate)
	if err != nil {
		return err
	}
	for _, voter := range airlines[1:] {
		if outcome.State != governance.Pending {
			break
		}
		if outcome, err = s.VoteAirline(voter, candidate); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "airline %s is %s with %d votes\n", candidate, outcome.State, outcome.Votes)

	rc := relay.DefaultConfig()
	rc.Oracles = c.Oracles
	rc.Status = func(oracle.Event) oracle.StatusCode {
		return c.Status
	}
	oracles := relay.New(s, rc, log.NewNoOpLogger())
	if err := oracles.Register(); err != nil {
		return err
	}
	fmt.Fprintf(w, "registered %d oracles\n", len(oracles.Oracles()))

	passenger := address("passenger-0")
	flight := oracle.Flight{
		Airline:   airlines[1],
		Number:    c.Flight,
		Timestamp: uint64(time.Now().Unix()),
	}
	policy, err := s.BuyInsurance(passenger, flight, premium)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "passenger %s insured flight %s for %s ether\n", passenger, flight.Number, units.FormatEther(policy.Amount))

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	relayCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- oracles.Run(relayCtx, events)
	}()

	r, err := s.FetchFlightStatus(flight)
	if err != nil {
		stop()
		<-done
		return err
	}
	fmt.Fprintf(w, "requested status of flight %s from index %d (%d oracles)\n", flight.Number, r.Index, len(oracles.Eligible(r.Index)))

	settled, err := waitSettled(ctx, s, passenger, policy.ID)
	stop()
	if runErr := <-done; err == nil {
		err = runErr
	}
	if err != nil {
		return err
	}

	r, err = s.RequestFor(flight)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "flight %s finalized as %s\n", flight.Number, r.Status)
	fmt.Fprintf(w, "policy is %s, passenger balance %s ether\n", settled.State, units.FormatEther(s.Balance(passenger)))

	if settled.State == insurance.Paid {
		amount, err := s.Withdraw(passenger)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "passenger withdrew %s ether\n", units.FormatEther(amount))
	}
	fmt.Fprintf(w, "treasury holds %s ether\n", units.FormatEther(s.Treasury().Balance))
	return nil
}

func waitSettled(ctx context.Context, s *suretyvm.Surety, passenger ids.ShortID, id ids.ID) (*insurance.Policy, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, p := range s.PoliciesFor(passenger) {
			if p.ID == id && p.State != insurance.Active {
				return p, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", errUnsettled, ctx.Err())
		case <-ticker.C:
		}
	}
}
