// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package simulate

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/luxfi/surety/vms/suretyvm/oracle"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func parse(t *testing.T, args ...string) *Config {
	t.Helper()

	flags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	AddFlags(flags)
	cfg, err := ParseFlags(flags, args)
	require.NoError(t, err)
	return cfg
}

func TestParseFlags(t *testing.T) {
	require := require.New(t)

	cfg := parse(t)
	require.Equal(20, cfg.Oracles)
	require.Equal("ND1309", cfg.Flight)
	require.Equal(oracle.StatusLateAirline, cfg.Status)
	require.Equal(10*time.Second, cfg.Timeout)

	flags := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	AddFlags(flags)
	_, err := ParseFlags(flags, []string{"--" + StatusKey, "7"})
	require.ErrorIs(err, oracle.ErrInvalidStatus)
}

func TestRunPaysDelayedPassenger(t *testing.T) {
	require := require.New(t)

	cfg := parse(t, "--"+OraclesKey, "60")
	out := &bytes.Buffer{}
	require.NoError(Run(context.Background(), cfg, out))

	require.Contains(out.String(), "funded 4 airlines")
	require.Contains(out.String(), "is registered with 2 votes")
	require.Contains(out.String(), "registered 60 oracles")
	require.Contains(out.String(), "finalized as late_airline")
	require.Contains(out.String(), "policy is paid, passenger balance 1.5 ether")
	require.Contains(out.String(), "passenger withdrew 1.5 ether")
}

func TestRunVoidsOnTimeFlight(t *testing.T) {
	require := require.New(t)

	cfg := parse(t, "--"+OraclesKey, "60", "--"+StatusKey, "10")
	out := &bytes.Buffer{}
	require.NoError(Run(context.Background(), cfg, out))

	require.Contains(out.String(), "finalized as on_time")
	require.Contains(out.String(), "policy is void, passenger balance 0 ether")
	require.NotContains(out.String(), "withdrew")
}

func TestRunTimesOutWithoutOracles(t *testing.T) {
	require := require.New(t)

	cfg := parse(t, "--"+OraclesKey, "0")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Run(ctx, cfg, &bytes.Buffer{})
	require.ErrorIs(err, errUnsettled)
}
