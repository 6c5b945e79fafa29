// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"
)

var errGather = errors.New("gather failed")

type testGatherer struct {
	mfs []*dto.MetricFamily
	err error
}

func (g *testGatherer) Gather() ([]*dto.MetricFamily, error) {
	return g.mfs, g.err
}

func newCounterRegistry(t *testing.T, names ...string) *prometheus.Registry {
	t.Helper()

	reg := prometheus.NewRegistry()
	for _, name := range names {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: name,
			Help: "help",
		})
		counter.Inc()
		require.NoError(t, reg.Register(counter))
	}
	return reg
}

func familyNames(mfs []*dto.MetricFamily) []string {
	names := make([]string, len(mfs))
	for i, mf := range mfs {
		names[i] = mf.GetName()
	}
	return names
}

func TestMultiGathererEmptyGather(t *testing.T) {
	require := require.New(t)

	g := NewMultiGatherer()
	mfs, err := g.Gather()
	require.NoError(err)
	require.Empty(mfs)
}

func TestMultiGathererSortsFamilies(t *testing.T) {
	require := require.New(t)

	g := NewMultiGatherer()
	require.NoError(g.Register("b", newCounterRegistry(t, "zeta", "alpha")))
	require.NoError(g.Register("a", newCounterRegistry(t, "mu")))

	mfs, err := g.Gather()
	require.NoError(err)
	require.Equal([]string{"alpha", "mu", "zeta"}, familyNames(mfs))
}

func TestMultiGathererDuplicatedName(t *testing.T) {
	require := require.New(t)

	g := NewMultiGatherer()
	require.NoError(g.Register("surety", newCounterRegistry(t)))
	require.ErrorContains(g.Register("surety", newCounterRegistry(t)), "already registered")
}

func TestMultiGathererReturnsPartialResultsOnError(t *testing.T) {
	require := require.New(t)

	g := NewMultiGatherer()
	require.NoError(g.Register("ok", &testGatherer{
		mfs: []*dto.MetricFamily{{Name: proto.String("ok")}},
	}))
	require.NoError(g.Register("bad", &testGatherer{err: errGather}))

	mfs, err := g.Gather()
	require.ErrorIs(err, errGather)
	require.Equal([]string{"ok"}, familyNames(mfs))
}

func TestMakeAndRegister(t *testing.T) {
	require := require.New(t)

	g := NewMultiGatherer()
	reg, err := MakeAndRegister(g, "process")
	require.NoError(err)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "restarts",
		Help: "help",
	})
	require.NoError(reg.Register(counter))

	mfs, err := g.Gather()
	require.NoError(err)
	require.Equal([]string{"restarts"}, familyNames(mfs))

	_, err = MakeAndRegister(g, "process")
	require.ErrorContains(err, `couldn't register "process" metrics`)
}
