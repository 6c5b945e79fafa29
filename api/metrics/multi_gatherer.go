// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	dto "github.com/prometheus/client_model/go"
)

var _ MultiGatherer = (*multiGatherer)(nil)

// MultiGatherer is a Gatherer that merges the families of named gatherers.
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds gatherer under name. Names are unique.
	Register(name string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	lock      sync.RWMutex
	names     []string
	gatherers []prometheus.Gatherer
}

// NewMultiGatherer merges gatherers without renaming their families.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{}
}

// Gather returns the families gathered so far when a gatherer fails.
func (g *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	g.lock.RLock()
	defer g.lock.RUnlock()

	var families []*dto.MetricFamily
	for i, gatherer := range g.gatherers {
		mfs, err := gatherer.Gather()
		families = append(families, mfs...)
		if err != nil {
			return families, fmt.Errorf("gathering %q: %w", g.names[i], err)
		}
	}
	slices.SortFunc(families, func(a, b *dto.MetricFamily) int {
		return cmp.Compare(a.GetName(), b.GetName())
	})
	return families, nil
}

func (g *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	if slices.Contains(g.names, name) {
		return fmt.Errorf("gatherer %q already registered", name)
	}
	g.add(name, gatherer)
	return nil
}

// add must be called with the lock held.
func (g *multiGatherer) add(name string, gatherer prometheus.Gatherer) {
	g.names = append(g.names, name)
	g.gatherers = append(g.gatherers, gatherer)
}

// MakeAndRegister returns a new registry gathered by g under name.
func MakeAndRegister(g MultiGatherer, name string) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := g.Register(name, reg); err != nil {
		return nil, fmt.Errorf("couldn't register %q metrics: %w", name, err)
	}
	return reg, nil
}
