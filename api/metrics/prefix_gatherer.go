// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"
)

var (
	_ MultiGatherer = (*prefixGatherer)(nil)

	errOverlappingNamespaces = errors.New("prefix could create overlapping namespaces")
)

// NewPrefixGatherer merges gatherers, renaming each family to prefix_name
// with the name the gatherer was registered under.
func NewPrefixGatherer() MultiGatherer {
	return &prefixGatherer{}
}

type prefixGatherer struct {
	multiGatherer
}

func (g *prefixGatherer) Register(prefix string, gatherer prometheus.Gatherer) error {
	g.lock.Lock()
	defer g.lock.Unlock()

	for _, existing := range g.names {
		if eitherIsPrefix(prefix, existing) {
			return fmt.Errorf("%w: %q and %q", errOverlappingNamespaces, prefix, existing)
		}
	}
	g.add(prefix, prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		mfs, err := gatherer.Gather()
		for _, mf := range mfs {
			mf.Name = proto.String(appendNamespace(prefix, mf.GetName()))
		}
		return mfs, err
	}))
	return nil
}

func appendNamespace(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	default:
		return prefix + "_" + name
	}
}

// eitherIsPrefix reports whether one of a and b is a namespace prefix of the
// other. "http" prefixes "http_requests" but not "httpd".
func eitherIsPrefix(a, b string) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	if !strings.HasPrefix(b, a) {
		return false
	}
	return a == "" || len(a) == len(b) || b[len(a)] == '_'
}
