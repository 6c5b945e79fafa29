// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/surety/utils/units"
	"github.com/luxfi/surety/utils/wrappers"
)

// Metrics tracks the protocol counters of a Surety VM.
type Metrics struct {
	AirlinesRegistered prometheus.Counter
	VotesCast          prometheus.Counter
	AirlinesFunded     prometheus.Counter
	OraclesRegistered  prometheus.Counter
	RequestsOpened     prometheus.Counter
	ResponsesRecorded  prometheus.Counter
	// RequestsFinalized is labeled by finalized status.
	RequestsFinalized *prometheus.CounterVec
	PoliciesBought    prometheus.Counter
	// PoliciesSettled is labeled by outcome, paid or void.
	PoliciesSettled *prometheus.CounterVec
	Withdrawals     prometheus.Counter
	TreasuryBalance prometheus.Gauge
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name:      name,
		Help:      help,
	})
}

// New creates the metrics and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		AirlinesRegistered: counter("airlines_registered", "Number of airlines admitted"),
		VotesCast:          counter("votes_cast", "Number of airline admission votes recorded"),
		AirlinesFunded:     counter("airlines_funded", "Number of airlines that reached the funding threshold"),
		OraclesRegistered:  counter("oracles_registered", "Number of oracles registered"),
		RequestsOpened:     counter("status_requests_opened", "Number of flight status requests opened"),
		ResponsesRecorded:  counter("oracle_responses_recorded", "Number of oracle responses recorded"),
		RequestsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name:      "status_requests_finalized",
			Help:      "Number of flight status requests finalized",
		}, []string{"status"}),
		PoliciesBought: counter("policies_bought", "Number of insurance policies bought"),
		PoliciesSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name:      "policies_settled",
			Help:      "Number of insurance policies settled",
		}, []string{"outcome"}),
		Withdrawals: counter("withdrawals", "Number of passenger withdrawals"),
		TreasuryBalance: prometheus.NewGauge(prometheus.GaugeOpts{
				Name:      "treasury_balance_ether",
			Help:      "Pooled treasury balance in ether",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.AirlinesRegistered),
		registerer.Register(m.VotesCast),
		registerer.Register(m.AirlinesFunded),
		registerer.Register(m.OraclesRegistered),
		registerer.Register(m.RequestsOpened),
		registerer.Register(m.ResponsesRecorded),
		registerer.Register(m.RequestsFinalized),
		registerer.Register(m.PoliciesBought),
		registerer.Register(m.PoliciesSettled),
		registerer.Register(m.Withdrawals),
		registerer.Register(m.TreasuryBalance),
	)
	return m, errs.Err
}

// SetTreasury records the treasury balance.
func (m *Metrics) SetTreasury(wei *big.Int) {
	m.TreasuryBalance.Set(units.EtherFloat(wei))
}
