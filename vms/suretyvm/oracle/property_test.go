// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/luxfi/ids"

	"github.com/luxfi/surety/utils/units"
)

// TestFirstCodeToQuorumWins replays arbitrary response sequences and checks
// that the request finalizes with the first status code to collect
// MinResponses reports and never changes afterwards.
func TestFirstCodeToQuorumWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("finalized status is the first code to reach quorum", prop.ForAll(
		func(codes []int) bool {
			e := NewEngine(Config{
				MinStake:         units.Ethers(1),
				MinResponses:     3,
				IndexRange:       10,
				IndexesPerOracle: 3,
			}, nil)

			flight := Flight{
				Airline:   ids.GenerateTestShortID(),
				Number:    "ND1309",
				Timestamp: 1,
			}
			r, err := e.RequestStatus(flight)
			if err != nil {
				return false
			}

			var oracles []ids.ShortID
			for len(oracles) < len(codes) {
				addr := ids.GenerateTestShortID()
				o, err := e.RegisterOracle(addr, units.Ethers(1))
				if err != nil {
					return false
				}
				if o.HasIndex(r.Index) {
					oracles = append(oracles, addr)
				}
			}

			var (
				tally    = make(map[StatusCode]int)
				winner   StatusCode
				finished bool
			)
			for i, c := range codes {
				status := StatusCodes[c]
				res, err := e.SubmitResponse(oracles[i], r.Index, flight, status)
				if finished {
					if !errors.Is(err, ErrAlreadyFinalized) || res.FinalStatus != winner {
						return false
					}
					continue
				}
				if err != nil {
					return false
				}
				tally[status]++
				if tally[status] >= 3 {
					finished, winner = true, status
				}
				if res.Finalized != finished {
					return false
				}
			}

			got, err := e.Request(r.Key)
			if err != nil || got.Finalized != finished {
				return false
			}
			return !finished || got.Status == winner
		},
		gen.SliceOfN(12, gen.IntRange(0, len(StatusCodes)-1)),
	))

	properties.TestingRun(t)
}
