// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle resolves flight statuses through a network of staked
// oracles. Each oracle answers for a few index buckets; a status request is
// assigned one bucket and finalizes once enough oracles from that bucket
// report the same status code.
package oracle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/ids"
)

var (
	ErrUnauthorized      = errors.New("oracle is not registered")
	ErrOracleExists      = errors.New("oracle already registered")
	ErrInsufficientStake = errors.New("insufficient oracle stake")
	ErrIndexMismatch     = errors.New("index does not match oracle or request")
	ErrUnknownRequest    = errors.New("unknown status request")
	ErrAlreadyFinalized  = errors.New("status request already finalized")
	ErrDuplicateResponse = errors.New("oracle already responded to request")
	ErrInvalidStatus     = errors.New("invalid status code")
	ErrInvalidFlight     = errors.New("invalid flight")
	ErrIndexDraw         = errors.New("could not draw distinct indexes")
)

// StatusCode is a flight status reported by oracles.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// StatusCodes lists every valid status code in ascending order.
var StatusCodes = []StatusCode{
	StatusUnknown,
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

// Valid reports whether s is a known status code.
func (s StatusCode) Valid() bool {
	return s <= StatusLateOther && s%10 == 0
}

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on_time"
	case StatusLateAirline:
		return "late_airline"
	case StatusLateWeather:
		return "late_weather"
	case StatusLateTechnical:
		return "late_technical"
	case StatusLateOther:
		return "late_other"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Flight identifies a flight departure that a status request is about.
type Flight struct {
	Airline   ids.ShortID `json:"airline"`
	Number    string      `json:"flight"`
	Timestamp uint64      `json:"timestamp"`
}

// Key is the keccak256 digest of (airline, flight number, timestamp).
func (f Flight) Key() ids.ID {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], f.Timestamp)

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(f.Airline[:])
	_, _ = h.Write([]byte(f.Number))
	_, _ = h.Write(ts[:])

	var key ids.ID
	copy(key[:], h.Sum(nil))
	return key
}

// Oracle is a registered responder. It never changes after registration.
type Oracle struct {
	Address      ids.ShortID `json:"address"`
	Indexes      []uint8     `json:"indexes"`
	Stake        *big.Int    `json:"stake"`
	RegisteredAt time.Time   `json:"registeredAt"`
}

// HasIndex reports whether the oracle answers for bucket index.
func (o *Oracle) HasIndex(index uint8) bool {
	for _, i := range o.Indexes {
		if i == index {
			return true
		}
	}
	return false
}

func (o *Oracle) clone() *Oracle {
	c := *o
	c.Indexes = append([]uint8(nil), o.Indexes...)
	c.Stake = new(big.Int)
	if o.Stake != nil {
		c.Stake.Set(o.Stake)
	}
	return &c
}

// Request is a status lookup. Responses accumulate until one status code has
// MinResponses oracles behind it; after that the request never changes.
type Request struct {
	Key       ids.ID                        `json:"key"`
	Flight    Flight                        `json:"flight"`
	Index     uint8                         `json:"index"`
	Responses map[StatusCode][]ids.ShortID `json:"responses"`
	Finalized bool                          `json:"finalized"`
	Status    StatusCode                    `json:"status"`

	OpenedAt    time.Time `json:"openedAt"`
	FinalizedAt time.Time `json:"finalizedAt"`
}

// ResponseCount returns the number of oracles that reported status.
func (r *Request) ResponseCount(status StatusCode) int {
	return len(r.Responses[status])
}

func (r *Request) responded(oracle ids.ShortID) bool {
	for _, voters := range r.Responses {
		for _, v := range voters {
			if v == oracle {
				return true
			}
		}
	}
	return false
}

func (r *Request) clone() *Request {
	c := *r
	c.Responses = make(map[StatusCode][]ids.ShortID, len(r.Responses))
	for status, voters := range r.Responses {
		c.Responses[status] = append([]ids.ShortID(nil), voters...)
	}
	return &c
}

// EventType distinguishes the notifications emitted by the engine.
type EventType uint8

const (
	// EventOracleRequest asks the oracles of Index to report on Flight.
	EventOracleRequest EventType = iota
	// EventOracleReport is emitted for every recorded response.
	EventOracleReport
	// EventFlightStatusInfo is emitted once, when a request finalizes.
	EventFlightStatusInfo
)

func (t EventType) String() string {
	switch t {
	case EventOracleRequest:
		return "oracle_request"
	case EventOracleReport:
		return "oracle_report"
	case EventFlightStatusInfo:
		return "flight_status_info"
	default:
		return "unknown"
	}
}

// Event is an observable engine notification.
type Event struct {
	Type   EventType   `json:"type"`
	Key    ids.ID      `json:"key"`
	Index  uint8       `json:"index"`
	Flight Flight      `json:"flight"`
	Oracle ids.ShortID `json:"oracle"`
	Status StatusCode  `json:"status"`
}

// Listener receives engine events. It is called without engine locks held,
// in the goroutine of the call that caused the event.
type Listener func(Event)

// FinalizeHook is called exactly once per request, by the call that
// finalized it, after the engine lock has been released.
type FinalizeHook func(*Request)

// Result describes the effect of a response submission.
type Result struct {
	Key       ids.ID
	Status    StatusCode
	Count     int
	Finalized bool
	// FinalStatus is the request's finalized status when Finalized is set.
	FinalStatus StatusCode
}
