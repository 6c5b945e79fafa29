// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api provides the JSON-RPC API of the Surety VM.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/surety/utils/json"
	"github.com/luxfi/surety/vms/suretyvm"
	"github.com/luxfi/surety/vms/suretyvm/governance"
	"github.com/luxfi/surety/vms/suretyvm/insurance"
	"github.com/luxfi/surety/vms/suretyvm/oracle"
	"github.com/luxfi/surety/vms/suretyvm/treasury"
)

var ErrInvalidRequest = errors.New("invalid request")

// Backend is the service the API exposes.
type Backend interface {
	IsOperational() bool
	SetOperational(caller ids.ShortID, operational bool) error

	RegisterAirline(caller, candidate ids.ShortID) (governance.Outcome, error)
	VoteAirline(caller, candidate ids.ShortID) (governance.Outcome, error)
	Fund(caller ids.ShortID, amount *big.Int) (*governance.Airline, error)
	Airline(addr ids.ShortID) (*governance.Airline, error)
	Airlines() []*governance.Airline

	RegisterOracle(caller ids.ShortID, stake *big.Int) (*oracle.Oracle, error)
	Oracle(addr ids.ShortID) (*oracle.Oracle, error)
	Oracles() []*oracle.Oracle
	FetchFlightStatus(flight oracle.Flight) (*oracle.Request, error)
	SubmitOracleResponse(addr ids.ShortID, index uint8, flight oracle.Flight, status oracle.StatusCode) (oracle.Result, error)
	RequestFor(flight oracle.Flight) (*oracle.Request, error)

	BuyInsurance(passenger ids.ShortID, flight oracle.Flight, amount *big.Int) (*insurance.Policy, error)
	Withdraw(passenger ids.ShortID) (*big.Int, error)
	Balance(passenger ids.ShortID) *big.Int
	PoliciesFor(passenger ids.ShortID) []*insurance.Policy

	Treasury() treasury.Summary
}

// Service is the JSON-RPC service. Callers name themselves in each request;
// signatures are not checked.
type Service struct {
	backend Backend
	log     log.Logger
}

// NewService creates a new API service.
func NewService(backend Backend, logger log.Logger) *Service {
	return &Service{backend: backend, log: logger}
}

func parseAddress(field, s string) (ids.ShortID, error) {
	addr, err := ids.ShortFromString(s)
	if err != nil {
		return ids.ShortEmpty, fmt.Errorf("%w: invalid %s address %q", ErrInvalidRequest, field, s)
	}
	return addr, nil
}

// noop converts a no-op error into a successful reply flag.
func (s *Service) noop(method string, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if suretyvm.IsNoOp(err) {
		s.log.Debug("no-op api call",
			log.String("method", method),
			log.Err(err),
		)
		return true, nil
	}
	return false, err
}

// ============================================
// Health and Status APIs
// ============================================

// PingReply is the reply for the Ping API.
type PingReply struct {
	Success bool `json:"success"`
}

// Ping returns a simple health check response.
func (*Service) Ping(_ *http.Request, _ *struct{}, reply *PingReply) error {
	reply.Success = true
	return nil
}

// OperationalReply reports whether mutations are accepted.
type OperationalReply struct {
	Operational bool `json:"operational"`
}

// IsOperational returns the operational status.
func (s *Service) IsOperational(_ *http.Request, _ *struct{}, reply *OperationalReply) error {
	reply.Operational = s.backend.IsOperational()
	return nil
}

// SetOperationalArgs is the argument for the SetOperational API.
type SetOperationalArgs struct {
	Caller      string `json:"caller"`
	Operational bool   `json:"operational"`
}

// SetOperational pauses or resumes the contract.
func (s *Service) SetOperational(_ *http.Request, args *SetOperationalArgs, reply *OperationalReply) error {
	caller, err := parseAddress("caller", args.Caller)
	if err != nil {
		return err
	}
	if err := s.backend.SetOperational(caller, args.Operational); err != nil {
		return err
	}
	reply.Operational = s.backend.IsOperational()
	return nil
}

// TreasuryReply is the reply for the GetTreasury API.
type TreasuryReply struct {
	Balance       json.Wei `json:"balance"`
	AirlineStakes json.Wei `json:"airlineStakes"`
	OracleStakes  json.Wei `json:"oracleStakes"`
	Premiums      json.Wei `json:"premiums"`
	Released      json.Wei `json:"released"`
}

// GetTreasury returns the pooled contract balance.
func (s *Service) GetTreasury(_ *http.Request, _ *struct{}, reply *TreasuryReply) error {
	t := s.backend.Treasury()
	reply.Balance = json.NewWei(t.Balance)
	reply.AirlineStakes = json.NewWei(t.AirlineStakes)
	reply.OracleStakes = json.NewWei(t.OracleStakes)
	reply.Premiums = json.NewWei(t.Premiums)
	reply.Released = json.NewWei(t.Released)
	return nil
}

// ============================================
// Airline APIs
// ============================================

// AirlineArgs names a caller acting on a candidate airline.
type AirlineArgs struct {
	Caller  string `json:"caller"`
	Airline string `json:"airline"`
}

// OutcomeReply is the reply for the RegisterAirline and VoteAirline APIs.
type OutcomeReply struct {
	Airline  string `json:"airline"`
	State    string `json:"state"`
	Votes    int    `json:"votes"`
	Admitted bool   `json:"admitted"`
	NoOp     bool   `json:"noop"`
}

func (r *OutcomeReply) set(o governance.Outcome) {
	r.Airline = o.Candidate.String()
	r.State = o.State.String()
	r.Votes = o.Votes
	r.Admitted = o.Admitted
}

// RegisterAirline proposes an airline.
func (s *Service) RegisterAirline(_ *http.Request, args *AirlineArgs, reply *OutcomeReply) error {
	caller, err := parseAddress("caller", args.Caller)
	if err != nil {
		return err
	}
	candidate, err := parseAddress("airline", args.Airline)
	if err != nil {
		return err
	}
	outcome, err := s.backend.RegisterAirline(caller, candidate)
	if err != nil {
		return err
	}
	reply.set(outcome)
	return nil
}

// VoteAirline votes for an airline. Repeated votes succeed with noop set.
func (s *Service) VoteAirline(_ *http.Request, args *AirlineArgs, reply *OutcomeReply) error {
	caller, err := parseAddress("caller", args.Caller)
	if err != nil {
		return err
	}
	candidate, err := parseAddress("airline", args.Airline)
	if err != nil {
		return err
	}
	outcome, err := s.backend.VoteAirline(caller, candidate)
	if reply.NoOp, err = s.noop("voteAirline", err); err != nil {
		return err
	}
	reply.set(outcome)
	reply.Airline = candidate.String()
	return nil
}

// FundArgs is the argument for the Fund API.
type FundArgs struct {
	Caller string   `json:"caller"`
	Amount json.Wei `json:"amount"`
}

// AirlineReply describes an airline.
type AirlineReply struct {
	Address string   `json:"address"`
	State   string   `json:"state"`
	Stake   json.Wei `json:"stake"`
	Votes   int      `json:"votes"`
}

func newAirlineReply(a *governance.Airline) AirlineReply {
	return AirlineReply{
		Address: a.Address.String(),
		State:   a.State.String(),
		Stake:   json.NewWei(a.Stake),
		Votes:   a.Votes(),
	}
}

// Fund stakes funds for the calling airline.
func (s *Service) Fund(_ *http.Request, args *FundArgs, reply *AirlineReply) error {
	caller, err := parseAddress("caller", args.Caller)
	if err != nil {
		return err
	}
	a, err := s.backend.Fund(caller, args.Amount.Big())
	if err != nil {
		return err
	}
	*reply = newAirlineReply(a)
	return nil
}

// AddressArgs names one account.
type AddressArgs struct {
	Address string `json:"address"`
}

// GetAirline returns an airline.
func (s *Service) GetAirline(_ *http.Request, args *AddressArgs, reply *AirlineReply) error {
	addr, err := parseAddress("airline", args.Address)
	if err != nil {
		return err
	}
	a, err := s.backend.Airline(addr)
	if err != nil {
		return err
	}
	*reply = newAirlineReply(a)
	return nil
}

// ListAirlinesReply is the reply for the ListAirlines API.
type ListAirlinesReply struct {
	Airlines []AirlineReply `json:"airlines"`
}

// ListAirlines returns every known airline.
func (s *Service) ListAirlines(_ *http.Request, _ *struct{}, reply *ListAirlinesReply) error {
	airlines := s.backend.Airlines()
	reply.Airlines = make([]AirlineReply, len(airlines))
	for i, a := range airlines {
		reply.Airlines[i] = newAirlineReply(a)
	}
	return nil
}

// ============================================
// Oracle APIs
// ============================================

// RegisterOracleArgs is the argument for the RegisterOracle API.
type RegisterOracleArgs struct {
	Caller string   `json:"caller"`
	Stake  json.Wei `json:"stake"`
}

// OracleReply describes an oracle.
type OracleReply struct {
	Address string `json:"address"`
	Indexes []int  `json:"indexes"`
}

func newOracleReply(o *oracle.Oracle) OracleReply {
	indexes := make([]int, len(o.Indexes))
	for i, index := range o.Indexes {
		indexes[i] = int(index)
	}
	return OracleReply{
		Address: o.Address.String(),
		Indexes: indexes,
	}
}

// RegisterOracle registers the caller as an oracle.
func (s *Service) RegisterOracle(_ *http.Request, args *RegisterOracleArgs, reply *OracleReply) error {
	caller, err := parseAddress("caller", args.Caller)
	if err != nil {
		return err
	}
	o, err := s.backend.RegisterOracle(caller, args.Stake.Big())
	if err != nil {
		return err
	}
	*reply = newOracleReply(o)
	return nil
}

// GetOracleIndexes returns the index buckets of an oracle.
func (s *Service) GetOracleIndexes(_ *http.Request, args *AddressArgs, reply *OracleReply) error {
	addr, err := parseAddress("oracle", args.Address)
	if err != nil {
		return err
	}
	o, err := s.backend.Oracle(addr)
	if err != nil {
		return err
	}
	*reply = newOracleReply(o)
	return nil
}

// ListOraclesReply is the reply for the ListOracles API.
type ListOraclesReply struct {
	Oracles []OracleReply `json:"oracles"`
}

// ListOracles returns every registered oracle.
func (s *Service) ListOracles(_ *http.Request, _ *struct{}, reply *ListOraclesReply) error {
	oracles := s.backend.Oracles()
	reply.Oracles = make([]OracleReply, len(oracles))
	for i, o := range oracles {
		reply.Oracles[i] = newOracleReply(o)
	}
	return nil
}

// FlightArgs identifies a flight.
type FlightArgs struct {
	Airline   string      `json:"airline"`
	Flight    string      `json:"flight"`
	Timestamp json.Uint64 `json:"timestamp"`
}

func (a *FlightArgs) parse() (oracle.Flight, error) {
	airline, err := parseAddress("airline", a.Airline)
	if err != nil {
		return oracle.Flight{}, err
	}
	if a.Flight == "" {
		return oracle.Flight{}, fmt.Errorf("%w: flight required", ErrInvalidRequest)
	}
	return oracle.Flight{
		Airline:   airline,
		Number:    a.Flight,
		Timestamp: uint64(a.Timestamp),
	}, nil
}

// StatusRequestReply describes a status request.
type StatusRequestReply struct {
	Key       string         `json:"key"`
	Index     uint8          `json:"index"`
	Finalized bool           `json:"finalized"`
	Status    uint8          `json:"status"`
	Responses map[string]int `json:"responses"`
	NoOp      bool           `json:"noop"`
}

func (r *StatusRequestReply) set(req *oracle.Request) {
	r.Key = req.Key.String()
	r.Index = req.Index
	r.Finalized = req.Finalized
	r.Status = uint8(req.Status)
	r.Responses = make(map[string]int, len(req.Responses))
	for status, oracles := range req.Responses {
		r.Responses[status.String()] = len(oracles)
	}
}

// FetchFlightStatus asks the oracles for a flight's status. Fetching an
// already finalized flight succeeds with noop set.
func (s *Service) FetchFlightStatus(_ *http.Request, args *FlightArgs, reply *StatusRequestReply) error {
	flight, err := args.parse()
	if err != nil {
		return err
	}
	r, err := s.backend.FetchFlightStatus(flight)
	if reply.NoOp, err = s.noop("fetchFlightStatus", err); err != nil {
		return err
	}
	reply.set(r)
	return nil
}

// GetStatusRequest returns the status request for a flight.
func (s *Service) GetStatusRequest(_ *http.Request, args *FlightArgs, reply *StatusRequestReply) error {
	flight, err := args.parse()
	if err != nil {
		return err
	}
	r, err := s.backend.RequestFor(flight)
	if err != nil {
		return err
	}
	reply.set(r)
	return nil
}

// SubmitOracleResponseArgs is the argument for the SubmitOracleResponse API.
type SubmitOracleResponseArgs struct {
	FlightArgs
	Oracle string `json:"oracle"`
	Index  uint8  `json:"index"`
	Status uint8  `json:"status"`
}

// SubmitOracleResponseReply is the reply for the SubmitOracleResponse API.
type SubmitOracleResponseReply struct {
	Key         string `json:"key"`
	Count       int    `json:"count"`
	Finalized   bool   `json:"finalized"`
	FinalStatus uint8  `json:"finalStatus"`
	NoOp        bool   `json:"noop"`
}

// SubmitOracleResponse reports a flight status on behalf of an oracle.
// Repeated and late responses succeed with noop set.
func (s *Service) SubmitOracleResponse(_ *http.Request, args *SubmitOracleResponseArgs, reply *SubmitOracleResponseReply) error {
	flight, err := args.FlightArgs.parse()
	if err != nil {
		return err
	}
	addr, err := parseAddress("oracle", args.Oracle)
	if err != nil {
		return err
	}
	res, err := s.backend.SubmitOracleResponse(addr, args.Index, flight, oracle.StatusCode(args.Status))
	if reply.NoOp, err = s.noop("submitOracleResponse", err); err != nil {
		return err
	}
	reply.Key = res.Key.String()
	reply.Count = res.Count
	reply.Finalized = res.Finalized
	reply.FinalStatus = uint8(res.FinalStatus)
	return nil
}

// ============================================
// Insurance APIs
// ============================================

// BuyInsuranceArgs is the argument for the BuyInsurance API.
type BuyInsuranceArgs struct {
	FlightArgs
	Passenger string   `json:"passenger"`
	Amount    json.Wei `json:"amount"`
}

// PolicyReply describes a policy.
type PolicyReply struct {
	ID     string   `json:"id"`
	Flight string   `json:"flight"`
	Amount json.Wei `json:"amount"`
	State  string   `json:"state"`
	Payout json.Wei `json:"payout"`
}

func newPolicyReply(p *insurance.Policy) PolicyReply {
	return PolicyReply{
		ID:     p.ID.String(),
		Flight: p.Flight.Number,
		Amount: json.NewWei(p.Amount),
		State:  p.State.String(),
		Payout: json.NewWei(p.Payout),
	}
}

// BuyInsurance covers a passenger on a flight.
func (s *Service) BuyInsurance(_ *http.Request, args *BuyInsuranceArgs, reply *PolicyReply) error {
	flight, err := args.FlightArgs.parse()
	if err != nil {
		return err
	}
	passenger, err := parseAddress("passenger", args.Passenger)
	if err != nil {
		return err
	}
	p, err := s.backend.BuyInsurance(passenger, flight, args.Amount.Big())
	if err != nil {
		return err
	}
	*reply = newPolicyReply(p)
	return nil
}

// BalanceReply is the reply for the GetBalance and Withdraw APIs.
type BalanceReply struct {
	Address  string        `json:"address"`
	Balance  json.Wei      `json:"balance"`
	Policies []PolicyReply `json:"policies,omitempty"`
}

// GetBalance returns a passenger's withdrawable balance and policies.
func (s *Service) GetBalance(_ *http.Request, args *AddressArgs, reply *BalanceReply) error {
	passenger, err := parseAddress("passenger", args.Address)
	if err != nil {
		return err
	}
	reply.Address = passenger.String()
	reply.Balance = json.NewWei(s.backend.Balance(passenger))
	for _, p := range s.backend.PoliciesFor(passenger) {
		reply.Policies = append(reply.Policies, newPolicyReply(p))
	}
	return nil
}

// Withdraw pays out a passenger's balance. The reply carries the amount paid.
func (s *Service) Withdraw(_ *http.Request, args *AddressArgs, reply *BalanceReply) error {
	passenger, err := parseAddress("passenger", args.Address)
	if err != nil {
		return err
	}
	amount, err := s.backend.Withdraw(passenger)
	if err != nil {
		return err
	}
	reply.Address = passenger.String()
	reply.Balance = json.NewWei(amount)
	return nil
}
