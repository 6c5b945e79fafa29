// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package units defines the wei denominations used for stakes, premiums and
// payouts.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Denominations of value, in wei.
const (
	Wei   uint64 = 1
	GWei  uint64 = 1_000_000_000 * Wei
	Ether uint64 = 1_000_000_000 * GWei
)

const etherDecimals = 18

var (
	errInvalidAmount = errors.New("invalid amount")

	weiPerEther = new(big.Int).SetUint64(Ether)
)

// Ethers returns n ether expressed in wei.
func Ethers(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), weiPerEther)
}

// MilliEthers returns n thousandths of an ether expressed in wei.
func MilliEthers(n int64) *big.Int {
	v := new(big.Int).Mul(big.NewInt(n), weiPerEther)
	return v.Div(v, big.NewInt(1000))
}

// ParseWei parses a non-negative base-10 wei amount.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	return v, nil
}

// ParseEther parses a decimal ether amount such as "1.2" into wei.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > etherDecimals {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", errInvalidAmount, s, etherDecimals)
	}
	frac += strings.Repeat("0", etherDecimals-len(frac))
	if whole == "" {
		whole = "0"
	}
	return ParseWei(whole + frac)
}

// FormatEther renders a wei amount as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	q, r := new(big.Int).QuoRem(wei, weiPerEther, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := new(big.Int).Abs(r).String()
	frac = strings.Repeat("0", etherDecimals-len(frac)) + frac
	return q.String() + "." + strings.TrimRight(frac, "0")
}

// EtherFloat returns an approximate float value of wei in ether, for gauges.
func EtherFloat(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(wei, weiPerEther).Float64()
	return f
}
