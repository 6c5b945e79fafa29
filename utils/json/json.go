// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package json provides JSON types that encode numbers as strings, so that
// wei amounts and unix timestamps survive JavaScript clients intact.
package json

import (
	"errors"
	"math/big"
	"strconv"
)

const Null = "null"

var errInvalidWei = errors.New("invalid wei amount")

func unquote(b []byte) string {
	str := string(b)
	if len(str) >= 2 {
		if lastIndex := len(str) - 1; str[0] == '"' && str[lastIndex] == '"' {
			str = str[1:lastIndex]
		}
	}
	return str
}

// Uint64 is a uint64 that can be JSON marshaled as a string.
type Uint64 uint64

func (u Uint64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(u), 10) + `"`), nil
}

func (u *Uint64) UnmarshalJSON(b []byte) error {
	str := unquote(b)
	if str == Null {
		return nil
	}
	val, err := strconv.ParseUint(str, 10, 64)
	*u = Uint64(val)
	return err
}

// Wei is a non-negative big integer amount marshaled as a decimal string.
// The zero value is 0 wei.
type Wei struct {
	big.Int
}

// NewWei copies v into a Wei. A nil v yields 0.
func NewWei(v *big.Int) Wei {
	var w Wei
	if v != nil {
		w.Set(v)
	}
	return w
}

// Big returns a copy of the amount.
func (w Wei) Big() *big.Int {
	return new(big.Int).Set(&w.Int)
}

func (w Wei) MarshalJSON() ([]byte, error) {
	return []byte(`"` + w.Int.String() + `"`), nil
}

func (w *Wei) UnmarshalJSON(b []byte) error {
	str := unquote(b)
	if str == Null || str == "" {
		w.SetInt64(0)
		return nil
	}
	if _, ok := w.SetString(str, 10); !ok || w.Sign() < 0 {
		return errInvalidWei
	}
	return nil
}
