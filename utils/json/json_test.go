// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package json

import (
	stdjson "encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWeiRoundTrip(t *testing.T) {
	require := require.New(t)

	type reply struct {
		Amount Wei    `json:"amount"`
		At     Uint64 `json:"at"`
	}
	amount, ok := new(big.Int).SetString("15000000000000000000", 10)
	require.True(ok)

	b, err := stdjson.Marshal(reply{Amount: NewWei(amount), At: 42})
	require.NoError(err)
	require.JSONEq(`{"amount":"15000000000000000000","at":"42"}`, string(b))

	var got reply
	require.NoError(stdjson.Unmarshal(b, &got))
	require.Zero(amount.Cmp(got.Amount.Big()))
	require.Equal(Uint64(42), got.At)
}

func TestWeiRejectsNegative(t *testing.T) {
	var w Wei
	require.ErrorIs(t, w.UnmarshalJSON([]byte(`"-5"`)), errInvalidWei)
}
