// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClock(t *testing.T) {
	require := require.New(t)

	var c Clock
	require.WithinDuration(time.Now(), c.Time(), time.Second)

	start := time.Unix(1_700_000_000, 0)
	c.Set(start)
	require.Equal(start, c.Time())

	later := start.Add(time.Minute)
	c.Set(later)
	require.Equal(later, c.Time())
}
