// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package utilmetric

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAPIInterceptor(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	interceptor, err := NewAPIInterceptor("test", reg)
	require.NoError(err)

	req := interceptor.InterceptRequest(&rpc.RequestInfo{
		Method:  "surety.Ping",
		Request: httptest.NewRequest("POST", "/", nil),
	})
	interceptor.AfterRequest(&rpc.RequestInfo{
		Method:  "surety.Ping",
		Request: req,
	})
	interceptor.AfterRequest(&rpc.RequestInfo{
		Method:  "surety.Fund",
		Request: req,
		Error:   errors.New("failed"),
	})

	// Requests that never passed the interceptor are not observed.
	interceptor.AfterRequest(&rpc.RequestInfo{
		Method:  "surety.Withdraw",
		Request: httptest.NewRequest("POST", "/", nil),
		Error:   errors.New("failed"),
	})

	count, err := testutil.GatherAndCount(reg, "test_request_duration_seconds")
	require.NoError(err)
	require.Equal(2, count)

	apr := interceptor.(*apiInterceptor)
	require.InDelta(1, testutil.ToFloat64(apr.requestErrors.WithLabelValues("surety.Fund")), 0)
	require.InDelta(0, testutil.ToFloat64(apr.requestErrors.WithLabelValues("surety.Ping")), 0)

	_, err = NewAPIInterceptor("test", reg)
	require.Error(err)
}
