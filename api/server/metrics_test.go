// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()
	m, err := newMetrics(reg)
	require.NoError(err)
	require.NotNil(m)

	handler := m.wrapHandler("/ext/surety", teapot(http.StatusTeapot))
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ext/surety", nil))
		require.Equal(http.StatusTeapot, w.Code)
	}

	require.InDelta(3, testutil.ToFloat64(m.requests.WithLabelValues("418", "post", "/ext/surety")), 0)
	require.InDelta(0, testutil.ToFloat64(m.inflight), 0)

	count, err := testutil.GatherAndCount(reg, "request_duration_seconds")
	require.NoError(err)
	require.Equal(1, count)
}

func TestMetricsRegistrationFailure(t *testing.T) {
	require := require.New(t)

	reg := prometheus.NewRegistry()

	metrics1, err := newMetrics(reg)
	require.NoError(err)
	require.NotNil(metrics1)

	// Second registration should fail due to duplicate metrics
	metrics2, err := newMetrics(reg)
	require.Error(err)
	require.Nil(metrics2)
}
