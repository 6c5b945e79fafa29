// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/surety/utils/wrappers"
)

type serverMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) (*serverMetrics, error) {
	m := &serverMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of API requests",
		}, []string{"code", "method", "route"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"code", "method", "route"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "requests_inflight",
			Help: "Number of inflight API requests",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		registerer.Register(m.requests),
		registerer.Register(m.duration),
		registerer.Register(m.inflight),
	)
	if errs.Errored() {
		return nil, errs.Err
	}
	return m, nil
}

func (m *serverMetrics) wrapHandler(route string, handler http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	handler = promhttp.InstrumentHandlerDuration(m.duration.MustCurryWith(labels), handler)
	handler = promhttp.InstrumentHandlerCounter(m.requests.MustCurryWith(labels), handler)
	return promhttp.InstrumentHandlerInFlight(m.inflight, handler)
}
