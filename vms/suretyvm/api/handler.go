// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"

	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/surety/utils/json"
	"github.com/luxfi/surety/utils/metric"
)

// ServiceName prefixes every method, as in "surety.buyInsurance".
const ServiceName = "surety"

// NewHandler serves svc over JSON-RPC 2.0 and records per-method request
// metrics with registerer.
func NewHandler(svc *Service, registerer prometheus.Registerer) (http.Handler, error) {
	interceptor, err := utilmetric.NewAPIInterceptor("api", registerer)
	if err != nil {
		return nil, err
	}

	codec := json.NewCodec()

	server := rpc.NewServer()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	server.RegisterInterceptFunc(interceptor.InterceptRequest)
	server.RegisterAfterFunc(interceptor.AfterRequest)
	if err := server.RegisterService(svc, ServiceName); err != nil {
		return nil, err
	}
	return server, nil
}
