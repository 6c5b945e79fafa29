// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func teapot(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	})
}

func TestAliasing(t *testing.T) {
	require := require.New(t)

	r := newRouter()

	require.NoError(r.AddAlias("1", "2", "3"))
	require.NoError(r.AddAlias("1", "4"))
	require.NoError(r.AddAlias("5", "1"))
	require.NoError(r.AddAlias("3", "6"))
	err := r.AddAlias("7", "4")
	require.ErrorIs(err, errAlreadyReserved)

	handler1 := &testHandler{}
	err = r.AddRouter("2", "", handler1)
	require.ErrorIs(err, errAlreadyReserved)
	require.NoError(r.AddRouter("5", "", handler1))

	handler, exists := r.routes["5"][""]
	require.True(exists)
	require.Equal(handler1, handler)

	require.NoError(r.AddAlias("5", "7"))

	handler, exists = r.routes["7"][""]
	require.True(exists)
	require.Equal(handler1, handler)

	handler, err = r.GetHandler("7", "")
	require.NoError(err)
	require.Equal(handler1, handler)
}

func TestBlock(t *testing.T) {
	require := require.New(t)

	r := newRouter()

	require.NoError(r.AddAlias("1", "1"))

	handler1 := &testHandler{}
	err := r.AddRouter("1", "", handler1)
	require.ErrorIs(err, errAlreadyReserved)
}

func TestGetHandler(t *testing.T) {
	require := require.New(t)

	r := newRouter()
	require.NoError(r.AddRouter("/ext/surety", "", teapot(http.StatusTeapot)))

	_, err := r.GetHandler("/ext/other", "")
	require.ErrorIs(err, errUnknownBaseURL)
	_, err = r.GetHandler("/ext/surety", "/events")
	require.ErrorIs(err, errUnknownEndpoint)

	err = r.AddRouter("/ext/surety", "", teapot(http.StatusOK))
	require.ErrorContains(err, "already exists")
}

func TestServeHTTP(t *testing.T) {
	require := require.New(t)

	r := newRouter()
	require.NoError(r.AddRouter("/ext/surety", "", teapot(http.StatusTeapot)))
	require.NoError(r.AddAlias("/ext/surety", "/ext/flights"))

	for _, path := range []string{"/ext/surety", "/ext/flights"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(http.StatusTeapot, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ext/unknown", nil))
	require.Equal(http.StatusNotFound, w.Code)
}

type testHandler struct{}

func (*testHandler) ServeHTTP(http.ResponseWriter, *http.Request) {}
