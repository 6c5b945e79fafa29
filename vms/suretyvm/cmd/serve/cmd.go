// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serve

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/log"

	"github.com/luxfi/surety/api/metrics"
	"github.com/luxfi/surety/api/server"
	"github.com/luxfi/surety/vms/suretyvm"
	"github.com/luxfi/surety/vms/suretyvm/api"
	"github.com/luxfi/surety/vms/suretyvm/relay"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serves the Surety API with a relay of simulated oracles",
		RunE:  serveFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func serveFunc(c *cobra.Command, args []string) error {
	flags := c.Flags()
	config, err := ParseFlags(flags, args)
	if err != nil {
		return err
	}

	logger := log.NewLogger("surety")

	db, err := openDB(config.DBDir)
	if err != nil {
		return err
	}
	defer db.Close()

	gatherer, regs, err := newGatherer()
	if err != nil {
		return err
	}

	s, err := suretyvm.New(suretyvm.Params{
		Config:     config.Surety,
		DB:         db,
		Registerer: regs.surety,
		Log:        logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	oracles := relay.New(s, config.Relay, logger)
	if err := oracles.Register(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(config.HTTPHost, strconv.Itoa(int(config.HTTPPort))))
	if err != nil {
		return err
	}
	srv, err := server.New(logger, listener, config.Server, regs.http)
	if err != nil {
		_ = listener.Close()
		return err
	}

	handler, err := api.NewHandler(api.NewService(s, logger), regs.surety)
	if err != nil {
		_ = listener.Close()
		return err
	}
	if err := errors.Join(
		srv.AddRoute(handler, api.ServiceName, ""),
		srv.AddPath(server.InfoHandler("surety api"), "/api"),
		srv.AddPath(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}), "/metrics"),
	); err != nil {
		_ = listener.Close()
		return err
	}

	events, cancel := s.Subscribe()
	defer cancel()

	g, ctx := errgroup.WithContext(c.Context())
	g.Go(func() error {
		if len(oracles.Oracles()) == 0 {
			return nil
		}
		return oracles.Run(ctx, events)
	})
	g.Go(func() error {
		logger.Info("serving surety api",
			log.Stringer("address", listener.Addr()),
		)
		err := srv.Dispatch()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		return srv.Shutdown()
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

type registerers struct {
	surety prometheus.Registerer
	http   prometheus.Registerer
}

// newGatherer exposes the VM metrics under surety_, the server metrics under
// http_ and the Go runtime and process collectors unprefixed.
func newGatherer() (prometheus.Gatherer, *registerers, error) {
	prefixed := metrics.NewPrefixGatherer()
	suretyRegistry, err := metrics.MakeAndRegister(prefixed, "surety")
	if err != nil {
		return nil, nil, err
	}
	httpRegistry, err := metrics.MakeAndRegister(prefixed, "http")
	if err != nil {
		return nil, nil, err
	}

	all := metrics.NewMultiGatherer()
	if err := all.Register("prefixed", prefixed); err != nil {
		return nil, nil, err
	}
	processRegistry, err := metrics.MakeAndRegister(all, "process")
	if err != nil {
		return nil, nil, err
	}
	if err := errors.Join(
		processRegistry.Register(collectors.NewGoCollector()),
		processRegistry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})),
	); err != nil {
		return nil, nil, err
	}
	return all, &registerers{
		surety: suretyRegistry,
		http:   httpRegistry,
	}, nil
}

func openDB(dir string) (database.Database, error) {
	if dir == "" {
		return memdb.New(), nil
	}
	return badgerdb.New(
		dir,
		nil, // configBytes - use default
		"surety",
		nil, // metrics
	)
}
