package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jellynash/bingo/internal/gateway"
)

const shutdownTimeout = 10 * time.Second

// ServeCmd runs the gateway, broker subscription and auto-draw scheduler.
type ServeCmd struct {
	Addr string `help:"Listen address, overrides server.address and server.port"`
}

func (c *ServeCmd) Run(g *Globals) error {
	rt, err := newRuntime(context.Background(), g)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()
	logger := rt.logger

	addr := c.Addr
	if addr == "" {
		addr = rt.cfg.Address()
	}

	gw := gateway.New(rt.service, rt.tokens, rt.broker, logger,
		gateway.WithHandshakeTimeout(rt.cfg.HandshakeTimeout()),
		gateway.WithTrustProxy(rt.cfg.Server.TrustProxy),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, cancel := signalContext(logger)
	defer cancel()
	eg, ctx := errgroup.WithContext(sigCtx)

	eg.Go(func() error {
		logger.Info("Starting bingo server", "addr", addr, "broker", rt.cfg.Broker.Kind, "db", rt.cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		return gw.Run(ctx)
	})
	eg.Go(func() error {
		return rt.service.AutoDraw().Run(ctx)
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		gw.Shutdown()
		return err
	})

	return eg.Wait()
}
