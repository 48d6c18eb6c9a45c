package server

import (
	"context"
	"fmt"

	"chat-fabric/config"
	"chat-fabric/middleware"
	"chat-fabric/registry"

	"github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// Run hosts rcvrs as one instance of cfg.Server.Service until ctx is done.
//
// It listens, installs the standard middleware, registers the instance under
// <base>/<service>/<instance> and serves. A failure to listen or register is
// returned before the instance is ever announced, so the caller can exit.
// Cancelling ctx revokes the registration and drains in-flight requests.
func Run(ctx context.Context, backend registry.Backend, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics, rcvrs ...any) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := cfg.Server
	svr := NewServer(WithWorkers(sc.Workers), WithLogger(logger.Named("server")))
	for _, mw := range middleware.Standard(logger.Named("rpc"), middleware.Options{
		Timeout: sc.Timeout,
		Rate:    sc.RateLimit,
		Burst:   sc.Burst,
	}) {
		svr.Use(mw)
	}
	for _, rcvr := range rcvrs {
		if err := svr.Register(rcvr); err != nil {
			return err
		}
	}

	l, err := svr.Listen("tcp", sc.Listen)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", sc.Listen, err)
	}
	advertise := sc.Advertise
	if advertise == "" {
		advertise = l.Addr().String()
	}
	instance := sc.Instance
	if instance == "" {
		instance = registry.NewInstanceName()
	}

	served := make(chan error, 1)
	go func() { served <- svr.Serve() }()

	reg, err := registry.NewRegistrar(ctx, backend, cfg.Etcd.LeaseTTL, logger, m)
	if err != nil {
		svr.Shutdown(sc.ShutdownTimeout)
		return err
	}
	key := registry.InstanceKey(cfg.Etcd.BasePath, sc.Service, instance)
	if err := svr.Announce(ctx, reg, key, advertise); err != nil {
		reg.Close()
		svr.Shutdown(sc.ShutdownTimeout)
		return err
	}

	select {
	case err := <-served:
		svr.Shutdown(sc.ShutdownTimeout)
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down", zap.String("key", key))
	err = svr.Shutdown(sc.ShutdownTimeout)
	if serveErr := <-served; err == nil {
		err = serveErr
	}
	return err
}
