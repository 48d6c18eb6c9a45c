// Command gateway serves the chat HTTP API and websocket notifications in
// front of the backend services found through etcd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-fabric/channel"
	"chat-fabric/codec"
	"chat-fabric/config"
	"chat-fabric/gateway"
	"chat-fabric/logger"
	"chat-fabric/registry"
	"chat-fabric/session"
	"chat-fabric/telemetry"

	"go.uber.org/zap"
)

func main() {
	path := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m, metricsHandler, err := telemetry.NewPrometheus()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	ct, err := codec.ParseCodecType(cfg.Gateway.Codec)
	if err != nil {
		return err
	}

	backend, err := registry.NewEtcdBackend(cfg.Etcd.Endpoints, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	channels := channel.NewManager(channel.TCPDialer(ct, log), log, m, channel.WithBasePath(cfg.Etcd.BasePath))
	channels.Declare(cfg.ServiceNames()...)
	defer channels.Close()

	discoverer, err := registry.NewDiscoverer(ctx, backend, strings.TrimSuffix(cfg.Etcd.BasePath, "/")+"/", channels, log, m)
	if err != nil {
		return err
	}
	defer discoverer.Close()

	rdb, err := session.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	services := gateway.Services{
		Speech:  cfg.Services.Speech,
		File:    cfg.Services.File,
		User:    cfg.Services.User,
		Forward: cfg.Services.Forward,
		Message: cfg.Services.Message,
		Friend:  cfg.Services.Friend,
	}
	gw := gateway.New(gateway.Options{
		HTTPAddr:  fmt.Sprintf(":%d", cfg.Gateway.HTTPPort),
		WSAddr:    fmt.Sprintf(":%d", cfg.Gateway.WebsocketPort),
		SendQueue: cfg.Gateway.SendQueue,
	}, services, channels, session.NewRedis(rdb), log, m)
	gw.Router().Handle("GET /metrics", metricsHandler)

	errc := make(chan error, 1)
	go func() { errc <- gw.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gw.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errc
}
