// Command server runs one backend RPC instance: it registers with etcd under
// server.service, serves until SIGINT or SIGTERM, then revokes its
// registration and drains in-flight calls.
//
// Chat services embed the same startup through server.Run with their own
// receivers; this binary hosts the Health service only.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chat-fabric/config"
	"chat-fabric/logger"
	"chat-fabric/registry"
	"chat-fabric/server"

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

	if cfg.Server.Instance == "" {
		cfg.Server.Instance = registry.NewInstanceName()
	}
	log = log.With(zap.String("service", cfg.Server.Service), zap.String("instance", cfg.Server.Instance))

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := registry.NewEtcdBackend(cfg.Etcd.Endpoints, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	return server.Run(ctx, backend, cfg, log, nil, NewHealth(cfg.Server.Instance))
}
