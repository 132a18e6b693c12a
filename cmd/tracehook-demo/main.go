// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tracehook-demo runs the monitoring agent inside a small simulated
// shop and serves the agent's own metrics over HTTP. Point it at a
// tracehook-collector to watch call trees, SQL timings, errors and
// platform samples arrive.
//
// Settings come from --config, else the file named by
// TRACEHOOK_CONFIG, else the built-in defaults.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/tracehook/lib/agent"
	"github.com/bureau-foundation/tracehook/lib/clock"
	"github.com/bureau-foundation/tracehook/lib/config"
	"github.com/bureau-foundation/tracehook/lib/process"
	"github.com/bureau-foundation/tracehook/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath    string
		metricsListen string
		logLevel      string
		workers       int
	)
	flagSet := pflag.NewFlagSet("tracehook-demo", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	flagSet.StringVar(&metricsListen, "metrics-listen", "127.0.0.1:9464", "address serving /metrics (empty disables)")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.IntVar(&workers, "workers", 2, "number of simulated shoppers")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("tracehook-demo")
		return nil
	}

	level, err := process.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := process.NewLogger(level)

	settings, err := loadSettings(configPath)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	monitor, err := agent.New(agent.Config{
		Settings:   settings,
		Clock:      clock.Real(),
		Logger:     logger,
		Registerer: registry,
	})
	if err != nil {
		return err
	}
	shop := newShop(monitor, clock.Real())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupContext := errgroup.WithContext(ctx)
	group.Go(func() error { return monitor.Run(groupContext) })
	for worker := range workers {
		group.Go(func() error {
			shop.serve(groupContext, uint64(worker))
			return nil
		})
	}
	if metricsListen != "" {
		group.Go(func() error {
			return serveMetrics(groupContext, logger, metricsListen, registry)
		})
	}
	return group.Wait()
}

func loadSettings(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv(config.EnvironmentVariable) != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

func serveMetrics(ctx context.Context, logger *slog.Logger, address string, registry *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownContext, cancel := context.WithTimeout(context.Background(), 2*time.Second) //nolint:realclock // server shutdown deadline
		defer cancel()
		server.Shutdown(shutdownContext)
	}()

	logger.Info("serving metrics", "address", address)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
