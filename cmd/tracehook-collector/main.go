// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tracehook-collector is a development collector. It keeps everything
// agents send in memory and logs one line per batch.
//
// Socket mode (default) answers the agent protocol on a unix socket or
// TCP address. Redis mode (--redis-url) drains the ingest queue that
// agents using the redis transport fill, resolving platform ids to the
// descriptors stored beside it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tracehook/lib/collector/collectortest"
	"github.com/bureau-foundation/tracehook/lib/ident"
	"github.com/bureau-foundation/tracehook/lib/process"
	"github.com/bureau-foundation/tracehook/lib/transport/redisq"
	"github.com/bureau-foundation/tracehook/lib/transport/socket"
	"github.com/bureau-foundation/tracehook/lib/version"
	"github.com/bureau-foundation/tracehook/lib/wire"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		network     string
		address     string
		redisURL    string
		redisPrefix string
		logLevel    string
	)
	flagSet := pflag.NewFlagSet("tracehook-collector", pflag.ContinueOnError)
	flagSet.StringVar(&network, "network", "unix", "listener network: unix or tcp")
	flagSet.StringVar(&address, "listen", "/run/tracehook/collector.sock", "socket path or host:port to listen on")
	flagSet.StringVar(&redisURL, "redis-url", "", "drain the redis ingest queue at this URL instead of listening")
	flagSet.StringVar(&redisPrefix, "redis-prefix", redisq.DefaultPrefix, "redis key prefix")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("tracehook-collector")
		return nil
	}

	level, err := process.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger := process.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisURL != "" {
		return drainQueue(ctx, logger, redisURL, redisPrefix)
	}
	return serveSocket(ctx, logger, network, address)
}

func serveSocket(ctx context.Context, logger *slog.Logger, network, address string) error {
	listener, err := socket.Listen(network, address)
	if err != nil {
		return err
	}
	memory := collectortest.New(logger)
	server := socket.NewServer(logger)
	memory.Register(server)

	logger.Info("collector listening", "network", network, "address", address)
	err = server.Serve(ctx, listener)
	logger.Info("collector stopped",
		"platforms", len(memory.Platforms()),
		"batches", len(memory.Batches()),
		"items", len(memory.Items()),
	)
	return err
}

func drainQueue(ctx context.Context, logger *slog.Logger, url, prefix string) error {
	options, err := redis.ParseURL(url)
	if err != nil {
		return err
	}
	client := redis.NewClient(options)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return err
	}
	consumer := redisq.NewConsumer(client, prefix)
	names := make(map[ident.RemoteID]string)

	logger.Info("draining redis ingest queue", "prefix", prefix)
	for {
		request, err := consumer.Next(ctx, 5*time.Second)
		switch {
		case ctx.Err() != nil:
			logger.Info("collector stopped")
			return nil
		case errors.Is(err, redisq.ErrEmpty):
			continue
		case err != nil:
			return err
		}

		name, known := names[request.PlatformID]
		if !known {
			if descriptor, err := consumer.Platform(ctx, request.PlatformID); err == nil {
				name = descriptor.AgentName
				names[request.PlatformID] = name
			}
		}
		items, err := wire.Decode(request.Frame)
		if err != nil {
			logger.Warn("undecodable batch", "platform_id", request.PlatformID, "error", err)
			continue
		}
		logger.Info("batch ingested",
			"platform_id", request.PlatformID,
			"agent_name", name,
			"sequence", request.Sequence,
			"items", len(items),
			"compression", request.Frame.Compression,
		)
	}
}
