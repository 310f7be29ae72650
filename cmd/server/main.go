package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"lobcore/api/grpcserver"
	"lobcore/config"
	"lobcore/domain/event"
	"lobcore/infra/feed"
	"lobcore/infra/kafka"
	"lobcore/infra/logging"
	"lobcore/infra/metrics"
	"lobcore/infra/redisbook"
	"lobcore/infra/store"
	"lobcore/infra/wal/entry"
	"lobcore/jobs/broadcaster"
	"lobcore/service"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	log := logger.Sugar()

	// ---------------- Journal ----------------

	journal, err := entry.Open(entry.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SegmentDuration: cfg.WAL.SegmentDuration,
		SyncEveryWrite:  cfg.WAL.SyncEveryWrite,
		Logger:          logger,
	})
	if err != nil {
		return errors.Wrap(err, "open journal")
	}
	defer journal.Close()

	// ---------------- Snapshot store ----------------

	snapshots, err := store.Open(cfg.Store.Dir, logger)
	if err != nil {
		return errors.Wrap(err, "open snapshot store")
	}
	defer snapshots.Close()

	// ---------------- Feeds + recovery ----------------

	var svc *service.BookService
	handle := func(ctx context.Context, symbol string, ev event.Event) error {
		return svc.Handle(ctx, symbol, ev)
	}

	opts := []service.ServiceOption{
		service.WithJournal(journal),
		service.WithServiceLogger(logger),
	}

	var ws *feed.Client
	if cfg.WebSocket.URL != "" {
		ws = feed.NewClient(feed.Config{URL: cfg.WebSocket.URL, Symbols: cfg.Symbols}, handle, logger)
	}

	switch {
	case cfg.Kafka.RecoveryTopic != "":
		pub := kafka.NewRecoveryPublisher(kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.RecoveryTopic), logger)
		defer pub.Close()
		opts = append(opts, service.WithRecoveryPublisher(pub))
	case ws != nil:
		opts = append(opts, service.WithRecoveryPublisher(ws))
	}

	// ---------------- Service ----------------

	svc = service.NewBookService(cfg.ServiceConfig(), opts...)

	rep, err := svc.ReplayFromWAL(ctx, cfg.WAL.Dir, snapshots)
	if err != nil {
		return errors.Wrap(err, "recover from journal")
	}
	log.Infow("recovered",
		"restored", rep.Restored,
		"from", rep.From,
		"replayed", rep.Replayed,
		"skipped", rep.Skipped,
		"failed", rep.Failed,
		"markers", rep.Markers,
	)
	if err := svc.Mark(fmt.Sprintf("restart after log seq %d", rep.LastSeq)); err != nil {
		return err
	}

	svc.Start(ctx)

	// ---------------- Background jobs ----------------

	job := service.NewSnapshotJob(svc, snapshots, journal, cfg.Store.Keep)
	if cfg.Store.Interval > 0 {
		job.Start(ctx, cfg.Store.Interval)
	}

	var sinks []broadcaster.Sink
	if cfg.Kafka.MarketDataTopic != "" {
		ks, err := broadcaster.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.MarketDataTopic)
		if err != nil {
			return errors.Wrap(err, "market data producer")
		}
		defer ks.Close()
		sinks = append(sinks, ks)
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		sinks = append(sinks, redisbook.New(rdb, cfg.Redis.TTL))
	}
	if len(sinks) > 0 {
		broadcaster.New(svc, cfg.Broadcast.Depth, logger, sinks...).Start(ctx, cfg.Broadcast.Interval)
	}

	errc := make(chan error, 3)

	if cfg.Kafka.FeedTopic != "" {
		reader := kafka.NewFeedReader(kafka.ReaderConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.FeedTopic,
			GroupID: cfg.Kafka.GroupID,
		}, handle, logger)
		defer reader.Close()
		go func() {
			if err := reader.Run(ctx); err != nil {
				errc <- err
			}
		}()
	}
	if ws != nil {
		ws.Start(ctx)
		defer ws.Stop()
	}

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(svc),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Wrap(err, "metrics server")
		}
	}()

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.GRPC.Addr)
	}
	api := grpcserver.NewServer(svc, cfg.Broadcast.Depth, logger)
	grpcSrv := grpc.NewServer(grpc.UnaryInterceptor(api.UnaryLogger()))
	api.Register(grpcSrv)
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- errors.Wrap(err, "grpc server")
		}
	}()

	log.Infow("lobcore running",
		"symbols", svc.Symbols(),
		"grpc", cfg.GRPC.Addr,
		"metrics", cfg.Metrics.Addr,
	)

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errc:
	}

	// ---------------- Shutdown ----------------

	log.Infow("shutting down")
	grpcSrv.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	n := job.RunOnce()
	log.Infow("final checkpoint", "symbols", n)
	return err
}
