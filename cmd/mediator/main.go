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

	"mpi-mediator/internal/auth"
	"mpi-mediator/internal/datastore"
	"mpi-mediator/internal/linkcache"
	"mpi-mediator/internal/mdm"
	"mpi-mediator/internal/mpi"
	"mpi-mediator/internal/pipeline"
	"mpi-mediator/internal/platform/config"
	"mpi-mediator/internal/platform/httpserver"
	"mpi-mediator/internal/platform/kafka"
	"mpi-mediator/internal/platform/logger"
	"mpi-mediator/internal/platform/metrics"
	platformredis "mpi-mediator/internal/platform/redis"
	httptransport "mpi-mediator/internal/transport/http"
	"mpi-mediator/internal/upstream"
)

// main wires dependencies and runs the HTTP server and the queue consumer
// until shutdown. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	tokens := auth.NewTokenCache(&http.Client{Timeout: 30 * time.Second},
		auth.WithLogger(log),
		auth.WithMetrics(m),
	)
	tokens.Register("mpi", cfg.MPI)
	tokens.Register("datastore", cfg.Datastore)
	if cfg.SecondaryMPI.BaseURL != "" {
		tokens.Register("secondary-mpi", cfg.SecondaryMPI)
	}

	mpiUpstream := upstreamClient("mpi", cfg.MPI, tokens, log, m)
	datastoreUpstream := upstreamClient("datastore", cfg.Datastore, tokens, log, m)
	mpiClient := mpi.NewClient(mpiUpstream)
	datastoreClient := datastore.NewClient(datastoreUpstream)

	// Link expansion falls back to the secondary registry for references the
	// primary does not hold.
	var fetcher mpi.PatientFetcher = mpiClient
	if cfg.SecondaryMPI.BaseURL != "" {
		secondaryClient := mpi.NewClient(upstreamClient("secondary-mpi", cfg.SecondaryMPI, tokens, log, m))
		fetcher = mpi.NewFallbackFetcher(mpiClient, secondaryClient)
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Error("kafka producer setup failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	resolverOpts := []mpi.ResolverOption{mpi.WithResolverLogger(log)}
	var links *linkcache.Cache
	redisClient, err := platformredis.New(cfg.Redis)
	switch {
	case err != nil:
		// The link cache is an optimization; live expansion still works.
		log.Warn("redis unavailable, running without link cache", "error", err)
	case redisClient != nil:
		defer redisClient.Close()
		links = linkcache.New(redisClient.Client, cfg.Redis.LinkTTL)
		resolverOpts = append(resolverOpts, mpi.WithLinkCache(links))
	}
	resolver := mpi.NewLinkResolver(fetcher, resolverOpts...)

	pipe := pipeline.New(datastoreClient, mpiClient, producer, cfg.Kafka.BundleTopic,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
	)
	mdmService := mdm.New(resolver, datastoreClient, mdm.WithLogger(log))

	checks := httptransport.HealthChecks{
		"kafka":     producer.Ping,
		"mpi":       mpiUpstream.Ping,
		"datastore": datastoreUpstream.Ping,
	}
	if redisClient != nil {
		checks["redis"] = redisClient.Health
	}

	handler := httptransport.New(pipe, datastoreClient, producer, mdmService, mpiClient,
		cfg.MediatorURN, cfg.Kafka.AsyncTopic, log)
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, checks))

	topicRouter := kafka.NewRouter(log, nil)
	topicRouter.Register(cfg.Kafka.AsyncTopic,
		pipeline.NewAsyncHandler(pipe, producer, cfg.Kafka.DeadLetterTopic, log))
	if links != nil {
		topicRouter.Register(cfg.Kafka.AuditTopic, linkcache.NewAuditHandler(links, log))
	}

	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
		topicRouter.Topics(), topicRouter, log)
	if err != nil {
		log.Error("kafka consumer setup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			// The consumer only stops on an unrecoverable handler failure;
			// shut the process down so a restart resumes from the last
			// committed offset instead of serving HTTP with a dead consumer.
			log.Error("consumer stopped", "error", err)
			stop()
		}
	}()

	go func() {
		log.Info("mpi-mediator listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	consumer.Close()
}

func upstreamClient(name string, cfg config.Upstream, tokens *auth.TokenCache, log *slog.Logger, m *metrics.Metrics) *upstream.Client {
	return upstream.New(name, cfg, tokens,
		upstream.WithLogger(log),
		upstream.WithMetrics(m),
	)
}
