package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/darkevergard3n/grafana-lab-webapp/internal/broker"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/config"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/delivery"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/dispatcher"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/fanout"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/logger"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/metrics"
	mw "github.com/darkevergard3n/grafana-lab-webapp/internal/middleware"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/notification"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/producer"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/recipient"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/server"
	"github.com/darkevergard3n/grafana-lab-webapp/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the notification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Config{Level: cfg.LogLevel, Service: server.ServiceName, Console: console})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	client, err := broker.NewClient(cfg, logger.Component(log, "broker"))
	if err != nil {
		return err
	}

	storeOpts := []notification.Option{
		notification.WithMetrics(m),
		notification.WithLogger(logger.Component(log, "store")),
	}
	var mirror *notification.RedisMirror
	if cfg.RedisURL != "" {
		mirror, err = notification.NewRedisMirror(ctx, cfg.RedisURL, notification.DefaultRedisKey, cfg.StoreCapacity)
		if err != nil {
			log.Warn().Err(err).Msg("redis mirror unavailable, keeping history in memory only")
		} else {
			defer mirror.Close()
			storeOpts = append(storeOpts, notification.WithMirror(mirror))
		}
	}
	store := notification.NewStore(cfg.StoreCapacity, storeOpts...)
	if mirror != nil {
		recent, err := mirror.Recent(ctx, cfg.StoreCapacity)
		if err != nil {
			log.Warn().Err(err).Msg("failed to restore notification history")
		} else {
			store.Seed(recent)
			log.Info().Int("notifications", len(recent)).Msg("notification history restored")
		}
	}

	registry := fanout.NewRegistry(logger.Component(log, "fanout"), m)

	sender := dispatcher.NewSender(store, registry, cfg.SendTimeout, logger.Component(log, "sender"), m)
	sender.Register(notification.TypeEmail, emailTransport(cfg, log))
	sender.Register(notification.TypeSMS, delivery.NewLog(logger.Component(log, "sms")))

	resolver, closeResolver := newResolver(ctx, cfg, log)
	defer closeResolver()

	disp := dispatcher.New(sender, resolver, registry, logger.Component(log, "dispatcher"), m)
	sup := supervisor.New(client, supervisor.Config{
		Queue:   cfg.Queue,
		Backoff: cfg.ReconnectBackoff,
	}, disp.Run, logger.Component(log, "supervisor"), m)

	prod := producer.New(sup, producer.Config{
		QueueSize:      cfg.ProducerQueueSize,
		PublishTimeout: cfg.PublishTimeout,
	}, logger.Component(log, "producer"), m)

	// 100 req/s per IP with burst of 200
	limiter := mw.NewRateLimiter(100, 200)
	defer limiter.Close()

	router := server.NewRouter(server.Deps{
		Store:        store,
		Ready:        sup.Connected,
		WS:           fanout.NewWSHandler(registry, cfg.Origins(), logger.Component(log, "ws")),
		Producer:     prod,
		Gatherer:     reg,
		Limiter:      limiter,
		DefaultLimit: cfg.ListDefaultLimit,
		Log:          logger.Component(log, "http"),
	})
	srv := server.New(":"+cfg.Port, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sup.Run(gctx)
	})

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		prod.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info().Msg("server stopped")
	return err
}

func emailTransport(cfg *config.Config, log zerolog.Logger) delivery.Transport {
	if cfg.SMTPHost == "" {
		return delivery.NewSimulated(cfg.SimulatedMaxLatency, cfg.SimulatedFailureRate)
	}
	t, err := delivery.NewSMTP(delivery.SMTPConfig{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.SMTPFrom,
	})
	if err != nil {
		log.Warn().Err(err).Msg("smtp transport unavailable, simulating email delivery")
		return delivery.NewSimulated(cfg.SimulatedMaxLatency, cfg.SimulatedFailureRate)
	}
	return t
}

func newResolver(ctx context.Context, cfg *config.Config, log zerolog.Logger) (recipient.Resolver, func()) {
	fallbackLog := logger.Component(log, "recipient")
	if cfg.DatabaseURL == "" {
		return recipient.Static(cfg.DefaultRecipient), func() {}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := recipient.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("database connection failed, using default recipient")
		return recipient.Static(cfg.DefaultRecipient), func() {}
	}

	cached := recipient.NewCached(recipient.NewPostgresResolver(pool), cfg.RecipientCacheTTL)
	return recipient.WithFallback(cached, cfg.DefaultRecipient, fallbackLog), pool.Close
}
