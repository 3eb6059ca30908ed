// main wires configuration, storage, kafka, the provider and the HTTP
// surface, then runs the server and the background consumers until a
// shutdown signal arrives. Business logic lives under internal/certificate.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	"crcert/internal/certificate/adapters"
	"crcert/internal/certificate/handler"
	"crcert/internal/certificate/mapper"
	"crcert/internal/certificate/metrics"
	"crcert/internal/certificate/models"
	"crcert/internal/certificate/ports"
	"crcert/internal/certificate/resolver"
	"crcert/internal/certificate/service"
	"crcert/internal/certificate/store"
	"crcert/internal/events"
	"crcert/internal/locker"
	"crcert/internal/platform/config"
	"crcert/internal/platform/httpserver"
	"crcert/internal/platform/kafka"
	"crcert/internal/platform/logger"
	"crcert/internal/platform/middleware"
	platformpg "crcert/internal/platform/postgres"
	platformredis "crcert/internal/platform/redis"
	"crcert/internal/provider"
	"crcert/internal/tasks"
	"crcert/internal/usertoken"
	"crcert/pkg/platform/httputil"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := platformpg.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("failed to open postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := platformpg.Migrate(ctx, db); err != nil {
		log.Error("failed to migrate schema", "err", err)
		os.Exit(1)
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "err", err)
		os.Exit(1)
	}

	var locks locker.Locker = locker.NewMemory()
	if redisClient != nil {
		defer redisClient.Close()
		locks = locker.NewRedis(redisClient.Client, 30*time.Second)
	}

	producer, err := kafka.NewClient(cfg.Kafka.Brokers)
	if err != nil {
		log.Error("failed to create kafka producer", "err", err)
		os.Exit(1)
	}
	defer producer.Close()

	topics := []string{cfg.Kafka.TasksTopic, cfg.Kafka.EventsTopic, cfg.Kafka.SevdeirReplyTopic}
	for _, topic := range cfg.Kafka.SevdeirRequestTopic {
		topics = append(topics, topic)
	}
	if err := kafka.EnsureTopics(ctx, producer, topics...); err != nil {
		log.Error("failed to ensure kafka topics", "err", err)
		os.Exit(1)
	}

	taskConsumer, err := kafka.NewClient(cfg.Kafka.Brokers,
		kgo.ConsumeTopics(cfg.Kafka.TasksTopic),
		kgo.ConsumerGroup(cfg.Kafka.ConsumerGroup+".tasks"),
	)
	if err != nil {
		log.Error("failed to create task consumer", "err", err)
		os.Exit(1)
	}
	defer taskConsumer.Close()

	queue := tasks.New(taskConsumer, cfg.Kafka.TasksTopic, log)
	bus := events.NewKafkaBus(producer, cfg.Kafka.EventsTopic)

	certProvider, runExchanger, err := buildProvider(cfg, log)
	if err != nil {
		log.Error("failed to build provider", "err", err)
		os.Exit(1)
	}

	autofill := map[models.PublicServiceCode]resolver.Autofill{
		models.PublicServiceDamagedPropertyRecovery: {ReasonID: "44", CertificateType: models.TypeFull},
	}
	res := resolver.New(
		adapters.NewAddressHTTP(cfg.Collaborators.AddressURL),
		adapters.NewDocumentsHTTP(cfg.Collaborators.DocumentsURL),
		autofill,
		log,
	)

	svc := service.New(service.Config{
		ApplicationExpirationDays:   cfg.ApplicationExpirationDays,
		PublicServiceLinkWindowDays: cfg.PublicServiceLinkWindowDays,
		CheckBatchSize:              cfg.CheckBatchSize,
		CheckInterval:               cfg.CheckInterval,
	}, service.Deps{
		Store:    store.NewPostgres(db),
		Provider: certProvider,
		Resolver: res,
		Mapper:   mapper.New(cfg.DateFormat),
		Signer:   adapters.NewSignerHTTP(cfg.Collaborators.CryptoURL),
		Notifier: adapters.NewNotifierHTTP(cfg.Collaborators.NotifierURL),
		Events:   bus,
		Users:    adapters.NewUsersHTTP(cfg.Collaborators.UsersURL),
		Catalog:  adapters.NewCatalogHTTP(cfg.Collaborators.CatalogURL),
		Rating:   adapters.NewRatingHTTP(cfg.Collaborators.RatingURL),
		Tasks:    queue,
		Metrics:  metrics.New(),
		Log:      log,
	})

	queue.Register(ports.TaskCheckApplications, svc.CheckApplicationsBatch)

	tokens := usertoken.NewService(cfg.JWTSigningKey)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID, chimiddleware.Recoverer)
	router.Use(middleware.Device())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser(tokens, log))
		handler.New(svc, locks, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, router)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("starting crcert server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return ignoreCancel(queue.Run(ctx))
	})
	if runExchanger != nil {
		group.Go(func() error {
			return ignoreCancel(runExchanger(ctx))
		})
	}
	group.Go(func() error {
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := svc.PrepareStatusChecks(ctx); err != nil {
					log.Error("failed to schedule status checks", "err", err)
				}
			}
		}
	})
	group.Go(func() error {
		return httpserver.Shutdown(ctx, srv, 10*time.Second)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// buildProvider selects the registry implementation. The sevdeir bridge
// needs its own reply-topic consumer, returned as a run function.
func buildProvider(cfg config.Config, log *slog.Logger) (provider.Provider, func(context.Context) error, error) {
	if !cfg.SevdeirEnabled {
		return provider.NewMock(), nil, nil
	}

	replyConsumer, err := kafka.NewClient(cfg.Kafka.Brokers,
		kgo.ConsumeTopics(cfg.Kafka.SevdeirReplyTopic),
	)
	if err != nil {
		return nil, nil, err
	}

	exchanger := provider.NewKafkaExchanger(replyConsumer, cfg.Kafka.SevdeirRequestTopic, cfg.Kafka.SevdeirReplyTopic, log)
	return provider.NewSevdeir(exchanger, log, cfg.SendTimeout), exchanger.Run, nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
