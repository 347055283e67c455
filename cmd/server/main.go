package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"bankcri/internal/auth"
	"bankcri/internal/credential"
	"bankcri/internal/events"
	"bankcri/internal/jose"
	"bankcri/internal/kms"
	"bankcri/internal/platform/config"
	"bankcri/internal/platform/httpserver"
	"bankcri/internal/platform/logger"
	"bankcri/internal/platform/postgres"
	platformredis "bankcri/internal/platform/redis"
	"bankcri/internal/session"
	httptransport "bankcri/internal/transport/http"
	"bankcri/internal/verification"
	"bankcri/internal/verification/experian"
	"bankcri/internal/verification/hmrc"
	vmetrics "bankcri/internal/verification/metrics"
)

func main() {
	log := logger.New(os.Stdout)
	if err := run(log); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	verifMetrics := vmetrics.New(registry)

	kmsSvc, err := buildKMS(cfg.KMS)
	if err != nil {
		return err
	}
	crypto := jose.NewAdapter(kmsSvc, cfg.KMS.SigningKeyID, cfg.KMS.SigningKeyAlias, cfg.KMS.DecryptionKeyID)

	health := map[string]httptransport.HealthChecker{}

	var store session.Store
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	if pool != nil {
		defer pool.Close()
		pg := session.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("applying session schema: %w", err)
		}
		store = pg
		health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	} else {
		log.Warn("postgres not configured, using in-memory session store")
		store = session.NewInMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	var publisher events.Publisher
	var kafkaPublisher *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher, err = events.NewKafkaPublisher(ctx, cfg.Kafka.Brokers, cfg.Kafka.PartialMatchTopic, cfg.Kafka.AuditTopic, log)
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		publisher = kafkaPublisher
	} else {
		log.Warn("kafka not configured, events will not leave the process")
		publisher = events.NewInMemoryPublisher()
	}

	verifier, err := buildVerifier(cfg, redisClient, verifMetrics, log)
	if err != nil {
		return err
	}

	sessionSvc := session.NewService(store, crypto, publisher, cfg.Clients, cfg.Sessions.TTL, log)
	verifySvc := verification.NewService(store, verifier, publisher, verifMetrics, log, cfg.Sessions.MaxAttempts)
	jwtSvc := auth.NewJWTService(cfg.JWTSigningKey, cfg.Issuer, cfg.Audience)
	authSvc := auth.NewService(store, jwtSvc, cfg.Sessions.AuthCodeTTL, cfg.Sessions.AccessTokenTTL)
	issuer := credential.NewIssuer(store, crypto, publisher, log, cfg.Vendor, cfg.Issuer)

	handler := httptransport.NewHandler(sessionSvc, verifySvc, authSvc, issuer, health, log)
	server := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler, registry))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", cfg.Server.Addr), slog.String("vendor", string(cfg.Vendor)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if kafkaPublisher != nil {
			if err := kafkaPublisher.Close(shutdownCtx); err != nil {
				log.Warn("kafka publisher close failed", slog.String("error", err.Error()))
			}
		}
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildKMS selects the key service implementation. Only the local in-process
// implementation ships here; the key ids in config name the keys it holds.
func buildKMS(cfg config.KMS) (kms.Service, error) {
	local := kms.NewLocal()
	if _, err := local.AddSigningKey(cfg.SigningKeyID); err != nil {
		return nil, fmt.Errorf("provisioning signing key: %w", err)
	}
	if _, err := local.AddDecryptionKey(cfg.DecryptionKeyID); err != nil {
		return nil, fmt.Errorf("provisioning decryption key: %w", err)
	}
	return local, nil
}

func buildVerifier(cfg config.Config, redisClient *platformredis.Client, m *vmetrics.Metrics, log *slog.Logger) (verification.Verifier, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	switch cfg.Vendor {
	case config.VendorHMRC:
		return hmrc.NewClient(cfg.HMRC, cfg.Retry, httpClient, m, log), nil
	case config.VendorExperian:
		var tokens experian.TokenStore
		if redisClient != nil {
			tokens = experian.NewRedisTokenStore(redisClient.Client)
		} else {
			log.Warn("redis not configured, experian token cache is process local")
			tokens = experian.NewInMemoryTokenStore()
		}
		return experian.NewClient(cfg.Experian, cfg.Retry, httpClient, tokens, m, log), nil
	default:
		return nil, fmt.Errorf("unknown vendor %q", cfg.Vendor)
	}
}
