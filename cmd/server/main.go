package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tremho/inverse-y/internal/platform/config"
	"github.com/tremho/inverse-y/internal/platform/httpserver"
	"github.com/tremho/inverse-y/internal/platform/logger"
	"github.com/tremho/inverse-y/internal/platform/metrics"
	platformredis "github.com/tremho/inverse-y/internal/platform/redis"
	"github.com/tremho/inverse-y/internal/rotation"
	"github.com/tremho/inverse-y/internal/session"
	"github.com/tremho/inverse-y/internal/sso"
	"github.com/tremho/inverse-y/internal/sso/provider"
	"github.com/tremho/inverse-y/internal/sso/slot"
	"github.com/tremho/inverse-y/internal/sso/ticket"
	"github.com/tremho/inverse-y/internal/storage"
	httptransport "github.com/tremho/inverse-y/internal/transport/http"
	"github.com/tremho/inverse-y/internal/user"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx := context.Background()
	objects, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("store init failed", "backend", cfg.StoreBackend, "error", err.Error())
		os.Exit(1)
	}
	defer cleanup()

	m := metrics.New(prometheus.DefaultRegisterer)
	tickets := ticket.NewAuthority("sso-manager-" + cfg.Version)
	slots := slot.NewStore(objects)
	sessions := session.NewStore(objects, log)
	users := user.NewRegistry(objects, log)

	var pages provider.Source = provider.NewStaticSource()
	if cfg.WebHost != "" {
		pages = provider.NewWebSource(cfg.WebHost)
	}

	coordinator := sso.NewCoordinator(tickets, slots, sessions, pages, log, m)
	rotator, err := rotation.NewRotator(log, m,
		rotation.WithMaxSessions(cfg.MaxRotatorSessions))
	if err != nil {
		log.Error("rotator init failed", "error", err.Error())
		os.Exit(1)
	}

	handler := httptransport.NewHandler(coordinator, tickets, slots, sessions, users, rotator, log, m)
	router := httptransport.NewRouter(handler)
	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting inverse-y", "addr", cfg.Addr, "store", cfg.StoreBackend, "version", cfg.Version)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
}

// buildStore selects the durable object store backend. The returned cleanup
// releases any connections the backend holds.
func buildStore(ctx context.Context, cfg config.Config) (storage.Store, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case "memory":
		return storage.NewMemory(), noop, nil
	case "redis":
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		if client == nil {
			return nil, noop, errors.New("redis backend selected but REDIS_URL is empty")
		}
		store := storage.NewRedis(client.Client, storage.WithTTL(cfg.Redis.ObjectTTL))
		return store, func() { _ = client.Close() }, nil
	case "s3":
		store, err := storage.NewS3(ctx, storage.S3Config{
			Region:       cfg.S3.Region,
			BucketPrefix: cfg.S3.BucketPrefix,
			Endpoint:     cfg.S3.Endpoint,
			AccessKey:    cfg.S3.AccessKey,
			SecretKey:    cfg.S3.SecretKey,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, noop, err
		}
		if err := ensureCoreBuckets(ctx, store); err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case "postgres":
		store, err := storage.OpenPostgres(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, noop, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, noop, errors.New("unknown store backend " + cfg.StoreBackend)
	}
}

// bucketEnsurer is implemented by stores whose backing buckets must exist
// before first use.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context, bucket string) error
}

// ensureCoreBuckets pre-creates the fixed buckets. Per-app user buckets are
// created lazily as apps onboard their first user.
func ensureCoreBuckets(ctx context.Context, store bucketEnsurer) error {
	for _, bucket := range []string{slot.Bucket, session.Bucket} {
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}
	return nil
}
