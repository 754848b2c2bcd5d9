package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	aiadapter "github.com/awolfe89/sds-shopify/internal/adapter/ai"
	cacheadapter "github.com/awolfe89/sds-shopify/internal/adapter/cache"
	platformadapter "github.com/awolfe89/sds-shopify/internal/adapter/platform"
	"github.com/awolfe89/sds-shopify/internal/config"
	httptransport "github.com/awolfe89/sds-shopify/internal/http"
	"github.com/awolfe89/sds-shopify/internal/http/handler"
	"github.com/awolfe89/sds-shopify/internal/jwt"
	"github.com/awolfe89/sds-shopify/internal/middleware"
	"github.com/awolfe89/sds-shopify/internal/repository"
	"github.com/awolfe89/sds-shopify/internal/server"
	"github.com/awolfe89/sds-shopify/internal/service"
	"github.com/awolfe89/sds-shopify/internal/telemetry"
	"github.com/awolfe89/sds-shopify/internal/vault"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newTenantRepository,
			newUserRepository,
			newSessionRepository,
			newHandshakeStore,
			newVault,
			newIssuer,
			newPlatformClient,
			newEnhancer,
			newRateLimiter,
			newSessionGuard,
			service.NewOAuthService,
			newFormatService,
			newDocumentService,
			newJanitor,
			handler.NewAuthHandler,
			handler.NewContentHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startJanitor, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	for _, name := range cfg.DevFallbacks {
		logger.Warn("using development placeholder secret", zap.String("name", name))
	}
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newTenantRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.TenantRepository {
	return repository.NewPostgresTenantRepo(pool, node)
}

func newUserRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool, node)
}

func newSessionRepository(pool *pgxpool.Pool, node *snowflake.Node) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool, node)
}

// newHandshakeStore selects the backing store. Redis gets handshake expiry
// for free via key TTLs; Postgres relies on the janitor sweep.
func newHandshakeStore(lc fx.Lifecycle, cfg config.Config, pool *pgxpool.Pool) (repository.HandshakeStore, error) {
	if cfg.HandshakeStore != "redis" {
		return repository.NewPostgresHandshakeStore(pool), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisHandshakeStore(client, cfg.HandshakeTTL), nil
}

func newVault(cfg config.Config) (*vault.Vault, error) {
	return vault.New(cfg.EncryptionKey)
}

func newIssuer(cfg config.Config) (*jwt.Issuer, error) {
	return jwt.NewIssuer(cfg.SessionSigningSecret, cfg.SessionTTL)
}

func newPlatformClient(cfg config.Config) platformadapter.Client {
	return platformadapter.NewHTTPClient(nil, cfg)
}

func newEnhancer(cfg config.Config) aiadapter.Enhancer {
	return aiadapter.NewHTTPEnhancer(nil, cfg.OpenAIAPIKey)
}

func newRateLimiter(cfg config.Config) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst)
}

func newSessionGuard(issuer *jwt.Issuer, tenants repository.TenantRepository, users repository.UserRepository, logger *zap.Logger) *middleware.SessionGuard {
	return middleware.NewSessionGuard(issuer, tenants, users, logger)
}

func newFormatService(enhancer aiadapter.Enhancer, logger *zap.Logger) *service.FormatService {
	return service.NewFormatService(enhancer, logger)
}

func newDocumentService(cfg config.Config, logger *zap.Logger) *service.DocumentService {
	return service.NewDocumentService([]service.TextExtractor{service.PlainTextExtractor{}}, cfg.MaxUploadSize, logger)
}

func newJanitor(handshakes repository.HandshakeStore, sessions repository.SessionRepository, cfg config.Config, logger *zap.Logger) *service.Janitor {
	return service.NewJanitor(handshakes, sessions, cfg.JanitorInterval, cfg.JanitorRetention, logger)
}

func startJanitor(lc fx.Lifecycle, janitor *service.Janitor) {
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			go janitor.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
