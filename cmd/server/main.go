package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bank-auth/internal/access"
	"bank-auth/internal/apikey"
	"bank-auth/internal/config"
	apphttp "bank-auth/internal/http"
	"bank-auth/internal/keysource"
	"bank-auth/internal/ratelimit"
	"bank-auth/internal/repository"
	"bank-auth/internal/repository/memory"
	"bank-auth/internal/repository/postgres"
	"bank-auth/internal/repository/sqlite"
	"bank-auth/internal/revocation"
	"bank-auth/internal/security"
	"bank-auth/internal/service"
	"bank-auth/internal/storage"
	"bank-auth/internal/token"
)

var version = "dev"

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, using info", cfg.Log.Level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("open credential store: %v", err)
	}
	defer closeStore()
	if err := users.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	var objects storage.Service
	if keysource.NeedsObjectStorage(cfg.Auth.SigningKeySource) {
		objects, err = buildStorage(ctx, cfg, logger)
		if err != nil {
			logger.Fatalf("setup storage: %v", err)
		}
	}
	signingKey, err := keysource.Load(ctx, cfg.Auth.SigningKeySource, cfg.Auth.SigningKey, objects)
	if err != nil {
		logger.Fatalf("load signing key: %v", err)
	}

	revocations, closeRevocations, err := buildRevocations(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup revocation list: %v", err)
	}
	defer closeRevocations()

	tokens, err := token.NewService(token.Config{
		Algorithm:   cfg.Auth.Algorithm,
		Key:         signingKey,
		Issuer:      cfg.Auth.Issuer,
		AccessTTL:   cfg.Auth.AccessTokenTTL,
		RefreshTTL:  cfg.Auth.RefreshTokenTTL,
		Revocations: revocations,
		Users:       users,
	})
	if err != nil {
		logger.Fatalf("setup token service: %v", err)
	}

	userService := service.NewUserService(users, service.Options{
		Hasher:             security.NewHasher(cfg.Auth.BcryptCost),
		Tokens:             tokens,
		Logger:             logger,
		AllowRoleSelection: cfg.Auth.AllowRoleSelection,
	})

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window,
			MaxClients:  cfg.RateLimit.MaxClients,
		})
	}
	gate := apikey.NewGate(cfg.APIKeys.Keys)
	if gate.Len() == 0 {
		logger.Warn("no api keys configured, api key routes will reject every request")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Fatalf("trusted proxies: %v", err)
	}
	handler := apphttp.NewHandler(apphttp.Options{
		Users:        userService,
		Guard:        access.NewGuard(tokens, nil),
		Limiter:      limiter,
		Gate:         gate,
		APIKeyHeader: cfg.APIKeys.Header,
		Logger:       logger,
		Version:      version,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}

func openStore(ctx context.Context, cfg config.Config) (repository.UserRepository, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		return memory.NewUserRepository(), func() {}, nil
	case "postgres":
		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewUserRepository(db), closer(db), nil
	case "sqlite":
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewUserRepository(db), closer(db), nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}

func buildRevocations(ctx context.Context, cfg config.Config, logger *logrus.Logger) (revocation.List, func(), error) {
	switch cfg.Auth.Revocation {
	case "none":
		logger.Info("token revocation disabled, logout will not invalidate tokens")
		return revocation.Nop{}, func() {}, nil
	case "redis":
		rdb, err := revocation.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("using redis revocation list at %s", cfg.Redis.Addr)
		return revocation.NewRedisList(rdb, nil), func() { closeRedis(rdb, logger) }, nil
	default:
		return revocation.NewMemoryList(nil), func() {}, nil
	}
}

func closeRedis(rdb *redis.Client, logger *logrus.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warnf("close redis: %v", err)
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("loading signing key from object storage (region %s)", cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
