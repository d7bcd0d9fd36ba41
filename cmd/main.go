package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	"farmgate/internal/action"
	"farmgate/internal/clock"
	"farmgate/internal/config"
	"farmgate/internal/configsync"
	"farmgate/internal/handler"
	"farmgate/internal/lock"
	"farmgate/internal/metrics"
	"farmgate/internal/model"
	"farmgate/internal/ratelimit"
	"farmgate/internal/repository"
	"farmgate/internal/service"
	"farmgate/internal/session"
	"farmgate/internal/txn"
	"farmgate/internal/wire"
	jwtpkg "farmgate/pkg/jwt"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:          "farmgate",
		Short:        "Realtime game backend",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config.yaml")
	cmd.AddCommand(newServeCommand(&configPath), newConfigCommand(&configPath))
	return cmd
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and realtime server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format != "json" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// backends is the storage wiring for one state backend.
type backends struct {
	entities   repository.EntityStore
	state      repository.StateStore
	locks      lock.Manager
	users      repository.UserRepository
	configs    repository.ConfigRepository
	feed       repository.ChangeFeed
	rateStore  func(prefix string) (limiter.Store, error)
	closeStore func() error
}

func serve(configPath string) error {
	// 1. Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize logger
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// 3. Metrics registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	suite, err := wire.ParseSuite(cfg.Transport.CipherSuite)
	if err != nil {
		return err
	}

	// 4. Storage backends (Postgres + Redis, or in-memory)
	b, err := openBackends(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.closeStore(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}()

	// 5. Coordinator and user cache
	coord := txn.NewCoordinator(b.locks, b.entities, txn.Options{
		TTL:          cfg.Lock.TTL,
		PollInterval: cfg.Lock.PollInterval,
	}, logger, m)
	userCache := repository.NewUserCache(b.entities)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Config sync: subscribe, bulk load, then follow the change feed
	var feed repository.ChangeFeed
	if cfg.Sync.Enabled {
		feed = b.feed
	}
	syncer := configsync.New(b.configs, feed, b.entities, coord, logger, m)
	if err := syncer.Start(ctx); err != nil {
		return fmt.Errorf("failed to load config into cache: %w", err)
	}
	configReader := configsync.NewReader(b.locks, b.entities, cfg.Lock.PollInterval)

	// 7. Initialize JWT manager and services
	jwtManager := jwtpkg.NewManager(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.AccessTokenTTL)
	authService := service.NewAuthService(
		b.users, userCache, b.state, coord, jwtManager,
		service.AuthOptions{
			BotToken:   cfg.Telegram.BotToken,
			RootSecret: cfg.Telegram.RootSecret,
			MaxAge:     cfg.Telegram.RequestMaxAge,
		},
		clock.Real{}, logger,
	)
	sessionService := service.NewSessionService(b.users, userCache, b.state, coord, clock.Real{}, logger, m)

	// 8. Action registry
	registry := action.NewRegistry(logger, m)
	action.NewGame(coord, userCache, configReader, clock.Real{}).Register(registry)

	// 9. Rate limiters
	httpStore, err := b.rateStore("ratelimit:http")
	if err != nil {
		return fmt.Errorf("failed to open http rate limit store: %w", err)
	}
	socketStore, err := b.rateStore("ratelimit:socket")
	if err != nil {
		return fmt.Errorf("failed to open socket rate limit store: %w", err)
	}
	httpLimiter := ratelimit.New(httpStore, cfg.RateLimit.HTTP.Limit, cfg.RateLimit.HTTP.Window, logger)
	socketLimiter := ratelimit.New(socketStore, cfg.RateLimit.Socket.Limit, cfg.RateLimit.Socket.Window, logger)

	// 10. Initialize handlers
	authHandler := handler.NewAuthHandler(authService, logger)
	wsHandler := handler.NewWSHandler(
		session.NewAuthenticator(jwtManager, b.state),
		registry, sessionService, socketLimiter,
		handler.WSOptions{
			Suite:        suite,
			ReadLimit:    cfg.Transport.ReadLimit,
			WriteTimeout: cfg.Transport.WriteTimeout,
		},
		logger, m,
	)

	// 11. Setup router
	router := handler.SetupRouter(cfg, logger, m, httpLimiter, authHandler, wsHandler)

	// 12. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 13. Start server with graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("state_backend", cfg.State.Backend),
			zap.String("cipher_suite", string(suite)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 14. Wait for interrupt signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.Error("server failed", zap.Error(err))
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	// Hijacked realtime connections are not tracked by http.Server; close
	// them first so their sessions flush before the stores go away.
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realtime sessions did not drain", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	stop()
	<-syncer.Done()
	logger.Info("server exited gracefully")
	return nil
}

func openBackends(cfg *config.Config, logger *zap.Logger) (*backends, error) {
	if cfg.State.Backend == "memory" {
		configs := repository.NewMemoryConfigRepository()
		logger.Info("using in-memory backends")
		return &backends{
			entities: repository.NewMemoryEntityStore(),
			state:    repository.NewMemoryStateStore(clock.Real{}),
			locks:    lock.NewMemoryManager(clock.Real{}),
			users:    repository.NewMemoryUserRepository(),
			configs:  configs,
			feed:     configs,
			rateStore: func(prefix string) (limiter.Store, error) {
				return ratelimit.NewMemoryStore(prefix, cfg.RateLimit.SweepInterval), nil
			},
			closeStore: func() error { return nil },
		}, nil
	}

	db, err := config.NewPostgresDB(cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if cfg.Database.Postgres.AutoMigrate {
		if err := model.AutoMigrate(db, cfg.Sync.Channel); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate: %w", err)
		}
		logger.Info("database migration completed")
	}

	redisClient, err := config.NewRedisClient(cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	logger.Info("using Redis cache and Postgres store")

	return &backends{
		entities: repository.NewRedisEntityStore(redisClient),
		state:    repository.NewRedisStateStore(redisClient),
		locks: lock.NewRedisManager(redisClient, lock.RedisOptions{
			Notify: cfg.Lock.Notify,
		}),
		users:   repository.NewPGUserRepository(db),
		configs: repository.NewPGConfigRepository(db),
		feed:    repository.NewPGChangeFeed(cfg.Database.Postgres.DSN(), cfg.Sync.Channel, logger),
		rateStore: func(prefix string) (limiter.Store, error) {
			return ratelimit.NewRedisStore(redisClient, prefix)
		},
		closeStore: func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return errors.Join(redisClient.Close(), sqlDB.Close())
		},
	}, nil
}
