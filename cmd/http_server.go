package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/frahmantamala/cash-advance/internal/advance"
	advancePostgres "github.com/frahmantamala/cash-advance/internal/advance/postgres"
	"github.com/frahmantamala/cash-advance/internal/approval"
	"github.com/frahmantamala/cash-advance/internal/audit"
	auditPostgres "github.com/frahmantamala/cash-advance/internal/audit/postgres"
	"github.com/frahmantamala/cash-advance/internal/auth"
	"github.com/frahmantamala/cash-advance/internal/core/events"
	"github.com/frahmantamala/cash-advance/internal/document"
	"github.com/frahmantamala/cash-advance/internal/idempotency"
	orgPostgres "github.com/frahmantamala/cash-advance/internal/organization/postgres"
	"github.com/frahmantamala/cash-advance/internal/policy"
	policyPostgres "github.com/frahmantamala/cash-advance/internal/policy/postgres"
	"github.com/frahmantamala/cash-advance/internal/transport/middleware"
	"github.com/frahmantamala/cash-advance/internal/transport/rest"
	"github.com/frahmantamala/cash-advance/internal/transport/swagger"
	"github.com/frahmantamala/cash-advance/pkg/clock"
	"github.com/frahmantamala/cash-advance/pkg/logger"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle API requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	DB       *sqlx.DB
	Gorm     *gorm.DB
	Redis    redis.UniversalClient
	EventBus *events.EventBus
	Router   *chi.Mux
	Logger   *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}

	if err := setupRoutes(deps); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.EventBus.Drain(ctx); err != nil {
			deps.Logger.Error("Event handlers did not finish", "error", err)
		}
		deps.close()
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func (d *Dependencies) close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
	if err := d.DB.Close(); err != nil {
		d.Logger.Error("Database close error", "error", err)
	}
}

func setupRoutes(deps *Dependencies) error {
	cfg := deps.Config
	ctx := context.Background()

	directory := orgPostgres.NewDirectoryRepository(deps.Gorm)
	builder := approval.NewChainBuilder(directory, deps.Logger)

	var docs policy.DocumentChecker
	if cfg.Storage.Enabled {
		client, err := document.NewS3Client(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to create document store client: %w", err)
		}
		docs = document.NewS3Store(client, cfg.Storage.Bucket, deps.Logger)
	}
	guard := policy.NewGuard(cfg.Policy, policyPostgres.NewQuotaCounter(deps.DB), docs, clock.System{}, deps.Logger)

	var keys advance.IdempotencyStore = idempotency.NewMemoryStore()
	if deps.Redis != nil {
		keys = idempotency.NewRedisStore(deps.Redis, "")
	}

	service := advance.NewService(
		advancePostgres.NewRequestRepository(deps.Gorm),
		directory,
		builder,
		guard,
		deps.EventBus,
		keys,
		clock.System{},
		deps.Logger,
		advance.Options{
			FinanceRole:    cfg.Security.FinanceRole,
			IdempotencyTTL: cfg.Redis.KeyTTL,
		},
	)

	auditRepo := auditPostgres.NewEntryRepository(deps.Gorm)
	audit.NewRecorder(auditRepo, deps.Logger).RegisterEventHandlers(deps.EventBus)

	tokens := auth.NewJWTTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.AccessTokenDuration)
	authMiddleware := auth.NewMiddleware(tokens, deps.Logger)

	health := rest.NewHealthHandler(deps.Logger, deps.DB.DB)
	if deps.Redis != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}

	handlers := rest.Handlers{
		Health:      health,
		Auth:        authMiddleware,
		Advance:     advance.NewHandler(service),
		Audit:       audit.NewHandler(audit.NewService(auditRepo, service, deps.Logger)),
		FinanceRole: cfg.Security.FinanceRole,
	}

	spec, err := swagger.Load(ctx, cfg.Server.OpenAPIPath)
	if err != nil {
		deps.Logger.Warn("OpenAPI document not served", "error", err)
	} else {
		handlers.Spec = spec
	}

	if cfg.RateLimit.Enabled {
		lim, err := middleware.NewLimiter(cfg.RateLimit.Rate, deps.Redis)
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		handlers.RateLimit = middleware.RateLimit(lim, deps.Logger)
	}

	rest.RegisterAllRoutes(deps.Router, handlers, deps.Logger)
	return nil
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.InitWithOptions(config.Observability.Logging.Level, config.Observability.Logging.Format)
	lg := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gdb, err := initGorm(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}

	var rdb redis.UniversalClient
	if config.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	return &Dependencies{
		Config:   config,
		Logger:   lg,
		DB:       db,
		Gorm:     gdb,
		Redis:    rdb,
		EventBus: events.NewEventBus(lg),
		Router:   chi.NewRouter(),
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm so both layers see one set of connections.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Warn),
	})
}
