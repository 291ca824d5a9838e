package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/BradenHooton/warden/internal/metrics"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/filecoin-project/go-clock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	staffRepo := repositories.NewStaffRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, staffRepo, cfg.Bootstrap, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Audit trail and alert delivery
	auditService := services.NewAuditService(eventRepo, logger)

	var notifier services.Notifier = services.NoopNotifier{}
	if cfg.Notify.EmailEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesNotifier, err := services.NewSESNotifier(ctx, cfg.Notify.AWSRegion, cfg.Notify.FromAddress, cfg.Notify.Recipients, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	dispatcher := services.NewEventDispatcher(auditService, notifier, cfg.Security.EventQueueSize, logger)
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	defer dispatchCancel()
	go dispatcher.Start(dispatchCtx)

	// Metrics
	registry := metrics.NewRegistry()
	recorder := metrics.NewRecorder(registry)

	// Protection core
	clk := clock.New()

	lockoutService, err := services.NewLockoutService(services.LockoutConfig{
		Threshold:      cfg.Security.LockoutThreshold,
		Ladder:         cfg.Security.LockoutLadder,
		LedgerCapacity: cfg.Security.LedgerCapacity,
	}, clk, dispatcher, recorder, logger)
	if err != nil {
		logger.Error("failed to initialize lockout service", slog.Any("error", err))
		os.Exit(1)
	}

	sessionService := services.NewSessionService(services.SessionConfig{
		MaxAge:          cfg.Security.SessionMaxAge,
		DuplicateWindow: cfg.Security.DuplicateWindow,
		InvalidationTTL: cfg.Security.InvalidationTTL,
	}, clk, dispatcher, recorder, logger)

	verifier := services.NewCredentialVerifier(staffRepo, pkgauth.BcryptCost, logger)
	securityService := services.NewSecurityService(lockoutService, sessionService, verifier, dispatcher, recorder, clk, logger)

	registry.MustRegister(metrics.NewStateCollector(securityService, dispatcher))

	// Sweeper
	sweeper, err := background.NewSweeper(background.SweeperConfig{
		Schedule:        cfg.Security.SweepSchedule,
		StaleFailureTTL: cfg.Security.StaleFailureTTL,
		EventRetention:  cfg.Security.EventRetention,
	}, securityService, eventRepo, clk, logger)
	if err != nil {
		logger.Error("failed to initialize sweeper", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry, cfg.Auth.Issuer, clk)

	// Initialize handlers
	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}
	securityHandler := handlers.NewSecurityHandler(securityService, tokenManager, auditService, ipConfig, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, cfg.Server.Env))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	opts := routes.Options{
		LoginRateLimit: middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.LoginRateLimitPerMinute},
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.Handler(registry, cfg.Metrics.Token)
	}
	routes.RegisterRoutes(router, securityHandler, tokenManager, staffRepo, opts)

	// Liveness
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Readiness with database
	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweeper.Start()

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	sweeper.Stop()

	// Flush queued audit events before the pool closes
	dispatcher.Stop()

	logger.Info("server stopped gracefully",
		slog.Int64("events_dropped", dispatcher.Dropped()),
	)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminAccount creates the first admin account if BOOTSTRAP_ADMIN_USERNAME and BOOTSTRAP_ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, staffRepo *repositories.StaffRepository, cfg config.BootstrapConfig, logger *slog.Logger) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		logger.Info("no bootstrap admin configured, skipping admin account creation")
		return nil
	}

	if err := pkgauth.ValidatePassword(cfg.AdminPassword, cfg.AdminUsername); err != nil {
		return fmt.Errorf("bootstrap admin password rejected: %w", err)
	}

	// Hash password
	hashedPassword, err := pkgauth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	created, err := staffRepo.EnsureAccount(ctx, &models.Staff{
		Username:     cfg.AdminUsername,
		PasswordHash: hashedPassword,
		Role:         models.RoleAdmin,
		Active:       true,
	})
	if err != nil {
		return err
	}

	if created {
		logger.Info("admin account created", slog.String("username", cfg.AdminUsername))
	} else {
		logger.Info("admin account already exists")
	}
	return nil
}
