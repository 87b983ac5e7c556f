package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-expense-approvals/internal/config"
	"github.com/pesio-ai/be-expense-approvals/internal/database"
	"github.com/pesio-ai/be-expense-approvals/internal/handler"
	"github.com/pesio-ai/be-expense-approvals/internal/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/middleware"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Backend).
		Str("expense_store", cfg.ExpenseStore()).
		Msg("Starting Expense Approvals Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Service stopped with error")
	}
	log.Info().Msg("Server stopped")
}

type stores struct {
	directory service.Directory
	policies  service.PolicyStore
	expenses  service.ExpenseStore
	ping      func(ctx context.Context) error
	close     func()
}

func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	s := &stores{close: func() {}}

	var db *database.DB
	if cfg.Storage.Backend == config.BackendPostgres || cfg.ExpenseStore() == config.BackendPostgres {
		var err error
		db, err = database.New(ctx, database.Config{
			DSN:         cfg.Database.DSN(),
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.close = db.Close
		s.ping = db.Ping
		log.Info().Str("host", cfg.Database.Host).Str("database", cfg.Database.Database).Msg("Database connection established")
	}

	// Initialize repositories
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		s.directory = repository.NewDirectoryRepository(db)
		s.policies = repository.NewPolicyRepository(db)
	default:
		log.Warn().Msg("Using in-memory directory and policies; data is lost on restart")
		s.directory = repository.NewMemoryDirectory()
		s.policies = repository.NewMemoryPolicyStore()
	}

	switch cfg.ExpenseStore() {
	case config.BackendPostgres:
		s.expenses = repository.NewExpenseRepository(db)
	case config.BackendDynamoDB:
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Storage.AWSRegion != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Storage.AWSRegion))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		s.expenses = repository.NewDynamoDBExpenseStore(awsCfg, cfg.Storage.DynamoDBTable)
		log.Info().Str("table", cfg.Storage.DynamoDBTable).Str("region", awsCfg.Region).Msg("Using DynamoDB expense store")
	default:
		s.expenses = repository.NewMemoryExpenseStore()
	}
	return s, nil
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// Initialize services
	expenseService := service.NewExpenseService(st.expenses, st.policies, st.directory, log.WithComponent("expenses"))
	policyService := service.NewPolicyService(st.policies, st.directory, log.WithComponent("policies"))
	directoryService := service.NewDirectoryService(st.directory, log.WithComponent("directory"))

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(expenseService, policyService, directoryService, log)
	if st.ping != nil {
		httpHandler.WithHealthCheck(st.ping)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set; trusting the " + middleware.UserIDHeader + " header")
	}
	router := httpHandler.Router(middleware.Authenticate(middleware.AuthConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.JWTIssuer,
	}))

	// Apply middleware
	var h http.Handler = router
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port()),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	grpcServer := handler.NewGRPCServer(cfg.Service.Name, st.ping, log.Logger)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("create gRPC listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("port", cfg.Port()).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		return grpcServer.Serve(grpcListener)
	})

	g.Go(func() error {
		grpcServer.WatchHealth(gctx, 30*time.Second)
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
