package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iliyamo/expense-tracker/internal/config"
	"github.com/iliyamo/expense-tracker/internal/credential"
	"github.com/iliyamo/expense-tracker/internal/database"
	"github.com/iliyamo/expense-tracker/internal/handler"
	"github.com/iliyamo/expense-tracker/internal/logging"
	"github.com/iliyamo/expense-tracker/internal/metrics"
	"github.com/iliyamo/expense-tracker/internal/queue"
	"github.com/iliyamo/expense-tracker/internal/repository"
	"github.com/iliyamo/expense-tracker/internal/repository/memory"
	"github.com/iliyamo/expense-tracker/internal/router"
	"github.com/iliyamo/expense-tracker/internal/service"
	"github.com/iliyamo/expense-tracker/internal/session"
)

const shutdownTimeout = 10 * time.Second

// userStore and expenseStore are what both storage backends provide.
type userStore interface {
	service.UserStore
	handler.UserReader
	handler.LimitStore
}

type expenseStore interface {
	handler.ExpenseStore
	service.WeeklyTotals
}

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	lg := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	m := metrics.New()

	hasher, err := credential.NewManager(credential.Params{
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iterations,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  credential.DefaultParams().SaltLength,
		KeyLength:   credential.DefaultParams().KeyLength,
	})
	if err != nil {
		return fmt.Errorf("credential params: %w", err)
	}
	tokens, err := session.NewAuthority([]byte(cfg.JWTSecret), cfg.AccessTTL, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("session authority: %w", err)
	}

	var (
		users    userStore
		expenses expenseStore
		pinger   handler.Pinger
	)
	switch cfg.Storage {
	case config.StorageMemory:
		store := memory.New()
		users, expenses, pinger = store.Users(), store.Expenses(), store
		lg.Warn(ctx, "using in-memory storage; data is lost on exit")
	default:
		user, pass, host, port, name := cfg.DSNParts()
		db, err := database.Open(ctx, user, pass, host, port, name)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if cfg.MigrateOnStart {
			if err := database.Migrate(ctx, db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		users, expenses, pinger = repository.NewUserRepo(db), repository.NewExpenseRepo(db), db
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		lg.Warn(ctx, "redis unreachable; rate limiting and caching disabled")
	} else {
		defer rdb.Close()
	}

	var spending handler.SpendingChecker
	if cfg.SpendingAlertsEnabled {
		var pub queue.Publisher = queue.NopPublisher{}
		if cfg.RabbitURL != "" {
			amqpPub, err := queue.NewAMQPPublisher(cfg.RabbitURL, lg)
			if err != nil {
				return fmt.Errorf("alert publisher: %w", err)
			}
			defer amqpPub.Close()
			pub = amqpPub
		}
		spending = service.NewSpendingMonitor(expenses, users, pub, lg, m)
	}
	if cfg.SpendingConsumerEnabled && cfg.RabbitURL != "" {
		go func() {
			err := queue.StartSpendingConsumer(ctx, cfg.RabbitURL, cfg.SpendingLogDir, lg)
			if err != nil && !errors.Is(err, context.Canceled) {
				lg.Error(ctx, "spending consumer stopped", "err", err)
			}
		}()
	}

	auth := service.NewAuthService(users, hasher, tokens, lg, m)
	e := router.New(router.Deps{
		Auth:          handler.NewAuthHandler(auth, users, lg, cfg.RequestTimeout),
		Expenses:      handler.NewExpenseHandler(expenses, spending, lg, cfg.RequestTimeout),
		Limits:        handler.NewLimitHandler(users, lg, cfg.RequestTimeout),
		Tokens:        tokens,
		DB:            pinger,
		Redis:         rdb,
		Log:           lg,
		Metrics:       m,
		RateLimit:     config.LoadRateLimitConfig(),
		AuthRateLimit: config.AuthRateLimitConfig(),
		Cache:         config.LoadCacheConfig(),
		CORSOrigins:   cfg.CORSAllowOrigins,
	})

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() { errc <- e.Start(addr) }()
	lg.Info(ctx, "listening", "addr", addr, "env", cfg.Env, "storage", cfg.Storage)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	lg.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
