package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/tenmo-ledger/internal/api"
	"github.com/punchamoorthee/tenmo-ledger/internal/config"
	"github.com/punchamoorthee/tenmo-ledger/internal/service"
	"github.com/punchamoorthee/tenmo-ledger/internal/store"
	"github.com/punchamoorthee/tenmo-ledger/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("error starting logger: %v", err)
	}
	defer func() { _ = logger.Log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logger.Log.Fatal("server exited", logger.Error(err))
	}
	logger.Log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	ledgerStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()

	var idem *api.Idempotency
	if cfg.RedisAddr != "" {
		rdb, err := api.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		idem = api.NewIdempotency(api.NewRedisIdempotencyStore(rdb), cfg.IdempotencyTTL)
		logger.Log.Info("idempotency enabled", logger.String("redis", cfg.RedisAddr))
	}

	handler := api.NewHandler(
		service.NewLedgerService(ledgerStore, cfg.OpeningBalance()),
		service.NewQueryService(ledgerStore),
		ledgerStore,
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router([]byte(cfg.JWTSecret), idem),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("starting server",
			logger.String("address", server.Addr),
			logger.String("env", cfg.Env),
			logger.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		logger.Log.Warn("using in-memory store; balances are lost on restart")
		return store.NewMemory(cfg.LockTimeout), nil
	}

	pg, err := store.NewPostgres(ctx, cfg.DBSource, cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		pg.Close()
		return nil, err
	}
	return pg, nil
}
