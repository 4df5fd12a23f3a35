package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/api"
	"github.com/mkrivacevic11921rn/settlement-core/internal/auth"
	"github.com/mkrivacevic11921rn/settlement-core/internal/config"
	"github.com/mkrivacevic11921rn/settlement-core/internal/customer"
	"github.com/mkrivacevic11921rn/settlement-core/internal/db"
	"github.com/mkrivacevic11921rn/settlement-core/internal/interbank"
	"github.com/mkrivacevic11921rn/settlement-core/internal/ledger"
	"github.com/mkrivacevic11921rn/settlement-core/internal/logger"
	"github.com/mkrivacevic11921rn/settlement-core/internal/metrics"
	"github.com/mkrivacevic11921rn/settlement-core/internal/middleware"
	"github.com/mkrivacevic11921rn/settlement-core/internal/models"
	"github.com/mkrivacevic11921rn/settlement-core/internal/notify"
	"github.com/mkrivacevic11921rn/settlement-core/internal/outbox"
	"github.com/mkrivacevic11921rn/settlement-core/internal/repository/postgres"
	"github.com/mkrivacevic11921rn/settlement-core/internal/saga"
	"github.com/mkrivacevic11921rn/settlement-core/internal/worker"
)

// interbankSender breaks the construction cycle between the transfer service
// and the gateway: the service is built against this proxy, the gateway is
// built against the service, then the proxy is pointed at the gateway.
type interbankSender struct {
	g *interbank.Gateway
}

func (p *interbankSender) SendNewTransaction(ctx context.Context, m interbank.NewTransaction) (models.Event, error) {
	return p.g.SendNewTransaction(ctx, m)
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, dbPool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	store := postgres.NewStore(dbPool)
	wp := worker.NewPool(cfg.WorkerCount)
	defer wp.Stop()

	metrics.Init()

	engine := outbox.NewEngine(store.Events, wp, interbank.MarshalEvent, outbox.Config{
		MaxRetries: cfg.OutboxMaxRetries,
		RetryDelay: cfg.OutboxRetryDelay,
	})
	engine.Start(ctx)

	otpSvc := ledger.NewOtpService(store.OtpTokens, cfg.OtpTTL)
	sender := &interbankSender{}
	transferSvc := ledger.NewTransferService(
		store,
		sender,
		customer.NewClient(cfg.CustomerServiceURL),
		notify.NewClient(cfg.NotificationURL),
		otpSvc,
	)
	gw := interbank.NewGateway(store.Events, engine, transferSvc, cfg.RoutingNumber, cfg.InterbankURL, cfg.TradingAckURL)
	sender.g = gw

	trades := saga.NewCoordinator(store, gw)
	// Interrupted trades must be rolled back before any new traffic.
	if err := trades.Recover(ctx); err != nil {
		log.Error("saga recovery", "err", err)
		os.Exit(1)
	}

	tm := auth.NewTokenManager(cfg.InterbankSecret, cfg.InterbankIssuer, time.Hour)
	r := api.NewRouter(api.RouterDeps{
		Cfg:       cfg,
		Transfers: transferSvc,
		Otp:       otpSvc,
		Trades:    trades,
		Gateway:   gw,
		Events:    store.Events,
		Auth:      middleware.NewAuthMiddleware(tm),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "routing_number", cfg.RoutingNumber)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
