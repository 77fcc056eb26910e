// README: Entry point; loads config, wires services, starts the HTTP server and the payout reconciler.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coursier/internal/config"
	"coursier/internal/events"
	httptransport "coursier/internal/http"
	"coursier/internal/http/handlers"
	"coursier/internal/infra"
	"coursier/internal/logger"
	"coursier/internal/modules/board"
	"coursier/internal/modules/driver"
	"coursier/internal/modules/order"
	"coursier/internal/modules/payment"
	"coursier/internal/modules/rating"
	"coursier/internal/modules/settlement"
	"coursier/internal/modules/user"
)

const webhookReplayTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	defer func() { _ = log.Sync() }()
	if err != nil {
		log.Error("load config", logger.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("coursier-api stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log logger.ILogger) error {
	verifier, issuer, err := newAuth(ctx, cfg)
	if err != nil {
		return err
	}

	if err := infra.Migrate(cfg.DB.DSN, cfg.DB.MigrationsPath); err != nil {
		return err
	}
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	var publisher events.Publisher = events.Nop{}
	if cfg.NSQ.Addr != "" {
		producer, err := events.NewNSQPublisher(cfg.NSQ.Addr, log)
		if err != nil {
			return err
		}
		defer producer.Stop()
		publisher = producer

		alerts, err := events.Subscribe(ctx, cfg.NSQ.Addr, events.TopicPayoutFailed, "operator-alerts", payoutAlert(log), log)
		if err != nil {
			return err
		}
		defer alerts.Stop()
	} else {
		log.Warning("COURSIER_NSQD_ADDR not set, domain events are dropped")
	}

	gateway := payment.NewClient(payment.Config{
		BaseURL:          cfg.Gateway.BaseURL,
		APIKey:           cfg.Gateway.APIKey,
		SecretKey:        cfg.Gateway.SecretKey,
		Currency:         cfg.Gateway.Currency,
		Timeout:          cfg.Gateway.Timeout,
		WebhookTolerance: cfg.Gateway.WebhookTolerance,
	})
	if cfg.Gateway.BaseURL == "" {
		log.Warning("payment gateway not configured, charges and payouts will fail until it is")
	}

	boardStore := board.NewStore(redisClient)

	driverSvc := driver.NewService(driver.NewStore(dbPool), boardStore, log.With(logger.String("module", "driver")))

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, driverSvc,
		order.WithBoard(boardStore),
		order.WithPublisher(publisher),
		order.WithLogger(log.With(logger.String("module", "order"))),
	)

	settlementSvc := settlement.NewService(
		settlement.NewStore(dbPool),
		driverSvc,
		gateway,
		publisher,
		log.With(logger.String("module", "settlement")),
		settlement.Config{
			PayoutTimeout:  cfg.Settlement.PayoutTimeout,
			ReconcileTick:  cfg.Settlement.ReconcileTick,
			MaxAttempts:    cfg.Settlement.MaxAttempts,
			ReconcileBatch: cfg.Settlement.ReconcileBatch,
			Rail:           payment.Rail(cfg.Settlement.Rail),
		},
		settlement.WithUnsettledOrders(orderStore),
	)
	orderSvc.SetSettler(settlementSvc)

	paymentSvc := payment.NewService(
		orderStore,
		gateway,
		settlementSvc,
		payment.NewRedisReplayGuard(redisClient, webhookReplayTTL),
		publisher,
		log.With(logger.String("module", "payment")),
	)

	userSvc := user.NewService(user.NewStore(dbPool), log.With(logger.String("module", "user")))
	ratingSvc := rating.NewService(rating.NewStore(dbPool), orderSvc, driverSvc, log.With(logger.String("module", "rating")))

	server := httptransport.NewServer(cfg.HTTP.Addr, httptransport.ServerDeps{
		Orders:      orderSvc,
		Drivers:     driverSvc,
		Payments:    paymentSvc,
		Settlements: settlementSvc,
		Users:       userSvc,
		Ratings:     ratingSvc,
		Verifier:    verifier,
		Issuer:      issuer,
		Log:         log.With(logger.String("module", "http")),
	})

	go settlementSvc.RunReconciler(ctx)

	return server.Run(ctx)
}

// newAuth prefers Firebase when a project is configured; otherwise the API issues its own tokens.
func newAuth(ctx context.Context, cfg config.Config) (infra.TokenVerifier, handlers.TokenIssuer, error) {
	if cfg.Auth.FirebaseProjectID != "" {
		verifier, err := infra.NewFirebaseVerifier(ctx, cfg.Auth.FirebaseProjectID, cfg.Auth.FirebaseCredentialsFile)
		return verifier, nil, err
	}
	jwt := infra.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)
	return jwt, jwt, nil
}

func payoutAlert(log logger.ILogger) events.Handler {
	return func(_ context.Context, ev events.Event) error {
		log.Error("driver payout needs attention",
			logger.Any("order_id", ev.Data["order_id"]),
			logger.Any("driver_id", ev.Data["driver_id"]),
			logger.Any("error", ev.Data["error"]),
		)
		return nil
	}
}
