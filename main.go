package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raushankrgupta/tryon-orchestrator/api"
	"github.com/raushankrgupta/tryon-orchestrator/config"
	"github.com/raushankrgupta/tryon-orchestrator/ledger"
	"github.com/raushankrgupta/tryon-orchestrator/notify"
	"github.com/raushankrgupta/tryon-orchestrator/providers"
	"github.com/raushankrgupta/tryon-orchestrator/tryon"
	"github.com/raushankrgupta/tryon-orchestrator/utils"
	"golang.org/x/sync/errgroup"
)

// refundClaimTTL keeps cross-instance refund claims well past any task's polling budget.
const refundClaimTTL = 7 * 24 * time.Hour

func main() {
	config.LoadConfig()
	logger := utils.NewLogger("tryon-orchestrator", config.LogLevel)

	// Initialize MongoDB
	if err := utils.ConnectMongo(config.MongoURI); err != nil {
		logger.WithError(err).Fatal("Failed to connect to MongoDB")
	}

	rdb, err := utils.ConnectRedis(config.RedisAddr)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	nc, err := utils.ConnectNats(config.NatsURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to NATS")
	}

	users := utils.GetCollection(ledger.UsersCollection)
	balances := ledger.New(
		ledger.NewMongoStore(users),
		ledger.NewMongoJournal(utils.GetCollection(ledger.EntriesCollection)),
		logger.WithField("component", "ledger"),
	)
	balances.Subscribe(func(userID string, balance int64) {
		logger.WithField("user_id", userID).WithField("balance", balance).Debug("visible balance changed")
	})

	provider, err := providers.GetProvider(config.ProviderName, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create try-on provider")
	}

	notifiers := notify.Multi{notify.LogNotifier{Logger: logger.WithField("component", "notify")}}
	if nc != nil {
		notifiers = append(notifiers, notify.NewNatsNotifier(nc))
	}
	if config.SendGridAPIKey != "" {
		notifiers = append(notifiers, notify.NewEmailNotifier(config.SendGridAPIKey, notify.NewMongoRecipients(users), logger))
	}

	var metrics *tryon.Metrics
	if config.MetricsEnabled {
		metrics = tryon.NewMetrics(prometheus.DefaultRegisterer)
	}

	previews := tryon.NewMongoPreviewCollection(utils.GetCollection(tryon.PreviewsCollection))
	if err := previews.EnsureIndexes(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to ensure preview indexes")
	}

	results, err := tryon.NewResultHandler(previews, notifiers, config.PreferredSourcePattern, logger.WithField("component", "results"))
	if err != nil {
		logger.WithError(err).Fatal("Invalid preferred source pattern")
	}

	var guard tryon.RefundGuard
	if rdb != nil {
		guard = tryon.NewRedisRefundGuard(rdb, refundClaimTTL)
	}
	compensation := tryon.NewCompensationManager(balances, guard, metrics, logger.WithField("component", "compensation"))

	pricing := tryon.Pricing{
		ImageCost:        config.ImageCost,
		VideoCost:        config.VideoCost,
		ImageMaxAttempts: config.ImageMaxAttempts,
		VideoMaxAttempts: config.VideoMaxAttempts,
	}
	orchestrator := tryon.New(tryon.Config{
		Pricing:      pricing,
		PollInterval: config.PollInterval,
		Retention:    30 * time.Minute,
	}, balances, provider, results, compensation, notifiers, metrics, logger.WithField("component", "orchestrator"))

	handler := api.NewHandler(api.Deps{
		TryOns:    orchestrator,
		Balances:  balances,
		Gallery:   previews,
		Users:     api.NewMongoUsers(users),
		Pricing:   pricing,
		JWTSecret: config.JWTSecret,
		Logger:    logger.WithField("component", "api"),
	})

	mux := http.NewServeMux()
	handler.Register(mux)
	if config.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           corsMiddleware(utils.LatencyMiddleware(logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", config.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		httpErr := server.Shutdown(shutdownCtx)
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("In-flight try-ons were stopped and refunded at shutdown")
		}
		if nc != nil {
			_ = nc.Drain()
		}
		if rdb != nil {
			_ = rdb.Close()
		}
		if err := utils.DisconnectMongo(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to disconnect MongoDB")
		}
		return httpErr
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

// CORS Middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
