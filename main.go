package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"theratreat/booking"
	"theratreat/config"
	"theratreat/db"
	"theratreat/earning"
	"theratreat/gateway"
	"theratreat/meeting"
	"theratreat/middleware"
	"theratreat/mq"
	"theratreat/notify"
	"theratreat/obs"
	"theratreat/pay"
	"theratreat/ratelim"
	"theratreat/rdx"
	"theratreat/routes"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

const version = "1.0.0"

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

// notifySender picks the delivery backend. The returned closer releases any
// connection the sender opened.
func notifySender(cfg config.Config, conn *redis.Client, log zerolog.Logger) (notify.Sender, func()) {
	switch cfg.NotifyBackend {
	case "amqp":
		p, err := mq.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Warn().Err(err).Msg("amqp unavailable, notifications will only be logged")
			return notify.NewLogSender(log), func() {}
		}
		return p, func() { _ = p.Close() }
	case "redis":
		return mq.NewRedisPublisher(conn, cfg.NotifyChannel), func() {}
	default:
		return notify.NewLogSender(log), func() {}
	}
}

func main() {
	cfg, dotenv, err := config.Load()
	if err != nil {
		boot := obs.NewLogger("info", os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := obs.NewLogger(cfg.LogLevel, os.Stdout)
	if !dotenv {
		log.Info().Msg("No .env file found; using system environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, "theratreat", version, cfg.OTELEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	}

	store, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatal().Err(err).Msg("mongo connect failed")
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("index creation failed")
	}

	conn, err := rdx.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}

	keyID, keySecret := cfg.GatewayCredentials()
	if keyID == "" || keySecret == "" {
		log.Warn().Str("mode", cfg.RazorpayMode).Msg("razorpay credentials missing; payments will be unavailable")
	}
	gw := gateway.New(gateway.Credentials{
		KeyID:         keyID,
		KeySecret:     keySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
	}, cfg.UpstreamTimeout)

	sender, closeSender := notifySender(cfg, conn, log)
	dispatcher := notify.NewDispatcher(sender, notify.Options{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		Timeout:   cfg.UpstreamTimeout,
	}, log)
	dispatcher.Start(ctx)

	therapists := db.NewTherapistDirectory(store)
	bookingStore := db.NewBookingStore(store)
	ledger := earning.NewLedger(db.NewEarningStore(store), log)
	manager := booking.NewManager(booking.Deps{
		Store:       bookingStore,
		Therapists:  therapists,
		Gateway:     gw,
		Meetings:    meeting.NewRedisProvisioner(conn, cfg.MeetingBaseURL, cfg.MeetingRoomTTL, cfg.UpstreamTimeout),
		Earnings:    ledger,
		Notifier:    dispatcher,
		FeePercent:  cfg.PlatformFeePercent,
		Currency:    cfg.DefaultCurrency,
		CallTimeout: cfg.UpstreamTimeout,
		Log:         log,
	})
	reconciler := booking.NewReconciler(gw, bookingStore, db.NewWebhookEventLog(store), log)

	go manager.RunEarningSweep(ctx, cfg.EarningSweepInterval)

	rateLimiter := ratelim.NewRateLimiter(30, 10)
	go rateLimiter.Cleanup(ctx)

	auth := middleware.NewAuth(cfg.JWTSecret)
	router := httprouter.New()
	router.GET("/health", Index)
	routes.AddBookingRoutes(router, auth, rateLimiter, booking.NewHandler(manager))
	routes.AddPaymentRoutes(router, auth, rateLimiter,
		pay.NewIdempotency(db.NewIdempotencyStore(store), 24*time.Hour, log),
		pay.NewHandler(manager, reconciler))
	routes.AddEarningRoutes(router, auth, earning.NewHandler(ledger, therapists))

	// apply middleware: request log → security headers → CORS → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", pay.IdempotencyHeader},
		AllowCredentials: true,
	}).Handler(router)

	handler := middleware.RequestLogger(log)(middleware.SecurityHeaders(corsHandler))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadTimeout:       7 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 15*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
	}

	// on shutdown: drain notifications before connections are released
	drained := make(chan struct{})
	server.RegisterOnShutdown(func() {
		log.Info().Msg("Stopping notification dispatcher...")
		dispatcher.Stop()
		close(drained)
	})

	go func() {
		log.Info().Str("addr", server.Addr).Str("mode", cfg.RazorpayMode).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received; shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("notification queue not drained before deadline")
	}
	closeSender()
	if err := conn.Close(); err != nil {
		log.Warn().Err(err).Msg("redis close")
	}
	if err := store.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("mongo close")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("tracer flush")
	}

	log.Info().Msg("Server stopped cleanly")
}
