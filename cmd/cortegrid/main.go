package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rf-almeida/cortegrid/internal/backend"
	"github.com/rf-almeida/cortegrid/internal/cache"
	"github.com/rf-almeida/cortegrid/internal/config"
	"github.com/rf-almeida/cortegrid/internal/handlers"
	"github.com/rf-almeida/cortegrid/internal/httpx"
	"github.com/rf-almeida/cortegrid/internal/live"
	"github.com/rf-almeida/cortegrid/internal/model"
	"github.com/rf-almeida/cortegrid/internal/otelx"
	"github.com/rf-almeida/cortegrid/internal/policy"
	"github.com/rf-almeida/cortegrid/internal/runtime"
	"github.com/rf-almeida/cortegrid/internal/session"
)

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	service := config.String("SERVICE_NAME", "cortegrid")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	backendURL, err := config.RequiredString("BACKEND_URL")
	if err != nil {
		panic(err)
	}
	client := backend.New(backendURL)

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "localhost:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	bookingCache := cache.NewRedis(rdb, config.Days("CACHE_TTL_DAYS", 7*24*time.Hour))

	policyCfg := policy.Config{
		LeadTime:       config.Minutes("BOOKING_LEAD_MINUTES", 30*time.Minute),
		CancelLeadTime: config.Minutes("CANCEL_LEAD_MINUTES", 15*time.Minute),
		Cooldown:       config.Days("BOOKING_COOLDOWN_DAYS", 15*24*time.Hour),
		Gate:           policy.DefaultGate(),
	}

	liveCfg := live.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "cortegrid"),
		Topic:   config.String("KAFKA_TOPIC", "barbershop.slots.changed.v1"),
	}

	sessions := make(map[model.Category]*session.Session)
	for _, category := range []model.Category{model.CategoryEnlisted, model.CategoryOfficer} {
		sess := session.New(session.Options{
			Category:        category,
			Backend:         client,
			Cache:           bookingCache,
			Policy:          policyCfg,
			Live:            liveCfg,
			IdentityTimeout: 5 * time.Second,
			Logger:          logger,
		})
		sess.Start(ctx)
		defer sess.Close()
		sessions[category] = sess
	}

	gridHandler := handlers.NewGridHandler(sessions, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(bookingCache)},
		runtime.ReadyCheck{Name: "kafka", Check: live.ReadyCheck(liveCfg.Brokers)},
		runtime.ReadyCheck{Name: "backend", Check: client.ReadyCheck()},
	)
	mux.HandleFunc("/api/v1/grid", gridHandler.Grid)
	mux.HandleFunc("/api/v1/grid/stream", gridHandler.Stream)
	mux.HandleFunc("/api/v1/bookings", gridHandler.Book)
	mux.HandleFunc("/api/v1/bookings/cancel", gridHandler.Cancel)
	mux.HandleFunc("/api/v1/slots/toggle", gridHandler.Toggle)

	limiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("RATE_LIMIT", 30),
		time.Minute,
		"cortegrid",
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(splitList(config.String("CORS_ORIGINS", ""))),
		httpx.WithBodyLimit(1<<20),
		limiter.Middleware(logger, true),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "cortegrid")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
