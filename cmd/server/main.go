package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatbridge/session-server-go/internal/config"
	"github.com/chatbridge/session-server-go/internal/database"
	"github.com/chatbridge/session-server-go/internal/dispatch"
	"github.com/chatbridge/session-server-go/internal/engine/bridge"
	"github.com/chatbridge/session-server-go/internal/events"
	"github.com/chatbridge/session-server-go/internal/handler"
	"github.com/chatbridge/session-server-go/internal/ingest"
	"github.com/chatbridge/session-server-go/internal/jobs"
	"github.com/chatbridge/session-server-go/internal/media"
	"github.com/chatbridge/session-server-go/internal/middleware"
	"github.com/chatbridge/session-server-go/internal/redis"
	"github.com/chatbridge/session-server-go/internal/repository"
	"github.com/chatbridge/session-server-go/internal/service"
	"github.com/chatbridge/session-server-go/internal/session"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	credentialRepo := repository.NewCredentialRepository(db.DB)
	chatRepo := repository.NewChatRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)

	broker := events.NewBroker(redisClient)
	defer broker.Close()

	fetcher := media.NewFetcher(cfg.MediaRoot, cfg.MediaBaseURL)
	registry := session.NewRegistry()
	dialer := bridge.NewDialer(cfg.EngineURL)

	pipeline := ingest.NewPipeline(chatRepo, messageRepo, fetcher, broker)
	manager := session.NewManager(
		accountRepo, credentialRepo, messageRepo,
		dialer, registry, pipeline, broker,
		session.Backoff{
			Base:        cfg.ReconnectBaseDelay(),
			Max:         cfg.ReconnectMaxDelay(),
			MaxAttempts: cfg.ReconnectMaxAttempts,
		},
	)
	dispatcher := dispatch.NewDispatcher(registry, accountRepo, chatRepo, messageRepo, broker)
	chatService := service.NewChatService(db, chatRepo, messageRepo)

	accountHandler := handler.NewAccountHandler(manager, dispatcher, chatService, accountRepo)
	chatHandler := handler.NewChatHandler(chatService)
	eventsHandler := handler.NewEventsHandler(broker, accountRepo)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"sessions":  registry.Len(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			// SSE streams outlive the request timeout; everything else gets one.
			r.Get("/{accountID}/events", eventsHandler.ServeHTTP)
			r.Group(func(r chi.Router) {
				r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
				r.Mount("/", accountHandler.Routes())
			})
		})
		r.Route("/chats", func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", chatHandler.Routes())
		})
	})

	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(cfg.MediaRoot))))

	reconcileJob := jobs.NewReconcileJob(accountRepo, registry, config.ReconcileJobInterval)
	reconcileJob.Start()
	defer reconcileJob.Stop()

	manager.Restore(context.Background())

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	sessionCtx, sessionCancel := context.WithTimeout(context.Background(), config.SessionShutdownTimeout)
	defer sessionCancel()
	manager.Shutdown(sessionCtx)

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
