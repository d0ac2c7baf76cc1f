package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matchtalk/internal/config"
	"matchtalk/internal/domain"
	"matchtalk/internal/httpserver"
	"matchtalk/internal/notify"
	"matchtalk/internal/registry"
	"matchtalk/internal/security"
	"matchtalk/internal/service"
	"matchtalk/internal/store/postgres"
	"matchtalk/internal/store/sqlite"
	"matchtalk/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database
	db, users, conversations, messages, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer db.Close()

	// Security components
	tokens := security.NewTokenVerifier(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)

	// Notification bridge: asynq when Redis is configured, log-only otherwise.
	var bridge notify.Bridge
	if cfg.RedisURL != "" {
		asynqBridge, err := notify.NewAsynqBridge(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to initialize notification bridge: %v", err)
		}
		bridge = asynqBridge
	} else {
		bridge = notify.LogBridge{}
	}
	defer bridge.Close()

	// Services and realtime registry. The conversation service doubles as
	// the registry's membership authorizer.
	convSvc := service.NewConversationService(conversations, messages, users)
	reg := registry.New(convSvc)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pusher service.Pusher = reg
	var relay *ws.Relay
	if cfg.RedisURL != "" {
		relay, err = ws.NewRelay(cfg.RedisURL, reg)
		if err != nil {
			log.Fatalf("failed to initialize relay: %v", err)
		}
		defer relay.Close()
		go relay.Run(rootCtx)
		pusher = &ws.Fanout{Registry: reg, Relay: relay}
	}

	msgSvc := service.NewMessageService(conversations, messages, users, pusher, bridge)
	typing := service.NewTypingBroadcaster(conversations, pusher)

	// Optional in-process notification consumer
	if cfg.RedisURL != "" && cfg.RunNotifyWorker {
		worker, err := notify.NewWorker(cfg.RedisURL, cfg.NotifyConcurrency)
		if err != nil {
			log.Fatalf("failed to initialize notification worker: %v", err)
		}
		go func() {
			if err := worker.Run(rootCtx); err != nil {
				log.Printf("notification worker stopped: %v", err)
			}
		}()
	}

	// Build HTTP router
	router := httpserver.NewRouter(cfg, reg, tokens, users, convSvc, msgSvc, typing)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		log.Printf("Starting matchtalk server on %s\n", cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down server...")
	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func openStore(cfg *config.Config) (*sql.DB, domain.UserRepository, domain.ConversationRepository, domain.MessageRepository, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return db, postgres.NewUserRepo(db), postgres.NewConversationRepo(db), postgres.NewMessageRepo(db), nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}
		return db, sqlite.NewUserRepo(db), sqlite.NewConversationRepo(db), sqlite.NewMessageRepo(db), nil
	}
}
