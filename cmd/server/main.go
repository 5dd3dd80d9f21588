package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"floboats-messaging/internal/chat"
	"floboats-messaging/internal/config"
	"floboats-messaging/internal/db"
	"floboats-messaging/internal/event"
	"floboats-messaging/internal/events"
	"floboats-messaging/internal/listing"
	"floboats-messaging/internal/logger"
	myMiddleware "floboats-messaging/internal/middleware"
	"floboats-messaging/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Config & Flags
	configPath := flag.String("config", ".", "directory holding config.yaml")
	addr := flag.String("addr", "", "http service address (overrides server.addr)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// The logger isn't configured yet.
		zap.NewExample().Sugar().Fatalw("config", "err", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log, err := logger.New(cfg.Log.Development)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Postgres
	database, err := db.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatalw("failed to connect to postgres", "err", err)
	}
	defer database.Close()
	log.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatalw("migration failed", "err", err)
	}
	log.Info("database schema initialized")

	// 3. Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalw("failed to connect to redis", "addr", cfg.Redis.Addr, "err", err)
	}
	log.Infow("connected to redis", "addr", cfg.Redis.Addr)

	// 4. Kafka is optional; without brokers no domain events are published.
	var publisher chat.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		publisher = producer
		log.Infow("publishing domain events", "brokers", cfg.Kafka.Brokers, "topic", producer.Topic())
	}

	// 5. Accounts
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiresIn)*time.Hour, log)
	userHandler := user.NewHandler(userService)

	// 6. Messaging
	chatRepo := chat.NewRepository(database.Conn)
	listingRepo := listing.NewRepository(database.Conn)
	feed := chat.NewRedisFeed(redisClient, log)
	chatService := chat.NewService(chatRepo, listingRepo, feed, publisher, log)

	hub := chat.NewHub(log)
	go hub.Run(ctx)
	chatHandler := chat.NewHandler(ctx, chatService, hub, log)

	// 7. Events
	eventHandler := event.NewHandler(event.NewRepository(database.Conn), cfg.Server.PublicURL, log)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 8. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/api/events/{eventID}/calendar.ics", eventHandler.Calendar)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/conversations", chatHandler.ListConversations)
		r.Get("/api/conversations/{conversationID}/messages", chatHandler.LoadFeed)
		r.Post("/api/conversations/{conversationID}/archive", chatHandler.ArchiveConversation)
		r.Get("/api/listings/{listingID}/conversation", chatHandler.ResolveConversation)
		r.Post("/api/messages", chatHandler.SendMessage)
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Infow("server starting", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("graceful shutdown failed", "err", err)
	}
}
