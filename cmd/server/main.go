package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Vishnu2508307/Test-sub032/internal/config"
	"github.com/Vishnu2508307/Test-sub032/internal/diffsync"
	"github.com/Vishnu2508307/Test-sub032/internal/handler"
	"github.com/Vishnu2508307/Test-sub032/internal/middleware"
	"github.com/Vishnu2508307/Test-sub032/internal/patch"
	"github.com/Vishnu2508307/Test-sub032/internal/relay"
	"github.com/Vishnu2508307/Test-sub032/internal/repository"
	"github.com/Vishnu2508307/Test-sub032/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	serverID := cfg.Server.ServerID
	if serverID == "" {
		serverID = uuid.New().String()
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	shadowRepo := repository.NewShadowRepository(client, cfg.Database.Name)
	backupRepo := repository.NewBackupRepository(client, cfg.Database.Name)
	documentRepo := repository.NewDocumentRepository(client, cfg.Database.Name)

	var broker relay.Broker
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		broker = relay.NewRedisBroker(redisClient)
		log.Printf("Relay broker: redis at %s", cfg.Redis.Addr)
	} else {
		broker = relay.NewMemoryBroker()
		log.Printf("Relay broker: in-process (single replica mode)")
	}

	rel := relay.New(broker, cfg.Sync.MaxSubscriptionsPerConn)
	engine := diffsync.NewEngine(shadowRepo, backupRepo, documentRepo, patch.NewDiffMatchPatch(), rel, serverID)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	wsManager.SetMessageHandler(handler.NewDiffSyncHandler(engine))
	wsManager.SetDisconnectHandler(engine)
	go wsManager.Run()

	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize)
	documentHandler := handler.NewDocumentHandler(documentRepo)

	r := mux.NewRouter()
	r.Use(middleware.LoggerMiddleware())

	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	protected.HandleFunc("/documents/{entityType}/{entityId}", documentHandler.Get).Methods("GET")

	r.HandleFunc("/ws", wsHandler.HandleConnection)
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting diff-sync server %s on %s (env: %s)", serverID, addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"diff-sync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Diff Sync Server API","version":"1.0.0","endpoints":{"/ws":"GET (websocket)","/api/v1/documents/{entityType}/{entityId}":"GET (protected)","/health":"GET"}}`))
}
