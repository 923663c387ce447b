package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"smartbin/internal/alert"
	"smartbin/internal/auth"
	"smartbin/internal/eventlog"
	"smartbin/internal/ingest"
	"smartbin/internal/pubsub"
	"smartbin/internal/server"
	"smartbin/internal/telemetry"
	"smartbin/pkg/config"
	otelobs "smartbin/pkg/observability/otel"
)

const redisChannel = "smartbin:events"

func main() {
	cfg := config.LoadServer()

	shutdownTracer := otelobs.InitTracer("smartbin")
	defer shutdownTracer(context.Background())

	var (
		evlog     eventlog.Log
		userStore auth.UserStore
	)
	if cfg.DatabaseURL != "" {
		pg, err := eventlog.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[smartbin] event log init: %v", err)
		}
		defer pg.Close()
		evlog = pg

		users, err := auth.NewPostgresStore(pg.DB())
		if err != nil {
			log.Fatalf("[smartbin] user store init: %v", err)
		}
		userStore = users
	} else {
		log.Printf("[smartbin] DATABASE_URL not set; falling back to in-memory storage")
		evlog = eventlog.NewMemoryLog()
		userStore = auth.NewMemoryStore()
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Fatalf("[smartbin] upload dir: %v", err)
	}

	hub := pubsub.NewHub()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		bridge := pubsub.NewRedisBridge(context.Background(), hub, rdb, redisChannel)
		defer bridge.Close()
		log.Printf("[smartbin] redis event bridge on %s", cfg.RedisAddr)
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = uuid.NewString()
		log.Printf("[smartbin] JWT_SECRET not set; using an ephemeral secret, sessions will not survive restarts")
	}

	store := telemetry.NewStore()
	alerts := alert.NewEngine(hub, cfg.AlertThreshold)
	svc := ingest.NewService(store, evlog, alerts, cfg.UploadDir)
	authm := auth.NewManager(userStore, secret, cfg.JWTTTL)

	if cfg.MQTTBroker != "" {
		bridge, err := ingest.NewMQTTBridge(ingest.MQTTBridgeConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
		}, svc)
		if err != nil {
			log.Fatalf("[smartbin] mqtt bridge: %v", err)
		}
		defer bridge.Close()
		log.Printf("[smartbin] mqtt bridge on %s", cfg.MQTTBroker)
	}

	srv := server.New(server.Config{
		Store:     store,
		Log:       evlog,
		Ingest:    svc,
		Alerts:    alerts,
		Hub:       hub,
		Auth:      authm,
		UploadDir: cfg.UploadDir,
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelobs.WrapHTTPHandler("smartbin", srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Printf("[smartbin] shutdown error: %v", err)
		} else {
			log.Printf("[smartbin] shutdown complete")
		}
	}()

	log.Printf("[smartbin] listening on :%s", cfg.Port)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("[smartbin] server error: %v", err)
	}
}
