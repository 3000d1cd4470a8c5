package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/carewire/realtime-service/internal/api"
	"github.com/carewire/realtime-service/internal/auth"
	"github.com/carewire/realtime-service/internal/config"
	"github.com/carewire/realtime-service/internal/database"
	"github.com/carewire/realtime-service/internal/kafka"
	"github.com/carewire/realtime-service/internal/logger"
	"github.com/carewire/realtime-service/internal/presence"
	"github.com/carewire/realtime-service/internal/repository"
	"github.com/carewire/realtime-service/internal/service"
	"github.com/carewire/realtime-service/internal/session"
	"github.com/carewire/realtime-service/internal/ws"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	db, mongoClient, err := database.ConnectMongo(cfg.Mongo.URI, cfg.Mongo.Database, zlog)
	if err != nil {
		zlog.Fatalf("mongo: %v", err)
	}
	rdb, err := database.ConnectRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, zlog)
	if err != nil {
		zlog.Fatalf("redis: %v", err)
	}

	indexCtx, cancelIndex := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repository.EnsureIndexes(indexCtx, db); err != nil {
		zlog.Fatalf("indexes: %v", err)
	}
	cancelIndex()

	repo := repository.NewMongoRepo(db)
	sessions := session.NewStore(rdb, cfg.Redis.Prefix, cfg.SessionTTL)
	guard := auth.NewGuard(cfg.JWT.Secret, cfg.JWT.Issuer, sessions)

	producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessagePersisted)
	chats := service.NewChatService(repo, producer, zlog)

	tracker := presence.NewTracker(presence.NewRedisMirror(rdb, cfg.Redis.Prefix), zlog)
	hub := ws.NewHub()
	gateway := ws.NewGateway(guard, sessions, chats, tracker, hub, cfg, zlog)

	runCtx, stopRun := context.WithCancel(context.Background())
	go gateway.Run(runCtx)

	app := api.NewServer(cfg, guard, chats, tracker, gateway, zlog)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.App.Port)
		zlog.Infof("realtime service listening on %s", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		zlog.Errorf("server error: %v", err)
	case s := <-sig:
		zlog.Infof("signal received: %v", s)
	}

	stopRun()
	if err := app.Shutdown(); err != nil {
		zlog.Warnf("http shutdown: %v", err)
	}
	if err := producer.Close(); err != nil {
		zlog.Warnf("kafka close: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		zlog.Warnf("mongo disconnect: %v", err)
	}
	if err := rdb.Close(); err != nil {
		zlog.Warnf("redis close: %v", err)
	}
	zlog.Info("shutdown complete")
}
