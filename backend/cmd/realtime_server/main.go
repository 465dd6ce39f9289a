package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"realtimeCollab/backend/internal/cache"
	"realtimeCollab/backend/internal/channel"
	"realtimeCollab/backend/internal/collab"
	"realtimeCollab/backend/internal/events"
	"realtimeCollab/backend/internal/httpapi/handlers"
	"realtimeCollab/backend/internal/httpapi/middleware"
	"realtimeCollab/backend/internal/lock"
	"realtimeCollab/backend/internal/presence"
	"realtimeCollab/backend/internal/registry"
	"realtimeCollab/backend/internal/store"
	"realtimeCollab/backend/internal/ws"
)

type RealtimeConfig struct {
	Running struct {
		Port int `mapstructure:"Port"`
	} `mapstructure:"Running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"Redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`
	Auth struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"Auth"`
	Collab struct {
		LockTTLSeconds       int `mapstructure:"lockTtlSeconds"`
		DocTTLSeconds        int `mapstructure:"docTtlSeconds"`
		StaleMaxAgeSeconds   int `mapstructure:"staleMaxAgeSeconds"`
		SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
		MaxConcurrentSubmits int `mapstructure:"maxConcurrentSubmits"`
	} `mapstructure:"Collab"`
}

func initConfig() (*RealtimeConfig, error) {
	cfg := &RealtimeConfig{}
	v := viper.New()
	v.SetConfigName("realtimeConfig")
	v.SetConfigType("yaml")
	// Works whether the process starts from the repo root or backend/.
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "realtime").Logger()

	cfg, err := initConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("init config failed")
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Msg("redis ping failed")
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("mysql init failed")
	}

	kafkaCfg := sarama.NewConfig()
	// SyncProducer requires Return.Successes.
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("kafka producer init failed")
	}
	defer producer.Close()

	dispatcher := events.NewKafkaDispatcher(producer, cfg.Kafka.Topic, logger, events.KafkaDispatcherOptions{
		QueueSize:   10_000,
		Workers:     4,
		MaxRetry:    3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  1 * time.Second,
	})

	staleMaxAge := seconds(cfg.Collab.StaleMaxAgeSeconds, 300)

	reg := registry.New()
	tracker := presence.NewTracker(reg, presence.NewRedisStore(rdb), dispatcher, staleMaxAge, logger)
	fanout := channel.NewFanout(reg, logger)
	locks := lock.NewManager(rdb, seconds(cfg.Collab.LockTTLSeconds, 300), dispatcher, logger)

	coord := collab.NewCoordinator(
		reg,
		cache.NewDocumentCache(rdb, seconds(cfg.Collab.DocTTLSeconds, 3600)),
		store.NewSnapshotStore(db),
		cache.NewHistoryStore(rdb),
		cache.NewSessionStore(rdb),
		locks,
		fanout,
		dispatcher,
		logger,
		collab.Options{MaxConcurrentSubmits: cfg.Collab.MaxConcurrentSubmits},
	)

	sweeper := collab.NewSweeper(
		reg, tracker, coord, locks, fanout,
		seconds(cfg.Collab.SweepIntervalSeconds, 60), staleMaxAge,
		logger,
	)
	sweeper.Start()

	wsManager := ws.NewManager(reg, tracker, fanout, coord, logger)
	channelHandler := handlers.NewChannelHandler(reg, tracker, fanout, logger)

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	auth := middleware.AuthMiddleware(cfg.Auth.Path)

	rt := r.Group("/collab")
	rt.Use(auth)
	rt.GET("/ws", wsManager.WebSocketConnect)

	api := r.Group("/api/channels")
	api.Use(auth)
	api.GET("", channelHandler.ListMyChannels)
	api.GET("/:channel/:objectType/:objectId", channelHandler.GetChannel)
	api.GET("/:channel/:objectType/:objectId/participants", channelHandler.GetParticipants)
	api.GET("/:channel/:objectType/:objectId/presence", channelHandler.GetPresence)
	api.GET("/:channel/:objectType/:objectId/statistics", channelHandler.GetStatistics)
	api.POST("/:channel/:objectType/:objectId/broadcast", channelHandler.Broadcast)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()
	logger.Info().Int("port", cfg.Running.Port).Msg("realtime server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	sweeper.Stop()
	dispatcher.Close()
}
