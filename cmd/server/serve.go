package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"diagnosis-service/internal/baseline"
	"diagnosis-service/internal/cache"
	"diagnosis-service/internal/condition"
	"diagnosis-service/internal/config"
	"diagnosis-service/internal/expert"
	"diagnosis-service/internal/fusion"
	"diagnosis-service/internal/handlers"
	"diagnosis-service/internal/ingest"
	"diagnosis-service/internal/logging"
	"diagnosis-service/internal/metrics"
	"diagnosis-service/internal/models"
	"diagnosis-service/internal/stream"
)

// streamBuffer размер очереди websocket-рассылки
const streamBuffer = 256

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket stream and MQTT ingestion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting diagnosis service",
		zap.String("go_version", runtime.Version()),
		zap.Int("num_cpu", runtime.NumCPU()),
	)

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled {
		redisCache = connectRedis(ctx, cfg.Redis, logger)
	}

	// Нормализатор и базовые линии
	store := baseline.NewStore()
	condOpts := []condition.Option{
		condition.WithConditions(cfg.Conditions),
		condition.WithHistoryCapacity(cfg.History.Capacity),
	}
	if len(cfg.Signatures) > 0 {
		condOpts = append(condOpts, condition.WithSignatureProvider(condition.SignatureMap(cfg.Signatures)))
	}
	if redisCache != nil {
		condOpts = append(condOpts, condition.WithSnapshotter(redisCache))
	}
	normalizer, err := condition.New(store, cfg.Normalizer, logger, condOpts...)
	if err != nil {
		return err
	}
	if err := normalizer.RestoreBaselines(ctx); err != nil {
		logger.Warn("starting with empty baselines", zap.Error(err))
	}
	metrics.BaselinesStored.Set(float64(store.Len()))

	// Эксперты и движок слияния
	registry := expert.NewRegistry()
	if err := expert.RegisterDefaults(registry); err != nil {
		return err
	}

	hub := stream.NewHub(streamBuffer, logger)
	go hub.Run(ctx)

	engineOpts := []fusion.Option{
		fusion.WithStateSource(normalizer),
		fusion.WithHistoryCapacity(cfg.History.Capacity),
		fusion.WithObserver(fusion.ObserverFunc(func(rec models.HistoryRecord) {
			metrics.RecordDiagnosis(rec.Result)
		})),
		fusion.WithObserver(hub),
	}
	if redisCache != nil {
		engineOpts = append(engineOpts, fusion.WithObserver(mirrorObserver(redisCache, logger)))
	}
	engine, err := fusion.NewEngine(registry, cfg.Fusion, logger, engineOpts...)
	if err != nil {
		return err
	}
	logger.Info("fusion engine ready", zap.Int("experts", registry.Len()), zap.Strings("fault_types", engine.FaultTypes()))

	// Прием срезов из MQTT
	var (
		pool       *ingest.Pool
		subscriber *ingest.Subscriber
	)
	if cfg.MQTT.Enabled {
		pipeline := ingest.NewPipeline(normalizer, engine, hub)
		pool = ingest.NewPool(pipeline, cfg.MQTT.BufferSize, cfg.Fusion.ExpertTimeout*2, logger)
		pool.Start(cfg.MQTT.Workers)
		logger.Info("ingest pool started", zap.Int("workers", cfg.MQTT.Workers))

		subscriber = ingest.NewSubscriber(ingest.SubscriberConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, pool, logger)
		if err := subscriber.Connect(); err != nil {
			logger.Warn("mqtt unavailable, running without live ingestion", zap.Error(err))
			subscriber = nil
		}
	}

	// Маршруты
	router := mux.NewRouter()
	handler := handlers.NewHandler(normalizer, engine, registry, store, redisCache, logger)
	handler.Register(router)
	router.Handle("/ws", hub)
	router.Handle("/prometheus", promhttp.Handler())
	router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go updateMetricsLoop(ctx, store, pool)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Ожидаем сигнал завершения
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if subscriber != nil {
		subscriber.Disconnect()
	}
	if pool != nil {
		pool.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if redisCache != nil {
		redisCache.Close()
	}

	logger.Info("server stopped")
	return nil
}

// connectRedis подключается к Redis с повторами. При неудаче возвращает nil.
func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *cache.RedisCache {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		var redisCache *cache.RedisCache
		redisCache, err = cache.NewRedisCache(ctx, cfg.Addr, cfg.Password, cfg.DB)
		if err == nil {
			logger.Info("connected to redis", zap.String("addr", cfg.Addr))
			return redisCache
		}
		logger.Warn("redis connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(i+1) * time.Second):
			}
		}
	}

	logger.Warn("running without redis", zap.Error(err))
	return nil
}

// mirrorObserver зеркалирует каждую диагностику в Redis, не задерживая ответ
func mirrorObserver(redisCache *cache.RedisCache, logger *zap.Logger) fusion.Observer {
	return fusion.ObserverFunc(func(rec models.HistoryRecord) {
		go func() {
			if err := redisCache.MirrorWithTimeout(rec); err != nil {
				metrics.CacheErrors.Inc()
				logger.Warn("failed to mirror diagnosis", zap.String("request_id", rec.RequestID), zap.Error(err))
				return
			}
			metrics.CacheWrites.Inc()
		}()
	})
}

// updateMetricsLoop периодически обновляет метрики Prometheus
func updateMetricsLoop(ctx context.Context, store *baseline.Store, pool *ingest.Pool) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveGoroutines.Set(float64(runtime.NumGoroutine()))
			metrics.BaselinesStored.Set(float64(store.Len()))
			if pool != nil {
				metrics.IngestPending.Set(float64(pool.Pending()))
			}
		}
	}
}
