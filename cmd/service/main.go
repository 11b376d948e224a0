package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cityweather/weather-lookup/internal/cache"
	"github.com/cityweather/weather-lookup/internal/client"
	"github.com/cityweather/weather-lookup/internal/config"
	"github.com/cityweather/weather-lookup/internal/history"
	httphandler "github.com/cityweather/weather-lookup/internal/http"
	"github.com/cityweather/weather-lookup/internal/location"
	"github.com/cityweather/weather-lookup/internal/observability"
	"github.com/cityweather/weather-lookup/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var cachePing func() error
	var cacheClose func() error
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		cacheSvc = mc
		cachePing = mc.Ping
		cacheClose = mc.Close
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 5*time.Second)
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		cacheSvc = rc
		cachePing = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return rc.Ping(ctx)
		}
		cacheClose = rc.Close
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	// The client reads zero retries as "use the default", so an explicit
	// zero from config becomes the negative disable value.
	retries := cfg.Retries
	if retries == 0 {
		retries = -1
	}
	fetcher, err := client.New(cfg.WeatherAPIKey, cfg.WeatherAPIBaseURL, cacheSvc, client.Options{
		CacheTTL:           cfg.CacheTTL,
		AttemptTimeout:     cfg.AttemptTimeout,
		Retries:            retries,
		MinRequestInterval: cfg.MinRequestInterval,
		Logger:             logger,
	})
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	// Server deployments have no device positioning hardware, so the resolver
	// goes straight to the IP fallback via the unavailable sensor.
	resolver := location.NewResolver(
		location.UnavailableSensor(),
		location.NewHTTPIPLocator(cfg.IPLookupURL, cfg.IPLookupTimeout),
		location.Options{
			HighAccuracyTimeout: cfg.HighAccuracyTimeout,
			LowAccuracyTimeout:  cfg.LowAccuracyTimeout,
			LowAccuracyMaxAge:   cfg.LowAccuracyMaxAge,
			Logger:              logger,
		},
	)

	var store history.Store
	switch cfg.HistoryBackend {
	case "file":
		fs, err := history.NewFileStore(cfg.HistoryDir)
		if err != nil {
			logger.Fatal("history file store", zap.Error(err))
		}
		store = fs
		logger.Info("history backend: file", zap.String("dir", cfg.HistoryDir))
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("history redis store", zap.Error(err))
		}
		store = history.NewRedisStore(rdb)
		logger.Info("history backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		store = history.NewMemoryStore()
		logger.Info("history backend: memory")
	}

	weatherService := service.New(fetcher, resolver, history.New(store, logger), logger)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
		CachePing:              cachePing,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, healthConfig, logger, cfg.CityMinLength, cfg.CityMaxLength)

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	lookupRouter := router.PathPrefix("").Subrouter()
	lookupRouter.Use(httphandler.RateLimitMiddleware(limiter))
	lookupRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	lookupRouter.HandleFunc("/weather", handler.GetWeatherByCoordinate).Methods("GET").Queries("lat", "{lat}", "lon", "{lon}")
	lookupRouter.HandleFunc("/weather/{city}", handler.GetWeatherByCity).Methods("GET")
	lookupRouter.HandleFunc("/locate", handler.GetWeatherByDeviceLocation).Methods("GET")
	lookupRouter.HandleFunc("/searches/recent", handler.GetRecentSearches).Methods("GET")
	lookupRouter.HandleFunc("/preferences/unit", handler.GetUnitPreference).Methods("GET")
	lookupRouter.HandleFunc("/preferences/unit", handler.PutUnitPreference).Methods("PUT")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	httphandler.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	if inFlight > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
		waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := httphandler.WaitForInFlight(waitCtx, 100*time.Millisecond); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
		waitCancel()
	}

	if cacheClose != nil {
		if err := cacheClose(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
