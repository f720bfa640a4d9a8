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
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/caseworks/worksheet-service/internal/cache"
	"github.com/caseworks/worksheet-service/internal/circuitbreaker"
	"github.com/caseworks/worksheet-service/internal/client"
	"github.com/caseworks/worksheet-service/internal/config"
	"github.com/caseworks/worksheet-service/internal/degraded"
	httphandler "github.com/caseworks/worksheet-service/internal/http"
	"github.com/caseworks/worksheet-service/internal/lifecycle"
	"github.com/caseworks/worksheet-service/internal/observability"
	"github.com/caseworks/worksheet-service/internal/prompt"
	"github.com/caseworks/worksheet-service/internal/render"
	"github.com/caseworks/worksheet-service/internal/worksheet"
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

	completionClient, err := client.NewOpenRouterClientWithRetry(
		cfg.OpenRouterAPIKey,
		cfg.OpenRouterBaseURL,
		cfg.OpenRouterModel,
		cfg.OpenRouterTimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("openrouter client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "openrouter",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("openrouter", from.String(), to.String())
				observability.SetCircuitBreakerStateGauge("openrouter", observability.CircuitBreakerStateValue(int(to)))
			},
		})
		completionClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("openrouter", 0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	style, err := prompt.ParseStyle(cfg.PromptStyle)
	if err != nil {
		logger.Fatal("prompt style", zap.Error(err))
	}
	prompts := prompt.Builder{Style: style, Model: cfg.OpenRouterModel}
	worksheetService := worksheet.NewService(
		completionClient, cacheSvc, prompts,
		cfg.OpenRouterModel, cfg.GenerationAttempts,
		cfg.CacheTTL, cfg.StaleCacheTTL,
		cfg.CoalesceEnabled, cfg.CoalesceTimeout,
	)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		DegradedRetryInitial:   cfg.DegradedRetryInitial,
		DegradedRetryMax:       cfg.DegradedRetryMax,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	validationConfig := httphandler.ValidationConfig{
		SubjectMinLength: cfg.SubjectMinLength,
		SubjectMaxLength: cfg.SubjectMaxLength,
		TopicMinLength:   cfg.TopicMinLength,
		TopicMaxLength:   cfg.TopicMaxLength,
	}
	renderer := render.NewPDFRenderer(render.DefaultConfig())
	handler := httphandler.NewHandler(worksheetService, completionClient, renderer, healthConfig, validationConfig, logger, limiter)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	if len(cfg.TrackedSubjects) > 0 {
		observability.SetTrackedSubjects(cfg.TrackedSubjects)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	degraded.StartRecoveryListener(rootCtx, completionClient.ValidateAPIKey, cfg.DegradedRetryInitial, cfg.DegradedRetryMax, func() {
		logger.Error("recovery attempts exhausted; marking service as shutting down")
		lifecycle.SetShuttingDown(true)
	})

	if cfg.WarmCache && len(cfg.WarmTargets) > 0 {
		targets := make([]cache.WarmTarget, 0, len(cfg.WarmTargets))
		for _, t := range cfg.WarmTargets {
			targets = append(targets, cache.WarmTarget{Subject: t.Subject, Topic: t.Topic, Difficulty: t.Difficulty})
		}
		warmer := cache.NewCacheWarmer(worksheetService, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 10*time.Minute)
		if err := warmer.Warm(warmCtx, targets); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), targets, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	worksheetRouter := router.PathPrefix("/worksheets").Subrouter()
	worksheetRouter.Use(httphandler.RateLimitMiddleware(limiter))
	worksheetRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	worksheetRouter.HandleFunc("", handler.PostWorksheet).Methods("POST")
	worksheetRouter.HandleFunc("/{subject}/{topic}", handler.GetWorksheet).Methods("GET")

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods("GET")
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods("POST")
	}

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

	<-rootCtx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
