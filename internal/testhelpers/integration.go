//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/caseworks/worksheet-service/internal/cache"
	"github.com/caseworks/worksheet-service/internal/client"
	"github.com/caseworks/worksheet-service/internal/observability"
	"github.com/caseworks/worksheet-service/internal/prompt"
	"github.com/caseworks/worksheet-service/internal/worksheet"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	BaseURL       string
	Model         string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if OPENROUTER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENROUTER_API_KEY not set, skipping integration test")
	}

	baseURL := os.Getenv("OPENROUTER_BASE_URL")
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	model := os.Getenv("OPENROUTER_MODEL")
	if model == "" {
		model = "deepseek/deepseek-r1-zero:free"
	}

	cacheBackend := os.Getenv("INTEGRATION_CACHE_BACKEND")
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:        apiKey,
		BaseURL:       baseURL,
		Model:         model,
		CacheBackend:  cacheBackend,
		MemcachedAddr: memcachedAddr,
	}
}

// SetupIntegrationService creates a fully configured service for integration tests.
// Returns worksheet service, cache instance, and cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*worksheet.Service, cache.Cache, func()) {
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	_ = logger // May be used later

	completionClient, err := client.NewOpenRouterClient(cfg.APIKey, cfg.BaseURL, cfg.Model, 90*time.Second)
	if err != nil {
		t.Fatalf("NewOpenRouterClient() error = %v", err)
	}

	var cacheSvc cache.Cache
	var cleanup func()

	if cfg.CacheBackend == "memcached" {
		memcachedCache, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour)
		if err == nil {
			cacheSvc = memcachedCache
			cleanup = func() { memcachedCache.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
			cacheSvc = cache.NewInMemoryCache()
			cleanup = func() {}
		}
	} else {
		cacheSvc = cache.NewInMemoryCache()
		cleanup = func() {}
	}

	prompts := prompt.Builder{Style: prompt.StyleSchema, Model: cfg.Model}
	worksheetService := worksheet.NewService(completionClient, cacheSvc, prompts, cfg.Model, 3, 5*time.Minute, time.Hour, true, 3*time.Minute)

	return worksheetService, cacheSvc, cleanup
}

// SetupIntegrationClient creates a completion client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) client.CompletionClient {
	client, err := client.NewOpenRouterClient(cfg.APIKey, cfg.BaseURL, cfg.Model, 90*time.Second)
	if err != nil {
		t.Fatalf("NewOpenRouterClient() error = %v", err)
	}
	return client
}

// ClearCache clears all entries from the cache for test cleanup.
func ClearCache(ctx context.Context, cacheSvc cache.Cache) {
	// Tests should use unique keys or reset cache between tests.
	_ = ctx
	_ = cacheSvc
}
