package worksheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caseworks/worksheet-service/internal/cache"
	"github.com/caseworks/worksheet-service/internal/client"
	"github.com/caseworks/worksheet-service/internal/models"
	"github.com/caseworks/worksheet-service/internal/observability"
	"github.com/caseworks/worksheet-service/internal/prompt"
	"github.com/caseworks/worksheet-service/internal/sanitize"
)

// ErrGenerationFailed wraps the final failure after the generation loop has
// used up all attempts.
var ErrGenerationFailed = errors.New("worksheet generation failed")

// Service orchestrates worksheet retrieval using cache-aside pattern with
// model-backed generation on miss. A generation attempt that yields
// unparseable output is re-asked up to the configured attempts.
type Service struct {
	client          client.CompletionClient
	cache           cache.Cache
	prompts         prompt.Builder
	model           string
	attempts        int
	ttl             time.Duration
	staleCacheTTL   time.Duration // Maximum age for stale cache fallback (0 = disabled)
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // Optional request coalescing (nil if disabled)
}

// NewService creates a Service. ttl is the cache freshness window;
// staleCacheTTL is the maximum age for stale fallback (0 = disabled);
// attempts is how many times a generation is re-asked on unusable output.
// coalesceEnabled and coalesceTimeout configure request coalescing.
func NewService(cc client.CompletionClient, c cache.Cache, prompts prompt.Builder, model string, attempts int, ttl, staleCacheTTL time.Duration, coalesceEnabled bool, coalesceTimeout time.Duration) *Service {
	if attempts <= 0 {
		attempts = 3
	}
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &Service{
		client:          cc,
		cache:           c,
		prompts:         prompts,
		model:           model,
		attempts:        attempts,
		ttl:             ttl,
		staleCacheTTL:   staleCacheTTL,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// GetWorksheet retrieves a worksheet for subject/topic/difficulty using
// cache-aside: cache hit returns immediately, miss triggers generation and
// populates the cache. When generation fails and stale fallback is enabled,
// an expired cached worksheet within staleCacheTTL is served with Stale set.
func (s *Service) GetWorksheet(ctx context.Context, subject, topic, difficulty string) (models.Worksheet, error) {
	key := Key(subject, topic, difficulty)
	start := time.Now()
	logger := loggerFromContext(ctx)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("worksheet").Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("key", key))
			logger.Debug("worksheet served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	concurrentMisses := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)
	subjLabel := observability.MetricSubjectLabel(subject)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(subjLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(subjLabel).Observe(float64(concurrentMisses))
	}

	if logger != nil {
		logger.Debug("cache miss, generating", zap.String("key", key))
	}

	// Use coalescer if enabled to prevent concurrent generations for same key
	var data models.Worksheet
	var genErr error
	if s.coalescer != nil {
		coalesceStart := time.Now()
		data, genErr = s.coalescer.GetOrDo(ctx, key, func() (models.Worksheet, error) {
			return s.generate(ctx, subject, topic, difficulty)
		})
		coalesceWait := time.Since(coalesceStart)
		if genErr == nil {
			// Check if we waited (coalesced) vs initiated the generation.
			// If wait time > 0, we likely coalesced (approximate).
			if coalesceWait > 10*time.Millisecond {
				observability.RequestCoalescingHitsTotal.WithLabelValues(subjLabel).Inc()
			}
			observability.RequestCoalescingWaitSeconds.Observe(coalesceWait.Seconds())
		}
	} else {
		data, genErr = s.generate(ctx, subject, topic, difficulty)
	}
	if genErr != nil {
		// Generation failed - try stale cache if enabled
		if s.staleCacheTTL > 0 {
			stale, ok, staleErr := s.cache.GetStale(ctx, key, s.staleCacheTTL)
			if staleErr == nil && ok {
				staleAge := time.Since(stale.GeneratedAt)
				observability.StaleCacheServesTotal.WithLabelValues(subjLabel).Inc()
				observability.StaleCacheAgeSeconds.Observe(staleAge.Seconds())
				stale.Stale = true
				if logger != nil {
					logger.Info("serving stale worksheet", zap.String("key", key), zap.Duration("age", staleAge))
				}
				return stale, nil
			}
		}
		return models.Worksheet{}, fmt.Errorf("generate worksheet for %s: %w", key, genErr)
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		if logger != nil {
			logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	if logger != nil {
		logger.Debug("worksheet served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	}
	return data, nil
}

// generate runs the prompt -> complete -> sanitize -> parse loop. Parse and
// structure failures are re-asked; upstream failures abort immediately since
// the client already retried transport-level errors.
func (s *Service) generate(ctx context.Context, subject, topic, difficulty string) (models.Worksheet, error) {
	logger := loggerFromContext(ctx)
	user := s.prompts.Build(prompt.Request{Subject: subject, Topic: topic, Difficulty: difficulty})

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		observability.GenerationAttemptsTotal.Inc()

		raw, err := s.client.Complete(ctx, prompt.SystemPrompt, user)
		if err != nil {
			observability.GenerationFailuresTotal.WithLabelValues("upstream").Inc()
			return models.Worksheet{}, err
		}

		cleaned, repairs := sanitize.Clean(raw)
		for _, r := range repairs {
			observability.SanitizerRepairsTotal.WithLabelValues(string(r)).Inc()
		}

		ws, err := Parse(cleaned, subject, topic, difficulty, s.model)
		if err == nil {
			return ws, nil
		}

		lastErr = err
		reason := "parse"
		if errors.Is(err, ErrWrongCount) || errors.Is(err, ErrBlankElement) {
			reason = "structure"
		}
		observability.GenerationFailuresTotal.WithLabelValues(reason).Inc()
		if logger != nil {
			logger.Warn("unusable completion, re-asking",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.attempts),
				zap.String("reason", reason),
				zap.Error(err))
		}
	}

	return models.Worksheet{}, fmt.Errorf("%w after %d attempts: %v", ErrGenerationFailed, s.attempts, lastErr)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// Key builds the normalized cache key for a worksheet request: lowercase,
// trimmed, inner whitespace collapsed, fields joined with "|".
func Key(subject, topic, difficulty string) string {
	return normalizeField(subject) + "|" + normalizeField(topic) + "|" + normalizeField(difficulty)
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
