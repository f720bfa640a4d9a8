package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/caseworks/worksheet-service/internal/models"
	"github.com/caseworks/worksheet-service/internal/observability"
)

// WarmTarget names a worksheet to pre-generate at startup.
type WarmTarget struct {
	Subject    string `yaml:"subject"`
	Topic      string `yaml:"topic"`
	Difficulty string `yaml:"difficulty"`
}

// WorksheetFetcher is implemented by the generation layer. Used by CacheWarmer
// to avoid a circular dependency on the worksheet package.
type WorksheetFetcher interface {
	GetWorksheet(ctx context.Context, subject, topic, difficulty string) (models.Worksheet, error)
}

// CacheWarmer warms the cache by pre-generating a configured list of worksheets.
// Generation is slow and costs upstream tokens, so warming is bounded by the
// caller's context deadline.
type CacheWarmer struct {
	fetcher WorksheetFetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher WorksheetFetcher, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm generates each target concurrently and populates the cache via the fetcher.
// Returns an error if any target failed (aggregated).
func (w *CacheWarmer) Warm(ctx context.Context, targets []WarmTarget) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("targets", len(targets)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(targets))
	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.fetcher.GetWorksheet(ctx, t.Subject, t.Topic, t.Difficulty)
			if err != nil {
				errCh <- fmt.Errorf("warm %s/%s: %w", t.Subject, t.Topic, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete", zap.Int("targets", len(targets)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}

// WarmPeriodic refreshes the targets at the given interval until ctx is done.
// It does not warm immediately; the caller runs the startup Warm itself.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, targets []WarmTarget, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, targets); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
