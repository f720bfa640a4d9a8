package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/caseworks/worksheet-service/internal/models"
)

type mockFetcher struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
}

func (m *mockFetcher) GetWorksheet(ctx context.Context, subject, topic, difficulty string) (models.Worksheet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subject + "/" + topic
	m.calls = append(m.calls, key)
	if err, ok := m.failFor[key]; ok {
		return models.Worksheet{}, err
	}
	return models.Worksheet{Subject: subject, Topic: topic, Title: topic + " worksheet"}, nil
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// TestCacheWarmer_Warm verifies all targets are fetched and no error is
// returned when every generation succeeds.
func TestCacheWarmer_Warm(t *testing.T) {
	fetcher := &mockFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	targets := []WarmTarget{
		{Subject: "math", Topic: "fractions", Difficulty: "elementary"},
		{Subject: "science", Topic: "photosynthesis", Difficulty: "middle"},
		{Subject: "history", Topic: "the roman empire"},
	}
	if err := warmer.Warm(context.Background(), targets); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if got := fetcher.callCount(); got != 3 {
		t.Errorf("fetcher calls = %d, want 3", got)
	}
}

// TestCacheWarmer_Warm_PartialFailure verifies an error is returned when some
// targets fail but all targets are still attempted.
func TestCacheWarmer_Warm_PartialFailure(t *testing.T) {
	fetcher := &mockFetcher{
		failFor: map[string]error{
			"science/photosynthesis": errors.New("generation failed"),
		},
	}
	warmer := NewCacheWarmer(fetcher, nil)

	targets := []WarmTarget{
		{Subject: "math", Topic: "fractions"},
		{Subject: "science", Topic: "photosynthesis"},
	}
	err := warmer.Warm(context.Background(), targets)
	if err == nil {
		t.Fatal("Warm() error = nil, want error for failed target")
	}
	if got := fetcher.callCount(); got != 2 {
		t.Errorf("fetcher calls = %d, want 2 (all targets attempted)", got)
	}
}

// TestCacheWarmer_WarmPeriodic verifies periodic warming refreshes targets
// until the context is cancelled.
func TestCacheWarmer_WarmPeriodic(t *testing.T) {
	fetcher := &mockFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- warmer.WarmPeriodic(ctx, []WarmTarget{{Subject: "math", Topic: "fractions"}}, 20*time.Millisecond)
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WarmPeriodic() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WarmPeriodic() did not stop after cancel")
	}

	// At least two periodic refreshes within the window.
	if got := fetcher.callCount(); got < 2 {
		t.Errorf("fetcher calls = %d, want >= 2", got)
	}
}

// TestCacheWarmer_WarmPeriodic_NoImmediateWarm verifies the periodic loop waits
// for the first tick instead of re-running the startup warm, which would
// double-count warming metrics when the caller already warmed once.
func TestCacheWarmer_WarmPeriodic_NoImmediateWarm(t *testing.T) {
	fetcher := &mockFetcher{}
	warmer := NewCacheWarmer(fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- warmer.WarmPeriodic(ctx, []WarmTarget{{Subject: "math", Topic: "fractions"}}, time.Hour)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WarmPeriodic() did not stop after cancel")
	}

	if got := fetcher.callCount(); got != 0 {
		t.Errorf("fetcher calls before first tick = %d, want 0", got)
	}
}
