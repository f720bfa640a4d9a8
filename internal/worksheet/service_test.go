package worksheet

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caseworks/worksheet-service/internal/models"
	"github.com/caseworks/worksheet-service/internal/prompt"
)

type mockCompletionClient struct {
	completions []string // consumed in order; last one repeats
	calls       int
	err         error
	validateErr error
}

func (m *mockCompletionClient) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if len(m.completions) == 0 {
		return "", errors.New("no completion configured")
	}
	i := m.calls - 1
	if i >= len(m.completions) {
		i = len(m.completions) - 1
	}
	return m.completions[i], nil
}

func (m *mockCompletionClient) ValidateAPIKey(ctx context.Context) error {
	return m.validateErr
}

type mockCache struct {
	data      map[string]models.Worksheet
	staleData map[string]models.Worksheet // Expired but available for stale retrieval
	err       error
}

func (m *mockCache) Get(ctx context.Context, key string) (models.Worksheet, bool, error) {
	if m.err != nil {
		return models.Worksheet{}, false, m.err
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.Worksheet, bool, error) {
	if m.err != nil {
		return models.Worksheet{}, false, m.err
	}
	if m.staleData != nil {
		if stale, ok := m.staleData[key]; ok {
			if time.Since(stale.GeneratedAt) <= maxStaleAge {
				return stale, true, nil
			}
		}
	}
	return m.Get(ctx, key)
}

func (m *mockCache) Set(ctx context.Context, key string, value models.Worksheet, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string]models.Worksheet)
	}
	m.data[key] = value
	return nil
}

func newTestService(cc *mockCompletionClient, c *mockCache, staleTTL time.Duration) *Service {
	return NewService(cc, c, prompt.Builder{Style: prompt.StyleSchema, Model: "test-model"},
		"test-model", 3, 5*time.Minute, staleTTL, false, 0)
}

// TestKey verifies key normalization: lowercase, trimmed, inner whitespace collapsed.
func TestKey(t *testing.T) {
	tests := []struct {
		name                       string
		subject, topic, difficulty string
		want                       string
	}{
		{
			name:    "trim and lower",
			subject: " Math ", topic: "Fractions", difficulty: "Elementary",
			want: "math|fractions|elementary",
		},
		{
			name:    "collapse inner whitespace",
			subject: "math", topic: "linear   equations", difficulty: "",
			want: "math|linear equations|",
		},
		{
			name:    "already normalized",
			subject: "science", topic: "photosynthesis", difficulty: "middle",
			want: "science|photosynthesis|middle",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Key(tc.subject, tc.topic, tc.difficulty)
			if got != tc.want {
				t.Fatalf("Key() = %q, want %q", got, tc.want)
			}
		})
	}
}

// TestService_GetWorksheet_CacheHit verifies that a cached worksheet is
// returned without calling the completion client.
func TestService_GetWorksheet_CacheHit(t *testing.T) {
	cached := models.Worksheet{
		Subject:     "math",
		Topic:       "fractions",
		Title:       "Fractions Practice",
		GeneratedAt: time.Now(),
	}
	mc := &mockCache{
		data: map[string]models.Worksheet{
			"math|fractions|": cached,
		},
	}
	cc := &mockCompletionClient{}
	svc := newTestService(cc, mc, 0)

	got, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err != nil {
		t.Fatalf("GetWorksheet() error = %v, want nil", err)
	}
	if got.Title != cached.Title {
		t.Errorf("GetWorksheet().Title = %q, want %q", got.Title, cached.Title)
	}
	if cc.calls != 0 {
		t.Errorf("completion client called %d times on cache hit, want 0", cc.calls)
	}
}

// TestService_GetWorksheet_CacheMiss_GenerationSuccess verifies that a miss
// triggers generation and the result is written back to the cache.
func TestService_GetWorksheet_CacheMiss_GenerationSuccess(t *testing.T) {
	cc := &mockCompletionClient{completions: []string{validPayload}}
	mc := &mockCache{data: make(map[string]models.Worksheet)}
	svc := newTestService(cc, mc, 0)

	got, err := svc.GetWorksheet(context.Background(), "math", "fractions", "elementary")
	if err != nil {
		t.Fatalf("GetWorksheet() error = %v, want nil", err)
	}
	if got.Title != "Fractions Practice" {
		t.Errorf("GetWorksheet().Title = %q, want %q", got.Title, "Fractions Practice")
	}

	cached, ok, _ := mc.Get(context.Background(), "math|fractions|elementary")
	if !ok {
		t.Error("Cache was not populated after generation")
	}
	if cached.Title != got.Title {
		t.Errorf("Cached title = %q, want %q", cached.Title, got.Title)
	}
}

// TestService_GetWorksheet_ReasksOnBadOutput verifies that unparseable model
// output is re-asked and a later good completion is accepted.
func TestService_GetWorksheet_ReasksOnBadOutput(t *testing.T) {
	cc := &mockCompletionClient{completions: []string{
		"Sure, here is your worksheet!",
		`{"worksheet":["only","three","elements"]}`,
		validPayload,
	}}
	mc := &mockCache{data: make(map[string]models.Worksheet)}
	svc := newTestService(cc, mc, 0)

	got, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err != nil {
		t.Fatalf("GetWorksheet() error = %v, want nil after re-ask", err)
	}
	if cc.calls != 3 {
		t.Errorf("completion calls = %d, want 3", cc.calls)
	}
	if got.Title != "Fractions Practice" {
		t.Errorf("GetWorksheet().Title = %q, want %q", got.Title, "Fractions Practice")
	}
}

// TestService_GetWorksheet_AttemptsExhausted verifies that persistently bad
// output fails with ErrGenerationFailed after the configured attempts.
func TestService_GetWorksheet_AttemptsExhausted(t *testing.T) {
	cc := &mockCompletionClient{completions: []string{"not json at all"}}
	mc := &mockCache{data: make(map[string]models.Worksheet)}
	svc := newTestService(cc, mc, 0)

	_, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err == nil {
		t.Fatal("GetWorksheet() error = nil, want error")
	}
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("GetWorksheet() error = %v, want ErrGenerationFailed", err)
	}
	if cc.calls != 3 {
		t.Errorf("completion calls = %d, want 3", cc.calls)
	}
}

// TestService_GetWorksheet_UpstreamFailureAborts verifies that an upstream
// client error aborts the generation loop without re-asking.
func TestService_GetWorksheet_UpstreamFailureAborts(t *testing.T) {
	cc := &mockCompletionClient{err: errors.New("upstream error")}
	mc := &mockCache{data: make(map[string]models.Worksheet)}
	svc := newTestService(cc, mc, 0)

	_, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err == nil {
		t.Fatal("GetWorksheet() error = nil, want error")
	}
	if cc.calls != 1 {
		t.Errorf("completion calls = %d, want 1 (no re-ask on upstream failure)", cc.calls)
	}
}

// TestService_GetWorksheet_CacheGetError verifies that a cache read failure
// falls through to generation rather than failing the request.
func TestService_GetWorksheet_CacheGetError(t *testing.T) {
	cc := &mockCompletionClient{completions: []string{validPayload}}
	mc := &mockCache{err: errors.New("cache error")}
	svc := newTestService(cc, mc, 0)

	got, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err != nil {
		t.Fatalf("GetWorksheet() error = %v, want nil (should fall back to generation)", err)
	}
	if got.Title != "Fractions Practice" {
		t.Errorf("GetWorksheet().Title = %q", got.Title)
	}
}

// TestService_GetWorksheet_StaleFallback verifies that an expired cached
// worksheet within staleCacheTTL is served with Stale set when generation fails.
func TestService_GetWorksheet_StaleFallback(t *testing.T) {
	stale := models.Worksheet{
		Subject:     "math",
		Topic:       "fractions",
		Title:       "Old Fractions Practice",
		GeneratedAt: time.Now().Add(-30 * time.Minute),
	}
	mc := &mockCache{
		staleData: map[string]models.Worksheet{
			"math|fractions|": stale,
		},
	}
	cc := &mockCompletionClient{err: errors.New("upstream failure")}
	svc := newTestService(cc, mc, time.Hour)

	got, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err != nil {
		t.Fatalf("GetWorksheet() error = %v, want nil (stale served)", err)
	}
	if !got.Stale {
		t.Error("GetWorksheet().Stale = false, want true")
	}
	if got.Title != stale.Title {
		t.Errorf("GetWorksheet().Title = %q, want %q", got.Title, stale.Title)
	}
}

// TestService_GetWorksheet_StaleDisabled verifies that stale fallback is not
// used when staleCacheTTL is zero.
func TestService_GetWorksheet_StaleDisabled(t *testing.T) {
	stale := models.Worksheet{
		Title:       "Old Fractions Practice",
		GeneratedAt: time.Now().Add(-30 * time.Minute),
	}
	mc := &mockCache{
		staleData: map[string]models.Worksheet{
			"math|fractions|": stale,
		},
	}
	cc := &mockCompletionClient{err: errors.New("upstream failure")}
	svc := newTestService(cc, mc, 0)

	_, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err == nil {
		t.Fatal("GetWorksheet() error = nil, want error (stale disabled)")
	}
}

// TestService_GetWorksheet_SanitizedOutput verifies that typical model noise
// (\boxed{, markdown fences, trailing commas) is repaired before parsing.
func TestService_GetWorksheet_SanitizedOutput(t *testing.T) {
	noisy := "```json\n\\boxed{" + validPayload[1:len(validPayload)-1] + ",}\n```"
	cc := &mockCompletionClient{completions: []string{noisy}}
	mc := &mockCache{data: make(map[string]models.Worksheet)}
	svc := newTestService(cc, mc, 0)

	got, err := svc.GetWorksheet(context.Background(), "math", "fractions", "")
	if err != nil {
		t.Fatalf("GetWorksheet() error = %v, want nil for noisy output", err)
	}
	if got.Title != "Fractions Practice" {
		t.Errorf("GetWorksheet().Title = %q", got.Title)
	}
	if cc.calls != 1 {
		t.Errorf("completion calls = %d, want 1 (sanitizer should repair)", cc.calls)
	}
}

func TestCategorizeCacheError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "unknown"},
		{"timeout", errors.New("i/o timeout"), "timeout"},
		{"connection", errors.New("connection refused"), "connection"},
		{"other", errors.New("something else"), "unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := categorizeCacheError(tc.err); got != tc.want {
				t.Fatalf("categorizeCacheError() = %q, want %q", got, tc.want)
			}
		})
	}
}
