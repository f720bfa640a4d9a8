package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline exceeded", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled", context.Canceled, ErrorCategoryTimeout},
		{"invalid api key", fmt.Errorf("call: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"model not found", fmt.Errorf("call: %w", ErrModelNotFound), ErrorCategoryModelNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", fmt.Errorf("call: %w", ErrUpstreamFailure), ErrorCategoryUpstream5xx},
		{"empty completion", ErrEmptyCompletion, ErrorCategoryEmptyCompletion},
		{"network", errors.New("connection refused"), ErrorCategoryNetwork},
		{"timeout string", errors.New("request timeout after 5s"), ErrorCategoryTimeout},
		{"parse", errors.New("parse response: unexpected token"), ErrorCategoryParsing},
		{"cache", errors.New("cache write failed"), ErrorCategoryCache},
		{"unknown", errors.New("something odd"), ErrorCategoryUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CategorizeError(tc.err); got != tc.want {
				t.Fatalf("CategorizeError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
