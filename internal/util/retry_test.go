package util

import (
	"context"
	"errors"
	"testing"
)

var errTransient = errors.New("transient")

func TestRetryWithContext(t *testing.T) {
	tests := []struct {
		name      string
		maxTries  int
		failFirst int
		want      int
		wantCalls int
		wantErr   bool
	}{
		{name: "success immediate", maxTries: 3, failFirst: 0, want: 42, wantCalls: 1},
		{name: "success after retries", maxTries: 3, failFirst: 2, want: 42, wantCalls: 3},
		{name: "persistent failure", maxTries: 3, failFirst: 10, wantCalls: 3, wantErr: true},
		{name: "zero tries runs once", maxTries: 0, failFirst: 10, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			got, err := RetryWithContext(context.Background(), tt.maxTries, func(context.Context) (int, error) {
				calls++
				if calls <= tt.failFirst {
					return 0, errTransient
				}
				return 42, nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr && !errors.Is(err, errTransient) {
				t.Fatalf("expected last error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
			if calls != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, calls)
			}
		})
	}
}

func TestRetryWithContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithContext(ctx, 3, func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}

func TestRetryWithContext_StopsOnContextError(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 5, func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errTransient
		}
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryIf(t *testing.T) {
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errTransient) }

	calls := 0
	_, err := RetryIf(context.Background(), 5, retryable, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "", errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
