package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 250*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 250ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 5*time.Second {
		t.Errorf("MaxBackoff = %v, want 5s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
	if !config.Enabled() {
		t.Error("default config should be enabled")
	}
	if (RetryConfig{MaxAttempts: 1}).Enabled() {
		t.Error("single attempt config should not be enabled")
	}
}

func TestRetry_SuccessAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return &UpstreamError{Kind: KindStatus, StatusCode: 503}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_NonRetryableReturnsImmediately(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(5), func(ctx context.Context) error {
		attempts++
		return &UpstreamError{Kind: KindStatus, StatusCode: 404}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != 404 {
		t.Errorf("expected 404 UpstreamError, got %v", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("non-retryable error must not report exhaustion")
	}
}

func TestRetry_Exhausted(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(3), func(ctx context.Context) error {
		attempts++
		return &UpstreamError{Kind: KindNetwork, Message: "connection refused"}
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("expected ErrRetryExhausted, got %v", err)
	}

	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Kind != KindNetwork {
		t.Errorf("expected wrapped network error, got %v", err)
	}
}

func TestRetry_SingleAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetryConfig(1), func(ctx context.Context) error {
		attempts++
		return &UpstreamError{Kind: KindStatus, StatusCode: 500}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("single attempt must return the upstream error as is")
	}
}

func TestRetry_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	config := RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 1,
	}

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, config, func(ctx context.Context) error {
			attempts++
			return &UpstreamError{Kind: KindStatus, StatusCode: 502}
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		var ue *UpstreamError
		if !errors.As(err, &ue) || ue.Kind != KindCanceled {
			t.Errorf("expected canceled error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Retry did not return after cancellation")
	}

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}
