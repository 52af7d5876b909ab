package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/loongquant/loong/internal/interfaces"
)

// Call invokes fn against each provider in order until one returns a
// usable result. Transient, rate-limited, unsupported and permanent
// failures advance to the next provider; not-found is a valid empty result
// and stops the chain. Outcomes are fed to the health monitor when one is
// supplied. Returns the winning provider's name alongside the value.
func Call[T any](ctx context.Context, order []interfaces.Provider, health interfaces.HealthMonitor, op string, fn func(context.Context, interfaces.Provider) (T, error)) (T, string, error) {
	var zero T
	var lastErr error

	for _, p := range order {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}

		start := time.Now()
		result, err := fn(ctx, p)
		if err == nil {
			if health != nil {
				health.RecordSuccess(p.Name(), time.Since(start))
			}
			return result, p.Name(), nil
		}

		switch KindOf(err) {
		case KindNotFound:
			// Valid empty result; the chain stops here.
			return zero, p.Name(), err
		case KindUnsupported:
			// Capability missing is not a health event.
		default:
			if health != nil {
				health.RecordFailure(p.Name(), err)
			}
		}
		lastErr = err
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%s: no providers available", op)
	}
	return zero, "", lastErr
}

// WithRetry runs fn up to attempts times with exponential backoff
// (1s, 2s, 4s), retrying only transport-class failures. Adapters wrap
// their raw HTTP calls with it.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 3
	}

	var err error
	delay := time.Second
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
