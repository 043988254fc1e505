package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Multiplier grows the delay after each failed attempt. Values <= 1
	// keep the delay fixed at BaseDelay.
	Multiplier float64
	// Sleep defaults to a context-aware timer.
	Sleep SleepFunc
	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error, delay time.Duration)
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
	Multiplier:  2,
}

// FixedRetry retries up to attempts times with the same delay in between.
func FixedRetry(attempts int, delay time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Multiplier:  1,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// AttemptsError is returned by Retry once every attempt has failed.
type AttemptsError struct {
	Attempts int
	Err      error
}

func (e *AttemptsError) Error() string {
	return fmt.Sprintf("all %d attempts failed, last error: %v", e.Attempts, e.Err)
}

func (e *AttemptsError) Unwrap() error { return e.Err }

// Retry runs fn until it succeeds, returns a Permanent error, the context
// is cancelled, or MaxAttempts is reached. Attempts are numbered from 1.
func Retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}

		if cfg.Multiplier > 1 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}

	return &AttemptsError{Attempts: cfg.MaxAttempts, Err: lastErr}
}

// Do executes an HTTP request with retry. Transport errors and 5xx
// responses are retried; any other response is returned to the caller.
// The buildReq function is called on each attempt to produce a fresh request
// (required because request bodies are consumed on each attempt).
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var resp *http.Response
	err := Retry(ctx, cfg, func(attempt int) error {
		req, err := buildReq()
		if err != nil {
			return Permanent(fmt.Errorf("build request: %w", err))
		}

		r, err := client.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			r.Body.Close()
			return fmt.Errorf("HTTP %d: %s", r.StatusCode, string(body))
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
