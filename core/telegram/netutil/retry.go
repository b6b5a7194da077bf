// Package netutil wraps Telegram API calls with a timeout budget and a single
// retry, and classifies transport errors for logs.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/m3rciful/botstarter/core/logger"
	"github.com/m3rciful/botstarter/core/metrics"
)

// ErrTransportTimeout is returned when a call did not finish within its budget.
var ErrTransportTimeout = errors.New("netutil: transport timeout")

// Default budget values.
const (
	DefaultTimeout  = 20 * time.Second
	DefaultIncrease = 20 * time.Second
	DefaultPause    = 2 * time.Second
)

// Policy bounds a call by Timeout. When the first attempt times out the call
// is repeated exactly once after Pause with a budget of Timeout+Increase.
// Errors that are not timeouts are returned unchanged. A zero Timeout
// disables the per-call budget; only timeouts reported by the HTTP client
// then trigger the retry.
type Policy struct {
	Timeout  time.Duration
	Increase time.Duration
	Pause    time.Duration
}

// DefaultPolicy returns the 20s/+20s/2s policy.
func DefaultPolicy() Policy {
	return Policy{Timeout: DefaultTimeout, Increase: DefaultIncrease, Pause: DefaultPause}
}

// Do runs fn under p.
func (p Policy) Do(ctx context.Context, op string, fn func() error) error {
	_, err := Call(ctx, p, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type result[T any] struct {
	val T
	err error
}

// Call runs fn under p and returns its value.
//
// An attempt that exceeds its budget is abandoned, not cancelled: telebot
// calls carry no context, so the goroutine finishes on its own and its
// result is discarded.
func Call[T any](ctx context.Context, p Policy, op string, fn func() (T, error)) (T, error) {
	val, err := attempt(ctx, p.Timeout, fn)
	if !IsTimeout(err) || ctx.Err() != nil {
		return val, err
	}

	logger.Warn(ctx, logger.CompTransport, "transport.retry",
		slog.String("op", op),
		slog.Duration("timeout", p.Timeout),
		slog.String("err_code", Classify(err)),
	)
	if p.Pause > 0 {
		t := time.NewTimer(p.Pause)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			var zero T
			return zero, ctx.Err()
		}
	}

	budget := p.Timeout
	if budget > 0 {
		budget += p.Increase
	}
	val, err = attempt(ctx, budget, fn)
	metrics.RecordRetry(op, err)
	return val, err
}

func attempt[T any](ctx context.Context, budget time.Duration, fn func() (T, error)) (T, error) {
	if budget <= 0 {
		return fn()
	}
	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		done <- result[T]{val: v, err: err}
	}()

	t := time.NewTimer(budget)
	defer t.Stop()
	var zero T
	select {
	case r := <-done:
		return r.val, r.err
	case <-t.C:
		return zero, fmt.Errorf("%w after %s", ErrTransportTimeout, budget)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// IsTimeout reports whether err is a budget timeout or a network timeout
// surfaced by the HTTP client.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransportTimeout) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}
