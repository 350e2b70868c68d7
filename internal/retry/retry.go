// Package retry implements the single backoff helper that
// internal/imapconn wraps its IMAP operations in. The OAuth HTTP calls
// in internal/oauth2engine do not go through it.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// Classifier decides whether an error is worth retrying.
type Classifier func(error) bool

// Options tunes Do. Zero-value Options fall back to spec.md §4.C2's
// defaults: 3 attempts, 1s base, 30s cap, up to 1s jitter.
type Options struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Jitter      time.Duration
	IsTransient Classifier
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Base <= 0 {
		o.Base = time.Second
	}
	if o.Cap <= 0 {
		o.Cap = 30 * time.Second
	}
	if o.Jitter <= 0 {
		o.Jitter = time.Second
	}
	if o.IsTransient == nil {
		o.IsTransient = IsTransient
	}
	return o
}

// Do runs op, retrying up to opts.MaxAttempts times with exponential
// backoff while opts.IsTransient(err) is true. Non-transient errors
// fail on the first attempt. ctx cancellation aborts the wait.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !opts.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == opts.MaxAttempts {
			break
		}

		wait := backoff(opts, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}

func backoff(opts Options, attempt int) time.Duration {
	d := opts.Base * time.Duration(1<<uint(attempt-1))
	if d > opts.Cap {
		d = opts.Cap
	}
	if opts.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(opts.Jitter) + 1))
	}
	return d
}

// IsTransient matches the transient-error set from spec.md §4.C2:
// timeouts, connection reset/refused, DNS failures, host unreachable,
// and the "socket hang up" text some IMAP servers close with.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection reset",
		"connection refused",
		"socket hang up",
		"broken pipe",
		"no route to host",
		"timeout",
		"i/o timeout",
		"eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
