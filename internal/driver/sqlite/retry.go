package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"ex-feedsync/pkg/feed"
)

// retryConfig controls retries of transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  25 * time.Millisecond,
	maxDelay:   250 * time.Millisecond,
}

// isTransientSQLiteErr reports lock contention errors that busy_timeout does
// not absorb.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}

// retryOnContention runs fn, retrying transient errors with exponential
// backoff and jitter until ctx ends.
func retryOnContention(ctx context.Context, cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt == cfg.maxRetries {
			break
		}

		timer := time.NewTimer(backoffDelay(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// backoffDelay returns baseDelay * 2^attempt capped at maxDelay, plus up to
// baseDelay of jitter.
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	if cfg.baseDelay <= 0 {
		return delay
	}

	return delay + time.Duration(rand.Int64N(int64(cfg.baseDelay)))
}

// decodeError reports a stored column that could not be decoded.
type decodeError struct {
	field string
	id    string
	cause error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("decode %s of %s: %v", e.field, e.id, e.cause)
}

func (e *decodeError) Unwrap() error {
	return e.cause
}

// classifyError wraps err as a feed.FetchError.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	var decodeErr *decodeError
	switch {
	case errors.As(err, &decodeErr):
		return feed.NewFetchError(feed.FetchErrorDecode, op, err)
	case errors.Is(err, feed.ErrInvalidCursor):
		return feed.NewFetchError(feed.FetchErrorDecode, op, err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, driver.ErrBadConn),
		isTransientSQLiteErr(err):
		return feed.NewFetchError(feed.FetchErrorNetwork, op, err)
	default:
		return feed.NewFetchError(feed.FetchErrorServer, op, err)
	}
}
