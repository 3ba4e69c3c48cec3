// Package retry is the shared retry policy of the download and upload paths:
// a bounded number of attempts with a linearly increasing delay between them.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Policy holds the per-call-site retry parameters. The zero value retries
// DefaultMaxAttempts times with DefaultBaseDelay.
type Policy struct {
	MaxAttempts uint
	BaseDelay   time.Duration
}

// Do runs op until it succeeds, the attempt budget is exhausted or ctx is
// done. The delay before attempt n is n*BaseDelay. The last error is
// returned; op errors wrapped with backoff.Permanent stop retrying at once.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}

	delay := p.BaseDelay
	if delay == 0 {
		delay = DefaultBaseDelay
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{base: delay}, uint64(attempts-1)), ctx)

	return backoff.Retry(op, bo)
}

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// linearBackOff waits base, 2*base, 3*base, ...
type linearBackOff struct {
	base    time.Duration
	attempt int64
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.attempt++

	return time.Duration(l.attempt) * l.base
}

func (l *linearBackOff) Reset() {
	l.attempt = 0
}
