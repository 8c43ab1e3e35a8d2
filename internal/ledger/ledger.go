// Package ledger tracks how many times usage-limited promotions have been
// committed and enforces their limits across concurrent checkouts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUsageExhausted is returned when a promotion reached its usage limit.
	ErrUsageExhausted = errors.New("ledger: usage limit reached")
	// ErrCommitConflict is returned when every compare-and-increment attempt lost a race.
	ErrCommitConflict = errors.New("ledger: too many concurrent commits")
	// ErrCommitTimeout is returned when the store did not answer in time.
	ErrCommitTimeout = errors.New("ledger: commit timed out")
	// ErrUnknownPromotion is returned by ports that hold no counter for a promotion.
	ErrUnknownPromotion = errors.New("ledger: unknown promotion")
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 2 * time.Second
)

// Usage is the persisted counter of one promotion. A zero Limit means unlimited.
type Usage struct {
	Count int
	Limit int
}

// Available reports whether one more use fits under the limit.
func (u Usage) Available() bool {
	return u.Limit == 0 || u.Count < u.Limit
}

// Port is the storage behind the ledger. CompareAndIncrement must increment
// the counter only if it still equals expectedCount, atomically.
type Port interface {
	Read(ctx context.Context, promotionID string) (Usage, error)
	CompareAndIncrement(ctx context.Context, promotionID string, expectedCount int) (bool, error)
}

// Registrar is implemented by ports that can create counters. Register keeps
// an existing count and only updates the limit.
type Registrar interface {
	Register(ctx context.Context, promotionID string, count, limit int) error
}

// Ledger commits promotion usage with optimistic concurrency control.
type Ledger struct {
	port        Port
	maxAttempts int
	timeout     time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxAttempts bounds the compare-and-increment retries of one commit.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

// WithTimeout bounds the wall time of one commit, retries included.
func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// New creates a ledger over port.
func New(port Port, opts ...Option) *Ledger {
	l := &Ledger{
		port:        port,
		maxAttempts: DefaultMaxAttempts,
		timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAvailable reports whether the promotion can be used once more
// according to the committed counter.
func (l *Ledger) CheckAvailable(ctx context.Context, promotionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	u, err := l.port.Read(ctx, promotionID)
	if err != nil {
		return false, l.wrap(ctx, promotionID, err)
	}
	return u.Available(), nil
}

// Commit consumes one use of the promotion. It fails closed: any error means
// the use was not recorded and the discount must not be granted.
func (l *Ledger) Commit(ctx context.Context, promotionID string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		u, err := l.port.Read(ctx, promotionID)
		if err != nil {
			return l.wrap(ctx, promotionID, err)
		}
		if !u.Available() {
			return fmt.Errorf("promotion %s: %w", promotionID, ErrUsageExhausted)
		}
		ok, err := l.port.CompareAndIncrement(ctx, promotionID, u.Count)
		if err != nil {
			return l.wrap(ctx, promotionID, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("promotion %s after %d attempts: %w", promotionID, l.maxAttempts, ErrCommitConflict)
}

func (l *Ledger) wrap(ctx context.Context, promotionID string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("promotion %s: %w: %v", promotionID, ErrCommitTimeout, err)
	}
	return fmt.Errorf("promotion %s: %w", promotionID, err)
}
