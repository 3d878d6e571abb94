package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Retrier re-runs an operation while it fails with a transient error,
// sleeping Delay*attempt between tries.
type Retrier struct {
	Attempts  int
	Delay     time.Duration
	Transient func(error) bool
}

// Do runs fn at most Attempts times. Non-transient errors and context
// cancellation return immediately.
func (r Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if r.Transient == nil || !r.Transient(err) || i == attempts {
			return err
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", i).Msg("transient store error, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.Delay * time.Duration(i)):
		}
	}
	return err
}
