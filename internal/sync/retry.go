package sync

import (
	"context"
	"errors"
	"log/slog"
)

// Invalidator discards a cached credential. Implemented by
// *graph.TokenProvider.
type Invalidator interface {
	Invalidate()
}

// permanentError marks a failure that a fresh credential cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so WithRetry does not retry it. Nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// WithRetry runs op. If it fails, the cached credential is invalidated and
// op runs exactly once more; the second result is returned whatever it is.
// Cancellation and permanent errors are returned without a retry.
func WithRetry[T any](ctx context.Context, inv Invalidator, logger *slog.Logger,
	op func(context.Context) (T, error),
) (T, error) {
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}

	if ctx.Err() != nil || IsPermanent(err) {
		return result, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Warn("operation failed, invalidating token and retrying once",
		slog.String("error", err.Error()),
	)

	inv.Invalidate()

	return op(ctx)
}
