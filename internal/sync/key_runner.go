package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
)

// KeyOutcome is the result of one scope key in a pass. Err is nil on
// success, in which case Token holds the checkpoint that was written.
type KeyOutcome struct {
	Key      string
	Emitted  int
	Seeded   int
	Token    string
	Duration time.Duration
	Err      error
	Trace    string // error chain, plus the goroutine stack for panics
}

// runKey executes fn with panic recovery so a bug in one key cannot take
// down the rest of the pass.
func runKey(ctx context.Context, key string, fn func(context.Context) (KeyOutcome, error)) (result KeyOutcome) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			result = KeyOutcome{
				Key: key,
				Err: fmt.Errorf("panic in scope %s: %v", key, r),
			}
			result.Trace = errorTrace(result.Err) + "\n\n" + string(debug.Stack())
		}

		result.Duration = time.Since(start)
	}()

	out, err := fn(ctx)
	out.Key = key

	if err != nil {
		out.Err = err
		out.Trace = errorTrace(err)
	}

	return out
}

// errorTrace renders the wrap chain of err, outermost first.
func errorTrace(err error) string {
	var b strings.Builder

	writeChain(&b, err, 0)

	return strings.TrimRight(b.String(), "\n")
}

func writeChain(b *strings.Builder, err error, depth int) {
	for err != nil {
		if depth > 0 {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("caused by: ")
		}

		fmt.Fprintf(b, "%T: %s\n", err, err.Error())

		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, e := range joined.Unwrap() {
				writeChain(b, e, depth+1)
			}

			return
		}

		err = errors.Unwrap(err)
		depth++
	}
}
