package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunKey_Success(t *testing.T) {
	out := runKey(context.Background(), "O365_folders|u1", func(context.Context) (KeyOutcome, error) {
		return KeyOutcome{Emitted: 3, Seeded: 2, Token: "tok"}, nil
	})

	assert.Equal(t, "O365_folders|u1", out.Key)
	assert.NoError(t, out.Err)
	assert.Equal(t, 3, out.Emitted)
	assert.Equal(t, "tok", out.Token)
	assert.Empty(t, out.Trace)
}

func TestRunKey_Error(t *testing.T) {
	errSync := errors.New("delta token expired")

	out := runKey(context.Background(), "O365_folders|u1", func(context.Context) (KeyOutcome, error) {
		return KeyOutcome{Emitted: 1}, fmt.Errorf("fetching: %w", errSync)
	})

	assert.ErrorIs(t, out.Err, errSync)
	assert.Equal(t, 1, out.Emitted)
	assert.Contains(t, out.Trace, "caused by: *errors.errorString: delta token expired")
}

func TestRunKey_Panic(t *testing.T) {
	out := runKey(context.Background(), "O365_messages|u1|f1", func(context.Context) (KeyOutcome, error) {
		panic("nil pointer dereference in handler")
	})

	assert.Equal(t, "O365_messages|u1|f1", out.Key)
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "panic")
	assert.Contains(t, out.Err.Error(), "nil pointer dereference in handler")
	assert.Contains(t, out.Trace, "runtime/debug.Stack")
}

func TestRunKey_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := runKey(ctx, "O365_users_delta", func(c context.Context) (KeyOutcome, error) {
		return KeyOutcome{}, c.Err()
	})

	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestErrorTrace_Joined(t *testing.T) {
	err := fmt.Errorf("outer: %w", errors.Join(errors.New("a"), errors.New("b")))

	trace := errorTrace(err)

	assert.Contains(t, trace, "outer: a\nb")
	assert.Contains(t, trace, "    caused by: *errors.errorString: a")
	assert.Contains(t, trace, "    caused by: *errors.errorString: b")
}

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		failures int
		want     string
	}{
		{0, "0s"},
		{2, "0s"},
		{3, "1m0s"},
		{4, "5m0s"},
		{5, "15m0s"},
		{6, "1h0m0s"},
		{100, "1h0m0s"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.failures), func(t *testing.T) {
			assert.Equal(t, tt.want, backoffDuration(tt.failures).String())
		})
	}
}
