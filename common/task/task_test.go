package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGroupSucceeds(t *testing.T) {
	t.Parallel()
	var group Group
	results := make(chan int, 2)
	group.Append("one", func(ctx context.Context) error {
		results <- 1
		return nil
	})
	group.Append("two", func(ctx context.Context) error {
		results <- 2
		return nil
	})
	require.NoError(t, group.Run(context.Background()))
	require.Len(t, results, 2)
}

func TestGroupFailureCancelsOthers(t *testing.T) {
	t.Parallel()
	failure := errors.New("boom")
	var group Group
	group.Append("wait", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	group.Append("fail", func(ctx context.Context) error {
		return failure
	})
	err := group.Run(context.Background())
	require.ErrorIs(t, err, failure)
	require.Contains(t, err.Error(), "fail")
}
