package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsHooksInReverseOrder(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("writer", func(context.Context) error { order = append(order, "writer"); return nil })
	m.Register("broken", func(context.Context) error { order = append(order, "broken"); return errors.New("boom") })

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"broken", "writer", "store"}, order)
}

func TestWorkersReportFailures(t *testing.T) {
	m := New(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	m.Go(ctx, "feed", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m.Go(ctx, "drain", func(context.Context) error { return errors.New("bucket missing") })
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	err := m.Wait(waitCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain: bucket missing")
	assert.NotContains(t, err.Error(), "feed")
}
