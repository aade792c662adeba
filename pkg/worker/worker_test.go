package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	s := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	s.RunByDuration(ctx, time.Millisecond, Func{Label: "count", Fn: func(context.Context) error {
		runs.Add(1)
		return errors.New("keeps going")
	}})

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()

	settled := runs.Load()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())
}

func TestScheduler_IgnoresNonPositiveInterval(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	s.RunByDuration(context.Background(), 0, Func{Label: "never", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	s.Wait()
	assert.Zero(t, runs.Load())
}
