package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/ledger"
	"github.com/srodi/waitlens/pkg/types"
)

type recordingSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *recordingSink) Apply(ev types.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) forPID(pid uint32) []types.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []types.EventKind
	for _, ev := range s.events {
		if ev.PID == pid {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 1, 2, nil)

	assert.True(t, d.Submit(types.Event{Kind: types.KindStart, PID: 1}))
	assert.True(t, d.Submit(types.Event{Kind: types.KindFutex, PID: 1}))
	assert.False(t, d.Submit(types.Event{Kind: types.KindExit, PID: 1}))
	assert.Equal(t, uint64(2), d.Submitted())
	assert.Equal(t, uint64(1), d.Dropped())

	// queued events are still applied on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, []types.EventKind{types.KindStart, types.KindFutex}, sink.forPID(1))
}

func TestDispatcher_PreservesPerPIDOrder(t *testing.T) {
	sink := &recordingSink{}
	d := NewDispatcher(sink, 4, 1024, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for pid := uint32(1); pid <= 8; pid++ {
		for i := 0; i < 50; i++ {
			kind := types.KindFutex
			switch i {
			case 0:
				kind = types.KindStart
			case 49:
				kind = types.KindExit
			}
			for !d.Submit(types.Event{Kind: kind, PID: pid}) {
				time.Sleep(time.Millisecond)
			}
		}
	}
	require.Eventually(t, func() bool {
		return len(sink.forPID(8)) == 50
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for pid := uint32(1); pid <= 8; pid++ {
		kinds := sink.forPID(pid)
		require.Len(t, kinds, 50)
		assert.Equal(t, types.KindStart, kinds[0])
		assert.Equal(t, types.KindExit, kinds[49])
	}
}

func TestDispatcher_FeedsLedger(t *testing.T) {
	l := ledger.New(ledger.Options{MaxSubjects: 16, Clock: clock.NewManual(1)})
	d := NewDispatcher(l, 2, 16, nil)

	d.Submit(types.Event{Kind: types.KindStart, PID: 7, Comm: "dd"})
	d.Submit(types.Event{Kind: types.KindBlockIssue, PID: 7})
	d.Submit(types.Event{Kind: types.KindBlockIssue, PID: 7})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	rec, ok := l.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000_000), rec.Duration(types.DiskWait))
	assert.Equal(t, "dd", rec.Comm)
}
