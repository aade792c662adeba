package ledger

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/types"
)

func newTestLedger(t *testing.T, capacity int) (*Ledger, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(1_000)
	return New(Options{MaxSubjects: capacity, Shards: 8, Clock: clk}), clk
}

// TestLedger_DiskWaitLifecycle walks a subject from start through exit and
// lazy re-creation.
func TestLedger_DiskWaitLifecycle(t *testing.T) {
	l, _ := newTestLedger(t, 16)

	require.True(t, l.OnStart(7, 0, "postgres"))
	for i := 0; i < 3; i++ {
		require.True(t, l.RecordEvent(7, types.DiskWait, 500_000, Strict))
	}

	rec, ok := l.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, uint64(1_500_000), rec.Duration(types.DiskWait))
	assert.Equal(t, uint64(1_500_000), rec.Total)
	assert.Equal(t, uint64(3), rec.Count(types.DiskWait))
	assert.Equal(t, "postgres", rec.Comm)
	assert.Equal(t, uint32(7), rec.GroupID)

	l.OnExit(7)
	_, ok = l.Lookup(7)
	assert.False(t, ok)

	fresh, ok := l.EnsureEntry(7)
	require.True(t, ok)
	assert.Zero(t, fresh.Duration(types.DiskWait))
	assert.Zero(t, fresh.Total)
	assert.NotEqual(t, rec.Generation, fresh.Generation)
}

// TestLedger_ConcurrentTotalsAreExact checks that total equals the sum of all
// applied increments once writers quiesce.
func TestLedger_ConcurrentTotalsAreExact(t *testing.T) {
	l, _ := newTestLedger(t, 64)
	require.True(t, l.OnStart(42, 1, "worker"))

	const writers = 32
	const perWriter = 500
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			c := types.Category(w % types.NumCategories)
			for i := 0; i < perWriter; i++ {
				l.RecordEvent(42, c, int64(w+1), Strict)
			}
		}(w)
	}
	wg.Wait()

	rec, ok := l.Lookup(42)
	require.True(t, ok)

	var want uint64
	for w := 0; w < writers; w++ {
		want += uint64((w + 1) * perWriter)
	}
	assert.Equal(t, want, rec.Total)
	assert.Equal(t, want, rec.CategorySum())
}

// TestLedger_ConcurrentEnsureCreatesOnce races many creators on one unseen id.
func TestLedger_ConcurrentEnsureCreatesOnce(t *testing.T) {
	l, _ := newTestLedger(t, 8)

	const racers = 64
	gens := make([]uint64, racers)
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func(i int) {
			defer wg.Done()
			rec, ok := l.EnsureEntry(99)
			if ok {
				gens[i] = rec.Generation
			}
		}(i)
	}
	wg.Wait()

	for _, g := range gens {
		assert.Equal(t, gens[0], g)
	}
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, uint64(1), l.Counters().Created)
}

// TestLedger_StartResetsGeneration verifies no leakage across generations.
func TestLedger_StartResetsGeneration(t *testing.T) {
	l, _ := newTestLedger(t, 4)

	require.True(t, l.OnStart(5, 0, "a"))
	l.RecordEvent(5, types.LockWait, 1_000, Strict)
	l.RecordEvent(5, types.Execution, 2_000, Strict)
	first, _ := l.Lookup(5)

	require.True(t, l.OnStart(5, 0, "b"))
	l.RecordEvent(5, types.NetworkWait, 300, Strict)

	rec, ok := l.Lookup(5)
	require.True(t, ok)
	assert.Greater(t, rec.Generation, first.Generation)
	assert.Zero(t, rec.Duration(types.LockWait))
	assert.Zero(t, rec.Duration(types.Execution))
	assert.Equal(t, uint64(300), rec.Duration(types.NetworkWait))
	assert.Equal(t, uint64(300), rec.Total)
	assert.Equal(t, "b", rec.Comm)
	assert.Equal(t, 1, l.Len())
}

// TestLedger_ExitIsIdempotent covers double exit followed by both creation variants.
func TestLedger_ExitIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(t, 4)
	require.True(t, l.OnStart(3, 0, "job"))
	l.RecordEvent(3, types.IOWait, 10, Strict)

	l.OnExit(3)
	l.OnExit(3)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, uint64(1), l.Counters().Removed)

	t.Run("strict", func(t *testing.T) {
		assert.False(t, l.RecordEvent(3, types.IOWait, 10, Strict))
		_, ok := l.Lookup(3)
		assert.False(t, ok)
		assert.Equal(t, uint64(1), l.Counters().AbsentDrops)
	})

	t.Run("lazy", func(t *testing.T) {
		require.True(t, l.RecordEvent(3, types.IOWait, 10, Lazy))
		rec, ok := l.Lookup(3)
		require.True(t, ok)
		assert.Equal(t, uint64(10), rec.Duration(types.IOWait))
		assert.Equal(t, uint64(10), rec.Total)
	})
}

// TestLedger_CapacityIsBounded inserts N+1 distinct ids into a table of size N.
func TestLedger_CapacityIsBounded(t *testing.T) {
	const n = 32
	l, _ := newTestLedger(t, n)

	for id := uint32(1); id <= n; id++ {
		require.True(t, l.OnStart(id, 0, "p"))
		require.True(t, l.RecordEvent(id, types.CPUWait, int64(id), Strict))
	}

	_, ok := l.EnsureEntry(n + 1)
	assert.False(t, ok)
	assert.False(t, l.OnStart(n+2, 0, "late"))
	assert.False(t, l.RecordEvent(n+3, types.CPUWait, 1, Lazy))
	assert.Equal(t, n, l.Len())
	assert.Equal(t, uint64(3), l.Counters().CapacityDrops)

	for id := uint32(1); id <= n; id++ {
		rec, ok := l.Lookup(id)
		require.True(t, ok, "pid %d", id)
		assert.Equal(t, uint64(id), rec.Duration(types.CPUWait))
	}

	// restarting a tracked id at capacity overwrites in place
	assert.True(t, l.OnStart(1, 0, "again"))
	assert.Equal(t, n, l.Len())

	// freeing a slot admits a new subject
	l.OnExit(2)
	_, ok = l.EnsureEntry(n + 1)
	assert.True(t, ok)
}

// TestLedger_ConcurrentCapacity races more creators than slots.
func TestLedger_ConcurrentCapacity(t *testing.T) {
	const n = 100
	l, _ := newTestLedger(t, n)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := uint32(g*50 + i)
				l.EnsureEntry(id)
				if i%3 == 0 {
					l.OnExit(id)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, l.Len(), n)
	assert.Equal(t, l.Len(), len(l.IDs()))
}

func TestLedger_ImplausibleAmounts(t *testing.T) {
	clk := clock.NewManual(0)
	l := New(Options{MaxSubjects: 4, MaxDelta: time.Second, Clock: clk})
	require.True(t, l.OnStart(1, 0, "x"))

	assert.False(t, l.RecordEvent(1, types.Execution, -5, Strict))
	assert.False(t, l.RecordEvent(1, types.Category(200), 5, Strict))
	assert.True(t, l.RecordEvent(1, types.Execution, int64(time.Hour), Strict))

	rec, _ := l.Lookup(1)
	assert.Equal(t, uint64(time.Second), rec.Duration(types.Execution))
	assert.Equal(t, uint64(time.Second), rec.Total)

	c := l.Counters()
	assert.Equal(t, uint64(2), c.ImplausibleDrops)
	assert.Equal(t, uint64(1), c.Clamped)
}

func TestLedger_LastUpdateStamped(t *testing.T) {
	l, clk := newTestLedger(t, 4)
	require.True(t, l.OnStart(1, 0, "x"))
	created, _ := l.Lookup(1)
	assert.Equal(t, int64(1_000), created.CreatedNs)
	assert.Equal(t, int64(1_000), created.LastUpdate)

	clk.Advance(time.Millisecond)
	l.RecordEvent(1, types.GPUWait, 1, Strict)
	rec, _ := l.Lookup(1)
	assert.Equal(t, int64(1_000)+int64(time.Millisecond), rec.LastUpdate)
	assert.Equal(t, created.CreatedNs, rec.CreatedNs)
}

func TestLedger_SweepRemovesOnlyStale(t *testing.T) {
	l, clk := newTestLedger(t, 8)
	l.OnStart(1, 0, "old")
	l.OnStart(2, 0, "busy")

	clk.Advance(10 * time.Second)
	l.RecordEvent(2, types.Execution, 1, Strict)

	assert.Zero(t, l.Sweep(0))
	assert.Equal(t, 1, l.Sweep(5*time.Second))
	assert.Equal(t, []uint32{2}, l.IDs())
	assert.Equal(t, uint64(1), l.Counters().Swept)
}

func TestLedger_SweepFuncKeepsVetoed(t *testing.T) {
	l, clk := newTestLedger(t, 8)
	for _, id := range []uint32{1, 2, 3} {
		l.OnStart(id, id, "idle")
	}
	clk.Advance(time.Minute)

	removed := l.SweepFunc(time.Second, func(id uint32) bool { return id == 2 })
	assert.Equal(t, 2, removed)
	assert.Equal(t, []uint32{2}, l.IDs())
}

func TestLedger_SnapshotAndIDs(t *testing.T) {
	l, _ := newTestLedger(t, 8)
	for _, id := range []uint32{30, 10, 20} {
		l.OnStart(id, 0, "p")
	}
	assert.Equal(t, []uint32{10, 20, 30}, l.IDs())
	assert.Len(t, l.Snapshot(), 3)
	assert.Equal(t, 8, l.Capacity())
}
