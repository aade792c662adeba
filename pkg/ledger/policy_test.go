package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srodi/waitlens/pkg/clock"
	"github.com/srodi/waitlens/pkg/types"
)

// TestDefaultPolicy_EveryKindRouted makes sure no producer kind falls through.
func TestDefaultPolicy_EveryKindRouted(t *testing.T) {
	p := DefaultPolicy()
	for _, kind := range types.EventKinds() {
		_, ok := p.Rule(kind)
		assert.True(t, ok, "kind %s has no rule", kind)
	}
	_, ok := p.Rule(types.KindUnknown)
	assert.False(t, ok)
}

func TestApply_EstimatedKinds(t *testing.T) {
	cases := []struct {
		kind     types.EventKind
		category types.Category
		want     uint64
	}{
		{types.KindBlockIssue, types.DiskWait, 500_000},
		{types.KindIOSubmit, types.IOWait, 400_000},
		{types.KindNetQueue, types.NetworkWait, 300_000},
		{types.KindFutex, types.LockWait, 200_000},
		{types.KindMmap, types.MemoryWait, 150_000},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
			l.Apply(types.Event{Kind: types.KindStart, PID: 11, Comm: "svc"})
			// payload is ignored for estimated kinds
			l.Apply(types.Event{Kind: tc.kind, PID: 11, Payload: 123})

			rec, ok := l.Lookup(11)
			require.True(t, ok)
			assert.Equal(t, tc.want, rec.Duration(tc.category))
			assert.Equal(t, tc.want, rec.Total)
		})
	}
}

func TestApply_StrictKindsIgnoreUntracked(t *testing.T) {
	l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
	l.Apply(types.Event{Kind: types.KindBlockIssue, PID: 8})
	l.Apply(types.Event{Kind: types.KindSwitchOut, PID: 8, Payload: 10})

	assert.Zero(t, l.Len())
	assert.Equal(t, uint64(2), l.Counters().AbsentDrops)
}

func TestApply_SwitchInCreatesLazily(t *testing.T) {
	l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
	l.Apply(types.Event{Kind: types.KindSwitchIn, PID: 9, GroupID: 3, Comm: "nginx", Timestamp: 77})

	rec, ok := l.Lookup(9)
	require.True(t, ok)
	assert.Equal(t, "nginx", rec.Comm)
	assert.Equal(t, uint32(3), rec.GroupID)
	assert.Equal(t, int64(77), rec.CreatedNs)
	assert.Zero(t, rec.Total)

	// a second switch-in does not reset anything
	l.Apply(types.Event{Kind: types.KindSwitchOut, PID: 9, Payload: 250})
	l.Apply(types.Event{Kind: types.KindSwitchIn, PID: 9, Comm: "other"})
	rec, _ = l.Lookup(9)
	assert.Equal(t, uint64(250), rec.Duration(types.Execution))
	assert.Equal(t, "nginx", rec.Comm)
}

func TestApply_MeasuredKinds(t *testing.T) {
	l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
	l.Apply(types.Event{Kind: types.KindStart, PID: 1})

	l.Apply(types.Event{Kind: types.KindSwitchOut, PID: 1, Payload: 0})
	l.Apply(types.Event{Kind: types.KindSwitchOut, PID: 1, Payload: 2_500})
	l.Apply(types.Event{Kind: types.KindStatWait, PID: 1, Payload: 0})
	l.Apply(types.Event{Kind: types.KindStatWait, PID: 1, Payload: 9_000})
	l.Apply(types.Event{Kind: types.KindStatWait, PID: 1, Payload: -1})
	l.Apply(types.Event{Kind: types.KindOther, PID: 1, Payload: 4})

	rec, _ := l.Lookup(1)
	assert.Equal(t, uint64(time.Millisecond)+2_500, rec.Duration(types.Execution))
	assert.Equal(t, uint64(2), rec.Count(types.Execution))
	assert.Equal(t, uint64(9_000), rec.Duration(types.CPUWait))
	assert.Equal(t, uint64(1), rec.Count(types.CPUWait))
	assert.Equal(t, uint64(4), rec.Duration(types.OtherWait))
	assert.Equal(t, uint64(1), l.Counters().ImplausibleDrops)
}

func TestApply_GPUWaitIsLazy(t *testing.T) {
	l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
	l.Apply(types.Event{Kind: types.KindGPUWait, PID: 12, Payload: 1_000})

	rec, ok := l.Lookup(12)
	require.True(t, ok)
	assert.Equal(t, uint64(1_000), rec.Duration(types.GPUWait))
}

func TestApply_PageFaultsChargePerFault(t *testing.T) {
	l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
	l.Apply(types.Event{Kind: types.KindStart, PID: 2})
	l.Apply(types.Event{Kind: types.KindPageFaults, PID: 2, Payload: 10})
	l.Apply(types.Event{Kind: types.KindPageFaults, PID: 2, Payload: 0})

	rec, _ := l.Lookup(2)
	assert.Equal(t, uint64(20*time.Microsecond), rec.Duration(types.MemoryWait))
	// one polled batch of ten faults counts as ten occurrences
	assert.Equal(t, uint64(10), rec.Count(types.MemoryWait))

	l.Apply(types.Event{Kind: types.KindMmap, PID: 2})
	rec, _ = l.Lookup(2)
	assert.Equal(t, uint64(11), rec.Count(types.MemoryWait))
}

func TestApply_StartAndExit(t *testing.T) {
	l := New(Options{MaxSubjects: 4, Clock: clock.NewManual(1)})
	l.Apply(types.Event{Kind: types.KindStart, PID: 4, GroupID: 1, Comm: "a-very-long-command-name"})
	rec, ok := l.Lookup(4)
	require.True(t, ok)
	assert.Equal(t, "a-very-long-com", rec.Comm)
	assert.Equal(t, uint32(1), rec.GroupID)

	l.Apply(types.Event{Kind: types.KindExit, PID: 4})
	l.Apply(types.Event{Kind: types.KindExit, PID: 4})
	assert.Zero(t, l.Len())

	l.Apply(types.Event{Kind: types.KindUnknown, PID: 4})
	assert.Equal(t, uint64(1), l.Counters().ImplausibleDrops)
}

func TestPolicy_WithEstimates(t *testing.T) {
	p, err := DefaultPolicy().WithEstimates(map[string]time.Duration{
		"block_issue": time.Millisecond,
	})
	require.NoError(t, err)

	l := New(Options{MaxSubjects: 4, Policy: &p, Clock: clock.NewManual(1)})
	l.OnStart(1, 0, "db")
	l.Apply(types.Event{Kind: types.KindBlockIssue, PID: 1})
	rec, _ := l.Lookup(1)
	assert.Equal(t, uint64(time.Millisecond), rec.Duration(types.DiskWait))

	// the default policy is left alone
	r, _ := DefaultPolicy().Rule(types.KindBlockIssue)
	assert.Equal(t, 500*time.Microsecond, r.Estimate)

	_, err = DefaultPolicy().WithEstimates(map[string]time.Duration{"exit": time.Second})
	assert.Error(t, err)
	_, err = DefaultPolicy().WithEstimates(map[string]time.Duration{"bogus": time.Second})
	assert.Error(t, err)
	_, err = DefaultPolicy().WithEstimates(map[string]time.Duration{"futex": -time.Second})
	assert.Error(t, err)
}
