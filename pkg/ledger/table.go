package ledger

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// table is a fixed-capacity map from subject id to record. Membership changes
// take the lock of one shard for a single map operation; capacity is reserved
// with a CAS on a shared counter, so a full table rejects inserts without
// waiting on anyone.
type table struct {
	shards   []shard
	shift    uint32
	capacity int64
	size     atomic.Int64
}

type shard struct {
	mu sync.RWMutex
	m  map[uint32]*record
	// keep neighbouring shard locks off the same cache line
	_ [40]byte
}

func newTable(capacity, shards int) *table {
	if shards < 1 {
		shards = 1
	}
	// round up to a power of two so the shard index is a shift
	n := 1 << bits.Len(uint(shards-1))
	t := &table{
		shards:   make([]shard, n),
		shift:    uint32(32 - bits.Len(uint(n-1))),
		capacity: int64(capacity),
	}
	perShard := capacity/n + 1
	for i := range t.shards {
		t.shards[i].m = make(map[uint32]*record, perShard)
	}
	return t
}

func (t *table) shardFor(id uint32) *shard {
	if len(t.shards) == 1 {
		return &t.shards[0]
	}
	// Fibonacci hashing spreads sequential pids across shards.
	return &t.shards[(id*2654435769)>>t.shift]
}

func (t *table) reserve() bool {
	for {
		n := t.size.Load()
		if n >= t.capacity {
			return false
		}
		if t.size.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (t *table) release() { t.size.Add(-1) }

func (t *table) get(id uint32) *record {
	s := t.shardFor(id)
	s.mu.RLock()
	r := s.m[id]
	s.mu.RUnlock()
	return r
}

// getOrInsert returns the record for id, inserting mk() when absent. created
// reports whether this call inserted; a nil record means the table is full.
func (t *table) getOrInsert(id uint32, mk func() *record) (r *record, created bool) {
	if r := t.get(id); r != nil {
		return r, false
	}
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.m[id]; r != nil {
		return r, false
	}
	if !t.reserve() {
		return nil, false
	}
	r = mk()
	s.m[id] = r
	return r, true
}

// replace installs r for id, overwriting any previous generation. It fails
// only when id is absent and the table is full.
func (t *table) replace(id uint32, r *record) bool {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; !ok && !t.reserve() {
		return false
	}
	s.m[id] = r
	return true
}

func (t *table) remove(id uint32) bool {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[id]; !ok {
		return false
	}
	delete(s.m, id)
	t.release()
	return true
}

// removeIf deletes id only while it still maps to r, so a sweep cannot drop a
// generation that replaced the one it inspected.
func (t *table) removeIf(id uint32, r *record) bool {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[id] != r {
		return false
	}
	delete(s.m, id)
	t.release()
	return true
}

// each visits a shard-by-shard copy of the table; records inserted or removed
// during the walk may or may not be seen.
func (t *table) each(fn func(id uint32, r *record)) {
	var batch []*record
	var ids []uint32
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		batch, ids = batch[:0], ids[:0]
		for id, r := range s.m {
			ids = append(ids, id)
			batch = append(batch, r)
		}
		s.mu.RUnlock()
		for j, r := range batch {
			fn(ids[j], r)
		}
	}
}

func (t *table) len() int { return int(t.size.Load()) }
