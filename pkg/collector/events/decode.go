// Package events turns kernel occurrences into ledger events.
package events

import (
	"encoding/binary"
	"fmt"

	"github.com/srodi/waitlens/pkg/procfs"
	"github.com/srodi/waitlens/pkg/types"
)

// RawEventSize is the size of struct event in bpf/events.bpf.c.
const RawEventSize = 48

// Layout of struct event:
//
//	0  u32 kind
//	4  u32 pid
//	8  u32 tgid
//	12 u32 pad
//	16 u64 ts_ns
//	24 s64 payload
//	32 char comm[16]
const (
	offKind    = 0
	offPID     = 4
	offTGID    = 8
	offTS      = 16
	offPayload = 24
	offComm    = 32
)

// Decode parses one ring buffer record.
func Decode(raw []byte) (types.Event, error) {
	if len(raw) < RawEventSize {
		return types.Event{}, fmt.Errorf("short event: %d bytes", len(raw))
	}
	le := binary.LittleEndian
	ev := types.Event{
		Kind:      types.EventKind(le.Uint32(raw[offKind:])),
		PID:       le.Uint32(raw[offPID:]),
		GroupID:   le.Uint32(raw[offTGID:]),
		Timestamp: int64(le.Uint64(raw[offTS:])),
		Payload:   int64(le.Uint64(raw[offPayload:])),
		Comm:      procfs.CStr(raw[offComm:RawEventSize]),
	}
	if !ev.Kind.Valid() {
		return ev, fmt.Errorf("unknown event kind %d", uint32(ev.Kind))
	}
	return ev, nil
}

// Encode is the inverse of Decode; producers in tests and replay tools use it.
func Encode(ev types.Event) []byte {
	raw := make([]byte, RawEventSize)
	le := binary.LittleEndian
	le.PutUint32(raw[offKind:], uint32(ev.Kind))
	le.PutUint32(raw[offPID:], ev.PID)
	le.PutUint32(raw[offTGID:], ev.GroupID)
	le.PutUint64(raw[offTS:], uint64(ev.Timestamp))
	le.PutUint64(raw[offPayload:], uint64(ev.Payload))
	copy(raw[offComm:RawEventSize-1], ev.Comm)
	return raw
}
