//go:build linux

package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/srodi/waitlens/pkg/types"
)

// eventsObjects mirrors the programs and maps in bpf/events.bpf.c.
type eventsObjects struct {
	HandleExec       *ebpf.Program `ebpf:"handle_exec"`
	HandleExit       *ebpf.Program `ebpf:"handle_exit"`
	HandleSchedSwtch *ebpf.Program `ebpf:"handle_sched_switch"`
	HandleStatWait   *ebpf.Program `ebpf:"handle_stat_wait"`
	HandleBlockIssue *ebpf.Program `ebpf:"handle_block_rq_issue"`
	HandleIOSubmit   *ebpf.Program `ebpf:"handle_io_submit"`
	HandleNetQueue   *ebpf.Program `ebpf:"handle_net_dev_queue"`
	HandleFutex      *ebpf.Program `ebpf:"handle_futex"`
	HandleMmap       *ebpf.Program `ebpf:"handle_mmap"`

	Events *ebpf.Map `ebpf:"events"`
}

func (o *eventsObjects) Close() error {
	var err error
	for _, p := range []*ebpf.Program{
		o.HandleExec, o.HandleExit, o.HandleSchedSwtch, o.HandleStatWait, o.HandleBlockIssue,
		o.HandleIOSubmit, o.HandleNetQueue, o.HandleFutex, o.HandleMmap,
	} {
		if p != nil {
			err = errors.Join(err, p.Close())
		}
	}
	if o.Events != nil {
		err = errors.Join(err, o.Events.Close())
	}
	return err
}

type attachment struct {
	group, name string
	prog        *ebpf.Program
	// optional tracepoints may be missing on some kernels (sched_stat_wait
	// needs schedstats); they are skipped with a warning.
	optional bool
}

// Collector owns the eBPF programs that emit subject events into a ring buffer.
type Collector struct {
	objs   eventsObjects
	links  []link.Link
	reader *ringbuf.Reader
	log    *slog.Logger

	closeOnce    sync.Once
	closeErr     error
	decodeErrors atomic.Uint64
}

// NewCollector loads the compiled object at objectPath and attaches every tracepoint.
func NewCollector(objectPath string, log *slog.Logger) (*Collector, error) {
	if log == nil {
		log = slog.Default()
	}
	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, fmt.Errorf("loading bpf spec %s: %w", objectPath, err)
	}
	var objs eventsObjects
	if err := spec.LoadAndAssign(&objs, nil); err != nil {
		return nil, fmt.Errorf("loading bpf objects: %w", err)
	}

	c := &Collector{objs: objs, log: log}
	for _, a := range []attachment{
		{"sched", "sched_process_exec", objs.HandleExec, false},
		{"sched", "sched_process_exit", objs.HandleExit, false},
		{"sched", "sched_switch", objs.HandleSchedSwtch, false},
		{"sched", "sched_stat_wait", objs.HandleStatWait, true},
		{"block", "block_rq_issue", objs.HandleBlockIssue, true},
		{"syscalls", "sys_enter_io_submit", objs.HandleIOSubmit, true},
		{"net", "net_dev_queue", objs.HandleNetQueue, true},
		{"syscalls", "sys_enter_futex", objs.HandleFutex, true},
		{"syscalls", "sys_enter_mmap", objs.HandleMmap, true},
	} {
		tp, err := link.Tracepoint(a.group, a.name, a.prog, nil)
		if err != nil {
			if a.optional {
				log.Warn("events: tracepoint unavailable, skipping", "tracepoint", a.group+"/"+a.name, "error", err)
				continue
			}
			c.Close()
			return nil, fmt.Errorf("attaching tracepoint %s/%s: %w", a.group, a.name, err)
		}
		c.links = append(c.links, tp)
	}

	rd, err := ringbuf.NewReader(objs.Events)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	c.reader = rd
	log.Info("events: collector attached", "object", objectPath, "tracepoints", len(c.links))
	return c, nil
}

// Run reads events until ctx ends or the collector is closed, passing every
// decoded event to submit. Records that fail to decode are counted and skipped.
func (c *Collector) Run(ctx context.Context, submit func(types.Event) bool) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			c.closeReader()
		case <-stop:
		}
	}()

	for {
		rec, err := c.reader.Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading ring buffer: %w", err)
		}
		ev, err := Decode(rec.RawSample)
		if err != nil {
			if c.decodeErrors.Add(1) == 1 {
				c.log.Warn("events: undecodable record", "error", err)
			}
			continue
		}
		submit(ev)
	}
}

// DecodeErrors counts records that could not be decoded.
func (c *Collector) DecodeErrors() uint64 { return c.decodeErrors.Load() }

func (c *Collector) closeReader() {
	c.closeOnce.Do(func() {
		if c.reader != nil {
			c.closeErr = c.reader.Close()
		}
	})
}

// Close detaches the tracepoints and releases the BPF resources.
func (c *Collector) Close() error {
	c.closeReader()
	err := c.closeErr
	for _, l := range c.links {
		err = errors.Join(err, l.Close())
	}
	c.links = nil
	return errors.Join(err, c.objs.Close())
}
